package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleReport(id string, finished time.Time) models.SessionReport {
	return models.SessionReport{
		SessionID: id,
		Task:      "migrate the billing service",
		Status:    models.SessionStatus{Phase: models.PhaseCompleted},
		Workers: []models.WorkerSummary{
			{ID: "junior", Expertise: models.ExpertiseBeginner, Completed: true, Escalations: 2, Output: "done"},
			{ID: "senior", Expertise: models.ExpertiseAdvanced, Completed: true},
		},
		Escalations:   2,
		CacheHits:     1,
		TotalSpentUSD: 4.25,
		StartedAt:     finished.Add(-10 * time.Minute),
		FinishedAt:    finished,
	}
}

func TestSaveAndGetReport(t *testing.T) {
	db := openTestDB(t)

	want := sampleReport("abc123", time.Now().Truncate(time.Second))
	if err := db.SaveReport(want); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := db.GetReport("abc123")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}

	if got.Task != want.Task {
		t.Errorf("task = %q, want %q", got.Task, want.Task)
	}
	if got.Status.Phase != models.PhaseCompleted {
		t.Errorf("phase = %s, want completed", got.Status.Phase)
	}
	if got.Escalations != 2 || got.CacheHits != 1 {
		t.Errorf("counts = %d/%d, want 2/1", got.Escalations, got.CacheHits)
	}
	if got.TotalSpentUSD != 4.25 {
		t.Errorf("spent = %v, want 4.25", got.TotalSpentUSD)
	}
	if len(got.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(got.Workers))
	}
	if got.Workers[0].ID != "junior" || got.Workers[0].Escalations != 2 || !got.Workers[0].Completed {
		t.Errorf("first worker = %+v", got.Workers[0])
	}
	if got.Workers[1].Expertise != models.ExpertiseAdvanced {
		t.Errorf("second worker expertise = %s", got.Workers[1].Expertise)
	}
}

func TestSaveReportReplaces(t *testing.T) {
	db := openTestDB(t)

	report := sampleReport("abc123", time.Now())
	if err := db.SaveReport(report); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	report.Status = models.SessionStatus{Phase: models.PhaseFailed, Reason: "budget_exceeded"}
	report.Workers = report.Workers[:1]
	if err := db.SaveReport(report); err != nil {
		t.Fatalf("SaveReport again: %v", err)
	}

	got, err := db.GetReport("abc123")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Status.Reason != "budget_exceeded" {
		t.Errorf("reason = %q, want budget_exceeded", got.Status.Reason)
	}
	if len(got.Workers) != 1 {
		t.Errorf("workers = %d, want 1 after replace", len(got.Workers))
	}
}

func TestGetReportUnknown(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetReport("missing"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestListRecent(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		if err := db.SaveReport(sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveReport %s: %v", id, err)
		}
	}

	reports, err := db.ListRecent(2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].SessionID != "new" || reports[1].SessionID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", reports[0].SessionID, reports[1].SessionID)
	}
}

func TestPurgeOldSessions(t *testing.T) {
	db := openTestDB(t)

	old := sampleReport("old", time.Now().Add(-48*time.Hour))
	old.StartedAt = time.Now().Add(-49 * time.Hour)
	recent := sampleReport("recent", time.Now())
	for _, r := range []models.SessionReport{old, recent} {
		if err := db.SaveReport(r); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	purged, err := db.PurgeOldSessions(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldSessions: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := db.GetReport("old"); err == nil {
		t.Error("old session should be gone")
	}
	if _, err := db.GetReport("recent"); err != nil {
		t.Errorf("recent session should remain: %v", err)
	}
}
