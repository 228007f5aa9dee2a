package state

import (
	"fmt"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// SaveReport persists a finished session report and its worker summaries.
// Saving the same session id again replaces the previous rows.
func (db *DB) SaveReport(report models.SessionReport) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, task, phase, reason, escalations, cache_hits, total_spent_usd, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task = excluded.task,
			phase = excluded.phase,
			reason = excluded.reason,
			escalations = excluded.escalations,
			cache_hits = excluded.cache_hits,
			total_spent_usd = excluded.total_spent_usd,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, report.SessionID, report.Task, string(report.Status.Phase), report.Status.Reason,
		report.Escalations, report.CacheHits, report.TotalSpentUSD,
		formatTime(report.StartedAt), formatTime(report.FinishedAt))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("save session %s: %w", report.SessionID, err)
	}

	if _, err := tx.Exec(`DELETE FROM session_workers WHERE session_id = ?`, report.SessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear workers for %s: %w", report.SessionID, err)
	}
	for _, w := range report.Workers {
		_, err := tx.Exec(`
			INSERT INTO session_workers (session_id, worker_id, expertise, completed, escalations, output)
			VALUES (?, ?, ?, ?, ?, ?)
		`, report.SessionID, w.ID, string(w.Expertise), boolInt(w.Completed), w.Escalations, w.Output)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save worker %s: %w", w.ID, err)
		}
	}

	return tx.Commit()
}

// GetReport loads one session report by id.
func (db *DB) GetReport(sessionID string) (models.SessionReport, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	report, err := db.scanSession(db.conn.QueryRow(`
		SELECT id, task, phase, reason, escalations, cache_hits, total_spent_usd, started_at, finished_at
		FROM sessions WHERE id = ?
	`, sessionID))
	if err != nil {
		return models.SessionReport{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	rows, err := db.conn.Query(`
		SELECT worker_id, expertise, completed, escalations, output
		FROM session_workers WHERE session_id = ? ORDER BY worker_id
	`, sessionID)
	if err != nil {
		return models.SessionReport{}, fmt.Errorf("get workers for %s: %w", sessionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var w models.WorkerSummary
		var expertise string
		var completed int
		if err := rows.Scan(&w.ID, &expertise, &completed, &w.Escalations, &w.Output); err != nil {
			return models.SessionReport{}, fmt.Errorf("scan worker: %w", err)
		}
		w.Expertise = models.Expertise(expertise)
		w.Completed = completed != 0
		report.Workers = append(report.Workers, w)
	}
	return report, rows.Err()
}

// ListRecent returns the most recently finished sessions, newest first,
// without worker detail.
func (db *DB) ListRecent(limit int) ([]models.SessionReport, error) {
	if limit <= 0 {
		limit = 10
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, task, phase, reason, escalations, cache_hits, total_spent_usd, started_at, finished_at
		FROM sessions ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var reports []models.SessionReport
	for rows.Next() {
		report, err := db.scanSession(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanSession(row rowScanner) (models.SessionReport, error) {
	var report models.SessionReport
	var phase, started, finished string
	err := row.Scan(&report.SessionID, &report.Task, &phase, &report.Status.Reason,
		&report.Escalations, &report.CacheHits, &report.TotalSpentUSD, &started, &finished)
	if err != nil {
		return models.SessionReport{}, err
	}

	report.Status.Phase = models.Phase(phase)
	if t, err := parseTime(started); err == nil {
		report.StartedAt = t
	}
	if t, err := parseTime(finished); err == nil {
		report.FinishedAt = t
	}
	return report, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
