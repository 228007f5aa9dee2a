package learning

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// insertAnswer appends a pending record to the ledger.
func (l *Ledger) insertAnswer(rec *EffectivenessRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO answers
			(answer_id, query_id, worker_id, question, category, answer,
			 initial_confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AnswerID, rec.QueryID, rec.WorkerID, rec.Question, rec.Category,
		rec.Answer, rec.InitialConfidence, string(rec.Status), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

// getAnswer returns the record for answerID, or nil if absent.
func (l *Ledger) getAnswer(answerID string) (*EffectivenessRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	row := l.db.QueryRow(`
		SELECT answer_id, query_id, worker_id, question, category, answer,
		       initial_confidence, status, success, time_to_complete,
		       follow_up_count, score, created_at, evaluated_at
		FROM answers WHERE answer_id = ?`, answerID)

	rec, err := scanAnswer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// completeAnswer transitions a record to completed with its outcome and
// final score.
func (l *Ledger) completeAnswer(rec *EffectivenessRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		UPDATE answers
		SET status = ?, success = ?, time_to_complete = ?, follow_up_count = ?,
		    score = ?, evaluated_at = ?
		WHERE answer_id = ?`,
		string(StatusCompleted), boolInt(rec.Success), rec.TimeToComplete,
		rec.FollowUpCount, rec.Score, formatTime(rec.EvaluatedAt), rec.AnswerID)
	if err != nil {
		return fmt.Errorf("complete answer: %w", err)
	}
	return nil
}

// recentEvaluated returns the most recently evaluated records, newest first.
func (l *Ledger) recentEvaluated(limit int) ([]*EffectivenessRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`
		SELECT answer_id, query_id, worker_id, question, category, answer,
		       initial_confidence, status, success, time_to_complete,
		       follow_up_count, score, created_at, evaluated_at
		FROM answers
		WHERE status = 'completed'
		ORDER BY evaluated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent evaluated: %w", err)
	}
	defer rows.Close()

	var recs []*EffectivenessRecord
	for rows.Next() {
		rec, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// completedByCategory returns every completed record in a category.
func (l *Ledger) completedByCategory(category string) ([]*EffectivenessRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`
		SELECT answer_id, query_id, worker_id, question, category, answer,
		       initial_confidence, status, success, time_to_complete,
		       follow_up_count, score, created_at, evaluated_at
		FROM answers
		WHERE status = 'completed' AND category = ?
		ORDER BY evaluated_at`, category)
	if err != nil {
		return nil, fmt.Errorf("query completed by category: %w", err)
	}
	defer rows.Close()

	var recs []*EffectivenessRecord
	for rows.Next() {
		rec, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// upsertPattern inserts or reinforces a pattern, incrementing its counter.
func (l *Ledger) upsertPattern(category string, kind PatternKind, description, suggestion string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO patterns (id, category, kind, description, suggestion, count, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(category, kind, description) DO UPDATE SET
			count = count + 1,
			suggestion = CASE WHEN excluded.suggestion != '' THEN excluded.suggestion ELSE suggestion END,
			updated_at = excluded.updated_at`,
		uuid.New().String()[:8], category, string(kind), description, suggestion,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// topPatterns returns the most reinforced patterns of a kind in a category.
func (l *Ledger) topPatterns(category string, kind PatternKind, limit int) ([]*LearnedPattern, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`
		SELECT id, category, kind, description, suggestion, count, updated_at
		FROM patterns
		WHERE category = ? AND kind = ?
		ORDER BY count DESC, updated_at DESC
		LIMIT ?`, category, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		var kindStr, updatedAt string
		if err := rows.Scan(&p.ID, &p.Category, &kindStr, &p.Description, &p.Suggestion, &p.Count, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Kind = PatternKind(kindStr)
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse pattern updated_at: %w", err)
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// insertCorrection appends a human correction.
func (l *Ledger) insertCorrection(c *Correction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO corrections (id, category, question, original_answer, corrected_answer, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Category, c.Question, c.OriginalAnswer, c.CorrectedAnswer, c.Reason,
		formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

// correctionCount returns how many corrections a category accumulated.
func (l *Ledger) correctionCount(category string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM corrections WHERE category = ?", category).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count corrections: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswer(row rowScanner) (*EffectivenessRecord, error) {
	var rec EffectivenessRecord
	var status, createdAt string
	var success, followUps sql.NullInt64
	var timeToComplete, score sql.NullFloat64
	var evaluatedAt sql.NullString

	err := row.Scan(&rec.AnswerID, &rec.QueryID, &rec.WorkerID, &rec.Question,
		&rec.Category, &rec.Answer, &rec.InitialConfidence, &status,
		&success, &timeToComplete, &followUps, &score, &createdAt, &evaluatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Success = success.Valid && success.Int64 != 0
	rec.TimeToComplete = timeToComplete.Float64
	rec.FollowUpCount = int(followUps.Int64)
	rec.Score = score.Float64
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if evaluatedAt.Valid {
		if rec.EvaluatedAt, err = parseTime(evaluatedAt.String); err != nil {
			return nil, fmt.Errorf("parse evaluated_at: %w", err)
		}
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
