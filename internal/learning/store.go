// Package learning tracks the effectiveness of every expert answer against
// real worker outcomes, aggregates recurring success and failure shapes into
// learned patterns, and feeds the accumulated experience back into the
// expert's next answer.
package learning

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicateEvaluation indicates an answer was evaluated a second time.
// Each answer is evaluated exactly once; a second call is a programmer
// error, not a user-facing condition.
var ErrDuplicateEvaluation = errors.New("answer already evaluated")

// Status is the lifecycle state of an effectiveness record.
type Status string

const (
	// StatusPending means the answer was emitted but not yet scored.
	StatusPending Status = "pending"
	// StatusCompleted means the outcome arrived and the score is final.
	StatusCompleted Status = "completed"
)

// EffectivenessRecord is one expert answer's ledger entry. The score is
// computed exactly once from the outcome; after that the record is
// immutable (a human correction produces a new correction row, never a
// mutation of this score).
type EffectivenessRecord struct {
	// AnswerID is the opaque id handed back by TrackAnswer.
	AnswerID string
	// QueryID links to the originating escalation.
	QueryID string
	// WorkerID is the worker the answer was for.
	WorkerID string
	// Question is the escalated question text.
	Question string
	// Category is the issue category the answer belongs to.
	Category string
	// Answer is the answer text as given.
	Answer string
	// InitialConfidence is the expert's self-reported confidence in [0,1].
	InitialConfidence float64
	// Status is pending until the outcome is evaluated.
	Status Status
	// Success is whether the worker ultimately succeeded.
	Success bool
	// TimeToComplete is wall-clock seconds from answer to resolution.
	TimeToComplete float64
	// FollowUpCount is how many follow-up questions the worker asked.
	FollowUpCount int
	// Score is the derived effectiveness score in [0,1].
	Score float64
	// CreatedAt is when the answer was tracked.
	CreatedAt time.Time
	// EvaluatedAt is when the outcome was scored.
	EvaluatedAt time.Time
}

// PatternKind distinguishes success shapes from failure shapes.
type PatternKind string

const (
	// PatternSuccess marks a shape that keeps producing good answers.
	PatternSuccess PatternKind = "success"
	// PatternFailure marks a shape that keeps producing bad answers.
	PatternFailure PatternKind = "failure"
)

// LearnedPattern is an aggregated, category-scoped answer shape. Patterns
// are additive: counters only grow, rows are never deleted.
type LearnedPattern struct {
	ID          string
	Category    string
	Kind        PatternKind
	Description string
	// Suggestion is a proposed improvement, set for failure patterns.
	Suggestion string
	// Count is how many records reinforced this pattern.
	Count     int
	UpdatedAt time.Time
}

// Correction is a human override of an expert answer, kept as a learning
// signal distinct from effectiveness scoring.
type Correction struct {
	ID              string
	Category        string
	Question        string
	OriginalAnswer  string
	CorrectedAnswer string
	Reason          string
	CreatedAt       time.Time
}

// Ledger provides SQLite-backed storage for effectiveness records, learned
// patterns, and human corrections.
type Ledger struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewLedger creates a Ledger at the given database path, creating parent
// directories if needed.
func NewLedger(dbPath string) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Ledger{db: conn, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// Path returns the path to the database file.
func (l *Ledger) Path() string {
	return l.dbPath
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
