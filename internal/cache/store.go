package cache

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage for cached answers.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates a Store at the given database path, creating parent
// directories if needed.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent reads during the session loop.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{db: conn, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Migrate creates the necessary tables and indexes if they don't exist.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM cache_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1CachedAnswers},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO cache_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const migrationV1CachedAnswers = `
CREATE TABLE IF NOT EXISTS cached_answers (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	question_embedding BLOB,
	answer_embedding BLOB,
	approved_by TEXT NOT NULL,
	approved_at DATETIME NOT NULL,
	human_approved INTEGER NOT NULL DEFAULT 1,
	human_modified INTEGER NOT NULL DEFAULT 0,
	original_answer TEXT NOT NULL DEFAULT '',
	times_asked INTEGER NOT NULL DEFAULT 0,
	effectiveness REAL NOT NULL DEFAULT 0,
	eval_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cached_answers_category ON cached_answers(category);
CREATE INDEX IF NOT EXISTS idx_cached_answers_approved ON cached_answers(human_approved);
`

// Insert persists a new record. The approval identity is required: the
// human-approval gate is structural, not optional.
func (s *Store) Insert(rec *CachedAnswer) (string, error) {
	if rec.ApprovedBy == "" {
		return "", &ValidationError{Field: "approved_by", Reason: "approval identity is required"}
	}
	if rec.Question == "" {
		return "", &ValidationError{Field: "question", Reason: "question is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ApprovedAt.IsZero() {
		rec.ApprovedAt = rec.CreatedAt
	}
	rec.HumanApproved = true

	_, err := s.db.Exec(`
		INSERT INTO cached_answers
			(id, question, answer, category, question_embedding, answer_embedding,
			 approved_by, approved_at, human_approved, human_modified, original_answer,
			 times_asked, effectiveness, eval_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, rec.Answer, rec.Category,
		encodeVector(rec.QuestionEmbedding), encodeVector(rec.AnswerEmbedding),
		rec.ApprovedBy, formatTime(rec.ApprovedAt), boolInt(rec.HumanApproved),
		boolInt(rec.HumanModified), rec.OriginalAnswer,
		rec.TimesAsked, rec.Effectiveness, rec.EvalCount, formatTime(rec.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("insert cached answer: %w", err)
	}
	return rec.ID, nil
}

// Get returns the record with the given id, or nil if absent.
func (s *Store) Get(id string) (*CachedAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectColumns+" FROM cached_answers WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListApproved returns every retrieval-eligible record. The corpus is one
// session's worth of approved answers, small enough to rank in memory.
func (s *Store) ListApproved() ([]*CachedAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectColumns + " FROM cached_answers WHERE human_approved = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list approved answers: %w", err)
	}
	defer rows.Close()

	var recs []*CachedAnswer
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordUsage increments times_asked for the record. Side-effect only.
func (s *Store) RecordUsage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE cached_answers SET times_asked = times_asked + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordOutcome folds a new outcome score into the record's running mean
// effectiveness.
func (s *Store) RecordOutcome(id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE cached_answers
		SET eval_count = eval_count + 1,
		    effectiveness = effectiveness + (? - effectiveness) / (eval_count + 1)
		WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ReplaceAnswer overwrites a record's answer with a human correction,
// preserving the original text and the new answer embedding.
func (s *Store) ReplaceAnswer(id, correctedAnswer string, answerEmbedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE cached_answers
		SET original_answer = CASE WHEN human_modified = 0 THEN answer ELSE original_answer END,
		    answer = ?,
		    answer_embedding = ?,
		    human_modified = 1
		WHERE id = ?`, correctedAnswer, encodeVector(answerEmbedding), id)
	if err != nil {
		return fmt.Errorf("replace answer: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, question, answer, category, question_embedding, answer_embedding,
	approved_by, approved_at, human_approved, human_modified, original_answer,
	times_asked, effectiveness, eval_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CachedAnswer, error) {
	var rec CachedAnswer
	var qEmb, aEmb []byte
	var approvedAt, createdAt string
	var approved, modified int

	err := row.Scan(&rec.ID, &rec.Question, &rec.Answer, &rec.Category, &qEmb, &aEmb,
		&rec.ApprovedBy, &approvedAt, &approved, &modified, &rec.OriginalAnswer,
		&rec.TimesAsked, &rec.Effectiveness, &rec.EvalCount, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.HumanApproved = approved != 0
	rec.HumanModified = modified != 0
	rec.QuestionEmbedding = decodeVector(qEmb)
	rec.AnswerEmbedding = decodeVector(aEmb)
	if rec.ApprovedAt, err = parseTime(approvedAt); err != nil {
		return nil, fmt.Errorf("parse approved_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}

// encodeVector packs a float32 vector as a little-endian blob.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian blob into a float32 vector.
func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
