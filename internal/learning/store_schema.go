package learning

// Migrate creates the necessary tables and indexes if they don't exist.
func (l *Ledger) Migrate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS learning_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM learning_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Answers},
		{2, migrationV2Patterns},
		{3, migrationV3Corrections},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := l.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO learning_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Migration SQL statements

const migrationV1Answers = `
CREATE TABLE IF NOT EXISTS answers (
	answer_id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	answer TEXT NOT NULL,
	initial_confidence REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	success INTEGER,
	time_to_complete REAL,
	follow_up_count INTEGER,
	score REAL,
	created_at DATETIME NOT NULL,
	evaluated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_answers_category ON answers(category);
CREATE INDEX IF NOT EXISTS idx_answers_status ON answers(status);
CREATE INDEX IF NOT EXISTS idx_answers_evaluated_at ON answers(evaluated_at);
`

const migrationV2Patterns = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	kind TEXT NOT NULL,
	description TEXT NOT NULL,
	suggestion TEXT NOT NULL DEFAULT '',
	count INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL,
	UNIQUE(category, kind, description)
);

CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category, kind, count DESC);
`

const migrationV3Corrections = `
CREATE TABLE IF NOT EXISTS corrections (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL,
	original_answer TEXT NOT NULL,
	corrected_answer TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_corrections_category ON corrections(category);
`
