package research

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB stores computed dialogue metrics in SQLite so researchers can query
// them without reparsing every student record.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the metrics database in dataDir and runs
// pending migrations. Pass ":memory:" for tests.
func OpenDB(dataDir string) (*DB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "metrics.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under the export fan-out.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := d.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// SaveMetrics upserts one student's metrics row.
func (d *DB) SaveMetrics(m Metrics) error {
	_, err := d.db.Exec(`INSERT OR REPLACE INTO dialogue_metrics
		(student_id, turns, student_turns, ai_turns, avg_words_student, avg_words_ai, ai_questions, exploration_ratio, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.StudentID, m.Turns, m.StudentTurns, m.AITurns,
		m.AvgWordsStudent, m.AvgWordsAI, m.AIQuestions, m.ExplorationRatio,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving metrics for %s: %w", m.StudentID, err)
	}
	return nil
}

// ListMetrics returns all stored metric rows ordered by student ID.
func (d *DB) ListMetrics() ([]Metrics, error) {
	rows, err := d.db.Query(`SELECT student_id, turns, student_turns, ai_turns,
		avg_words_student, avg_words_ai, ai_questions, exploration_ratio
		FROM dialogue_metrics ORDER BY student_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	defer rows.Close()

	var out []Metrics
	for rows.Next() {
		var m Metrics
		if err := rows.Scan(&m.StudentID, &m.Turns, &m.StudentTurns, &m.AITurns,
			&m.AvgWordsStudent, &m.AvgWordsAI, &m.AIQuestions, &m.ExplorationRatio); err != nil {
			return nil, fmt.Errorf("scanning metrics row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
