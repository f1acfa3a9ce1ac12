package storage

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

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding guidance passages, explanations,
// consultations and drafts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "nyaysaathi.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the connection for components that own their own tables, such
// as the retrieval vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
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

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Explanations ---

// SaveExplanation stores e, replacing any explanation with the same hash.
func (s *Store) SaveExplanation(e Explanation) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO explanations (doc_hash, doc_name, model, body, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_hash) DO UPDATE SET doc_name = excluded.doc_name, model = excluded.model,
			body = excluded.body, created_at = excluded.created_at`,
		e.DocHash, e.DocName, e.Model, e.Body, createdAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) GetExplanation(docHash string) (Explanation, error) {
	var e Explanation
	var createdAt string
	err := s.db.QueryRow(`
		SELECT doc_hash, doc_name, model, body, created_at FROM explanations WHERE doc_hash = ?`, docHash,
	).Scan(&e.DocHash, &e.DocName, &e.Model, &e.Body, &createdAt)
	if err == sql.ErrNoRows {
		return Explanation{}, ErrNotFound
	}
	if err != nil {
		return Explanation{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Explanation{}, err
	}
	return e, nil
}

// --- Consultations ---

func (s *Store) SaveConsultation(c Consultation) error {
	sources := c.Sources
	if sources == "" {
		sources = "[]"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO consultations (id, session_id, question, answer, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Question, c.Answer, sources, c.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// RecentConsultations returns up to limit consultations, newest first.
func (s *Store) RecentConsultations(limit int) ([]Consultation, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, question, answer, sources, created_at
		FROM consultations ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Consultation
	for rows.Next() {
		var c Consultation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Question, &c.Answer, &c.Sources, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Drafts ---

func (s *Store) SaveDraft(d Draft) error {
	fields := d.Fields
	if fields == "" {
		fields = "{}"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO drafts (id, kind, fields, html, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, fields, d.HTML, d.Text, d.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) GetDraft(id string) (Draft, error) {
	var d Draft
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, kind, fields, html, text, created_at FROM drafts WHERE id = ?`, id,
	).Scan(&d.ID, &d.Kind, &d.Fields, &d.HTML, &d.Text, &createdAt)
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// ListDrafts returns up to limit drafts, newest first.
func (s *Store) ListDrafts(limit int) ([]Draft, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, fields, html, text, created_at
		FROM drafts ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Draft
	for rows.Next() {
		var d Draft
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Kind, &d.Fields, &d.HTML, &d.Text, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
