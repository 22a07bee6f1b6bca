package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/missionctl/missionctl/internal/board"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the local SQLite cache of board views.
type Store struct {
	db  *sql.DB
	now func() time.Time
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
		dsn = filepath.Join(dataDir, "missionctl.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: the in-memory database lives per connection and
	// the file database avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
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

// --- Board views ---

// SaveBoardView stores v as the cached copy of its board, replacing any
// previous one. Stream statuses are not persisted.
func (s *Store) SaveBoardView(v board.View) error {
	if v.BoardID == "" {
		return fmt.Errorf("saving board view: empty board id")
	}
	v.Streams = nil
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding board view: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO board_snapshots (board_id, board_name, version, view_json, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET
			board_name = excluded.board_name,
			version = excluded.version,
			view_json = excluded.view_json,
			saved_at = excluded.saved_at`,
		v.BoardID, v.Board.Name, int64(v.Version), string(payload),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadBoardView returns the cached view of boardID and when it was saved.
func (s *Store) LoadBoardView(boardID string) (board.View, time.Time, error) {
	var payload, savedAt string
	err := s.db.QueryRow(`SELECT view_json, saved_at FROM board_snapshots WHERE board_id = ?`, boardID).
		Scan(&payload, &savedAt)
	if err == sql.ErrNoRows {
		return board.View{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return board.View{}, time.Time{}, err
	}

	var v board.View
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return board.View{}, time.Time{}, fmt.Errorf("decoding board view %s: %w", boardID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return board.View{}, time.Time{}, fmt.Errorf("parsing saved_at: %w", err)
	}
	return v, t, nil
}

// ListCachedBoards returns the cached boards, most recently saved first.
func (s *Store) ListCachedBoards() ([]CachedBoard, error) {
	rows, err := s.db.Query(`
		SELECT board_id, board_name, version, saved_at
		FROM board_snapshots ORDER BY saved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CachedBoard
	for rows.Next() {
		var c CachedBoard
		var version int64
		var savedAt string
		if err := rows.Scan(&c.BoardID, &c.Name, &version, &savedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing saved_at: %w", err)
		}
		c.Version = uint64(version)
		c.SavedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteBoardView drops the cached copy of boardID.
func (s *Store) DeleteBoardView(boardID string) error {
	res, err := s.db.Exec(`DELETE FROM board_snapshots WHERE board_id = ?`, boardID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
