// Package store persists HTTP TTS engine definitions in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jing332/tts-server-go/internal/httptts"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sahilm/fuzzy"
)

//go:embed schema.sql
var schema string

// FileName is the database file created in the data directory.
const FileName = "engines.db"

// ErrNotFound is returned when no engine matches.
var ErrNotFound = errors.New("engine not found")

// Store is an engine repository. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine database: %w", err)
	}
	if path == ":memory:" {
		// Every new connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize engine database: %w", err)
	}
	log.Debug("Opened engine database", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectEngine = `SELECT id, name, url, method, body, headers, content_type, rate, volume, pitch, timeout_ms FROM engines`

type scanner interface {
	Scan(dest ...any) error
}

func scanEngine(row scanner) (httptts.Engine, error) {
	var (
		e         httptts.Engine
		headers   string
		timeoutMS int64
	)
	err := row.Scan(&e.ID, &e.Name, &e.URL, &e.Method, &e.Body, &headers, &e.ContentType,
		&e.Rate, &e.Volume, &e.Pitch, &timeoutMS)
	if err != nil {
		return httptts.Engine{}, err
	}
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
			return httptts.Engine{}, fmt.Errorf("engine %q has corrupt headers: %w", e.Name, err)
		}
	}
	e.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return e, nil
}

// List returns all engines ordered by name.
func (s *Store) List(ctx context.Context) ([]httptts.Engine, error) {
	rows, err := s.db.QueryContext(ctx, selectEngine+` ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list engines: %w", err)
	}
	defer rows.Close()

	var engines []httptts.Engine
	for rows.Next() {
		e, err := scanEngine(rows)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return engines, rows.Err()
}

// Get returns the engine with the given id.
func (s *Store) Get(ctx context.Context, id int64) (httptts.Engine, error) {
	e, err := scanEngine(s.db.QueryRowContext(ctx, selectEngine+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return httptts.Engine{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return e, err
}

// GetByName returns the engine with exactly this name.
func (s *Store) GetByName(ctx context.Context, name string) (httptts.Engine, error) {
	e, err := scanEngine(s.db.QueryRowContext(ctx, selectEngine+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return httptts.Engine{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, err
}

// Save validates e and inserts it, or replaces the engine with the same
// name. It returns the stored engine with its id set.
func (s *Store) Save(ctx context.Context, e httptts.Engine) (httptts.Engine, error) {
	if err := e.Validate(); err != nil {
		return httptts.Engine{}, err
	}
	headers := "{}"
	if len(e.Headers) > 0 {
		b, err := json.Marshal(e.Headers)
		if err != nil {
			return httptts.Engine{}, fmt.Errorf("failed to encode headers: %w", err)
		}
		headers = string(b)
	}

	const query = `
	INSERT INTO engines (name, url, method, body, headers, content_type, rate, volume, pitch, timeout_ms, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(name) DO UPDATE SET
		url = excluded.url,
		method = excluded.method,
		body = excluded.body,
		headers = excluded.headers,
		content_type = excluded.content_type,
		rate = excluded.rate,
		volume = excluded.volume,
		pitch = excluded.pitch,
		timeout_ms = excluded.timeout_ms,
		updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query, e.Name, e.URL, e.Method, e.Body, headers, e.ContentType,
		e.Rate, e.Volume, e.Pitch, e.Timeout.Milliseconds())
	if err != nil {
		return httptts.Engine{}, fmt.Errorf("failed to save engine %q: %w", e.Name, err)
	}
	return s.GetByName(ctx, e.Name)
}

// Delete removes the engine with this name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM engines WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete engine %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// Find resolves a user-typed engine name: an exact match wins, then a
// case-insensitive match, then the best fuzzy match.
func (s *Store) Find(ctx context.Context, query string) (httptts.Engine, error) {
	if e, err := s.GetByName(ctx, query); err == nil || !errors.Is(err, ErrNotFound) {
		return e, err
	}

	engines, err := s.List(ctx)
	if err != nil {
		return httptts.Engine{}, err
	}
	for _, e := range engines {
		if strings.EqualFold(e.Name, query) {
			return e, nil
		}
	}

	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = e.Name
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return httptts.Engine{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	return engines[matches[0].Index], nil
}
