package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"
)

// CredentialStore persists the session credential across restarts.
type CredentialStore interface {
	Load(ctx context.Context) (Record, bool, error)
	Save(ctx context.Context, r Record) error
	Clear(ctx context.Context) error
}

// ──────────────────────────────────────────────
// SQLite
// ──────────────────────────────────────────────

// SQLiteStore keeps one record per profile in a local SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	profile string
}

func OpenSQLite(path, profile string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			profile TEXT PRIMARY KEY,
			record BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		db.Close()
		return nil, err
	}
	if profile == "" {
		profile = "default"
	}
	return &SQLiteStore{db: db, profile: profile}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM credentials WHERE profile = ?`, s.profile,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	var r Record
	if err := r.UnmarshalBinary(raw); err != nil {
		glog.Warningf("[SESSION] discarding unreadable record for %s: %v", s.profile, err)
		return Record{}, false, nil
	}
	return r, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}
	raw, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (profile, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(profile) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP
	`, s.profile, raw)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, s.profile)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ──────────────────────────────────────────────
// Memory
// ──────────────────────────────────────────────

type MemoryStore struct {
	mu     sync.Mutex
	record *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return Record{}, false, nil
	}
	return *m.record, true, nil
}

func (m *MemoryStore) Save(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = &r
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return nil
}
