package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	lockTimeout    = 10 * time.Second
	lockRetryDelay = 20 * time.Millisecond
)

// Store is a small sqlite-backed TTL cache shared between CLI invocations.
// Gas oracle snapshots and read-only chain queries are kept here.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	// The busy timeout is set per connection through the DSN, so every pooled
	// connection waits for writers in other processes instead of failing.
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	lock := flock.New(lockPath)
	if err := initSchema(db, lock); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, lock: lock, now: time.Now}
	_ = store.Prune()
	return store, nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// initSchema holds the cache lock so concurrent first opens do not race on
// creating the database.
func initSchema(db *sql.DB, lock *flock.Flock) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = lock.Unlock() }()

	const ddl = "CREATE TABLE IF NOT EXISTS chain_cache (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_ms INTEGER NOT NULL, ttl_ms INTEGER NOT NULL);"
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key joins namespace parts, e.g. Key("gas", "1").
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		clean = append(clean, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(clean, ":")
}

// Prune deletes expired entries.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM chain_cache WHERE created_ms + ttl_ms < ?", s.now().UnixMilli()); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get returns the entry for key. A negative maxStale never marks an entry
// too stale.
func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	if s == nil || s.db == nil {
		return Result{}, nil
	}
	var (
		value     []byte
		createdMS int64
		ttlMS     int64
	)
	err := s.db.QueryRow("SELECT value, created_ms, ttl_ms FROM chain_cache WHERE key = ?", key).Scan(&value, &createdMS, &ttlMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := s.now().Sub(time.UnixMilli(createdMS))
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlMS) * time.Millisecond
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlMS := ttl.Milliseconds()
	if ttlMS <= 0 {
		ttlMS = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO chain_cache (key, value, created_ms, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_ms=excluded.created_ms,
			ttl_ms=excluded.ttl_ms
	`, key, value, s.now().UnixMilli(), ttlMS)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// GetJSON decodes a fresh entry into out. Stale or missing entries report
// false.
func GetJSON(s *Store, key string, out any) (bool, error) {
	res, err := s.Get(key, 0)
	if err != nil || !res.Hit || res.Stale {
		return false, err
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

func SetJSON(s *Store, key string, value any, ttl time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.Set(key, buf, ttl)
}
