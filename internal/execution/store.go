package execution

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

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

const (
	journalLockTimeout    = 10 * time.Second
	journalLockRetryDelay = 20 * time.Millisecond
)

// Store is the sqlite action journal.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create action journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open action journal: %w", err)
	}
	lock := flock.New(lockPath)
	if err := initJournalSchema(db, lock); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, lock: lock}, nil
}

// initJournalSchema runs under the journal lock so processes opening a fresh
// journal at the same time do not race on the DDL.
func initJournalSchema(db *sql.DB, lock *flock.Flock) error {
	ctx, cancel := context.WithTimeout(context.Background(), journalLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, journalLockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock action journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock action journal: timeout acquiring lock")
	}
	defer func() { _ = lock.Unlock() }()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			action_id TEXT PRIMARY KEY,
			protocol TEXT NOT NULL,
			status TEXT NOT NULL,
			chain TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			created_ms INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_actions_status_updated ON actions(status, updated_ms DESC);",
		"CREATE INDEX IF NOT EXISTS idx_actions_protocol_updated ON actions(protocol, updated_ms DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("init action journal schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the action. Writers from other processes are serialized by
// the journal lock file.
func (s *Store) Save(action Action) error {
	if strings.TrimSpace(action.ActionID) == "" {
		return fmt.Errorf("save action: missing action id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalLockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, journalLockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock action journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock action journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	created := parseTimestampMillis(action.CreatedAt, now)
	updated := parseTimestampMillis(action.UpdatedAt, now)

	_, err = s.db.Exec(`
		INSERT INTO actions (action_id, protocol, status, chain, tx_hash, created_ms, updated_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			status=excluded.status,
			tx_hash=excluded.tx_hash,
			updated_ms=excluded.updated_ms,
			payload=excluded.payload
	`, action.ActionID, action.Protocol, string(action.Status), action.Chain, action.LastTxHash(), created, updated, payload)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

func (s *Store) Get(actionID string) (Action, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM actions WHERE action_id = ?", strings.TrimSpace(actionID)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("action not found: %s", actionID))
		}
		return Action{}, fmt.Errorf("read action: %w", err)
	}
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return Action{}, fmt.Errorf("decode action payload: %w", err)
	}
	return action, nil
}

// ListFilter narrows List; empty fields match everything.
type ListFilter struct {
	Status   string
	Protocol string
	Limit    int
}

func (s *Store) List(filter ListFilter) ([]Action, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.Status); v != "" {
		where = append(where, "status = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Protocol); v != "" {
		where = append(where, "protocol = ?")
		args = append(args, v)
	}
	query := "SELECT payload FROM actions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_ms DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		var action Action
		if err := json.Unmarshal(payload, &action); err != nil {
			return nil, fmt.Errorf("decode action row: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return actions, nil
}

func parseTimestampMillis(v string, fallback int64) int64 {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fallback
	}
	return t.UTC().UnixMilli()
}
