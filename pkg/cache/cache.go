// Package cache is the station side durable key/value store. Several stations ("tabs") may share
// one file: every write bumps a per-key version and the other tabs hear about it, either directly
// when they share a *Store or by polling with Watch when they live in another process.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// Change describes one write to a key. Origin is the tab that wrote it, or empty when the write
// was discovered by polling.
type Change struct {
	Key    string
	Value  []byte
	Origin string
}

type Listener func(Change)

type subscriber struct {
	origin string
	fn     Listener
}

type Store struct {
	db *sql.DB
	// writer tags the rows this Store wrote so polling never reports them back.
	writer string

	mu       sync.Mutex
	subs     map[int]subscriber
	nextSub  int
	versions map[string]int64
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache")
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, writer: uuid.NewString(), subs: make(map[int]subscriber), versions: make(map[string]int64)}
	if err := s.scan(context.Background(), func(key string, _ []byte, version int64, _ string) {
		s.versions[key] = version
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, version INTEGER NOT NULL, writer TEXT NOT NULL DEFAULT '')`); err != nil {
		return errors.Wrap(err, "failed to create kv table")
	}
	// files written before writer tracking lack the column
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('kv') WHERE name = 'writer'`).Scan(&n); err != nil {
		return errors.Wrap(err, "failed to inspect kv table")
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE kv ADD COLUMN writer TEXT NOT NULL DEFAULT ''`); err != nil {
			return errors.Wrap(err, "failed to add writer column")
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read %s", key)
	}
	return value, true, nil
}

// Put stores value under key and notifies every subscriber except those registered with origin.
func (s *Store) Put(ctx context.Context, origin, key string, value []byte) error {
	return s.update(ctx, origin, key, func([]byte, bool) ([]byte, error) { return value, nil })
}

// update runs a read-modify-write of one key inside a single immediate transaction.
func (s *Store) update(ctx context.Context, origin, key string, fn func(current []byte, ok bool) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin")
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	ok := true
	if err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&current); errors.Is(err, sql.ErrNoRows) {
		ok = false
	} else if err != nil {
		return errors.Wrapf(err, "failed to read %s", key)
	}
	value, err := fn(current, ok)
	if err != nil {
		return err
	}

	var version int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, version, writer) VALUES (?, ?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, version = kv.version + 1, writer = excluded.writer
		RETURNING version`, key, value, s.writer).Scan(&version); err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit")
	}

	s.mu.Lock()
	if version > s.versions[key] {
		s.versions[key] = version
	}
	s.mu.Unlock()
	s.notify(Change{Key: key, Value: value, Origin: origin})
	return nil
}

// Subscribe registers fn for changes not written by origin. The returned func unsubscribes.
func (s *Store) Subscribe(origin string, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{origin: origin, fn: fn}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	var targets []Listener
	for _, sub := range s.subs {
		if c.Origin != "" && sub.origin == c.Origin {
			continue
		}
		targets = append(targets, sub.fn)
	}
	s.mu.Unlock()
	for _, fn := range targets {
		fn(c)
	}
}

// Watch polls the file for keys written by other processes until ctx ends.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				slog.Error("failed to poll cache", "err", err)
			}
		}
	}
}

// Poll notifies subscribers of every key whose version moved since it was last seen. Rows last
// written through this Store are only recorded: their subscribers were told when they were written.
func (s *Store) Poll(ctx context.Context) error {
	var changed []Change
	err := s.scan(ctx, func(key string, value []byte, version int64, writer string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if version > s.versions[key] {
			s.versions[key] = version
			if writer != s.writer {
				changed = append(changed, Change{Key: key, Value: value})
			}
		}
	})
	if err != nil {
		return err
	}
	for _, c := range changed {
		s.notify(c)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, fn func(key string, value []byte, version int64, writer string)) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, version, writer FROM kv`)
	if err != nil {
		return errors.Wrap(err, "failed to scan cache")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value []byte
		var version int64
		var writer string
		if err := rows.Scan(&key, &value, &version, &writer); err != nil {
			return errors.Wrap(err, "failed to scan row")
		}
		fn(key, value, version, writer)
	}
	return errors.Wrap(rows.Err(), "failed to scan cache")
}

// Keys lists every stored key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.scan(ctx, func(key string, _ []byte, _ int64, _ string) { keys = append(keys, key) })
	return keys, err
}

// Tab is a view of the store bound to one writer origin.
type Tab struct {
	store  *Store
	origin string
}

func (s *Store) Tab(origin string) *Tab {
	return &Tab{store: s, origin: origin}
}

func (t *Tab) Origin() string { return t.origin }

func (t *Tab) Store() *Store { return t.store }

func (t *Tab) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.store.Get(ctx, key)
}

func (t *Tab) Put(ctx context.Context, key string, value []byte) error {
	return t.store.Put(ctx, t.origin, key, value)
}

// GetJSON decodes key into v. It reports false, leaving v untouched, when the key is absent.
func (t *Tab) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, ok, err := t.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "failed to decode %s", key)
	}
	return true, nil
}

func (t *Tab) PutJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	return t.Put(ctx, key, raw)
}

// Subscribe listens for changes made by every other tab.
func (t *Tab) Subscribe(fn Listener) func() {
	return t.store.Subscribe(t.origin, fn)
}
