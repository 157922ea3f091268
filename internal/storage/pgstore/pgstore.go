// Package pgstore keeps session keys in a PostgreSQL table and announces changes with
// pg_notify, so client instances that share a database share one login.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/storage"
)

// Channel is the LISTEN/NOTIFY channel shared by all namespaces.
const Channel = "daktari_kv"

// PgxPool is the subset of a Postgres connection pool the store needs.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a query and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Close shuts down the pool and frees resources.
	Close()
}

// NotificationSource delivers raw NOTIFY payloads for a channel.
type NotificationSource interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

type event struct {
	Namespace string `json:"ns"`
	Key       string `json:"key"`
	Removed   bool   `json:"removed,omitempty"`
	Origin    string `json:"origin"`
}

// Store is a PostgreSQL-backed storage.Storage scoped to one namespace.
type Store struct {
	pool      PgxPool
	source    NotificationSource
	namespace string
	id        string
	log       *zap.Logger
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// Connect creates a pgx pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// New returns a Store. source may be nil, in which case Watch is unavailable.
func New(pool PgxPool, source NotificationSource, namespace string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		pool:      pool,
		source:    source,
		namespace: namespace,
		id:        uuid.Must(uuid.NewV4()).String(),
		log:       log,
	}
}

// ID returns the instance id stamped on notifications.
func (s *Store) ID() string { return s.id }

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) notify(ctx context.Context, key string, removed bool) error {
	b, err := json.Marshal(event{Namespace: s.namespace, Key: key, Removed: removed, Origin: s.id})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(b))
	return err
}

// Get selects the value for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `
SELECT value FROM client_kv WHERE namespace=$1 AND key=$2`
	var v string
	err := s.pool.QueryRow(ctx, q, s.namespace, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set upserts the value and notifies listeners.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO client_kv (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, s.namespace, key, value); err != nil {
		return err
	}
	if err := s.notify(ctx, key, false); err != nil {
		s.log.Warn("pg_notify failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete removes keys and notifies listeners about the ones that existed.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `
DELETE FROM client_kv WHERE namespace=$1 AND key = ANY($2) RETURNING key`
	rows, err := s.pool.Query(ctx, q, s.namespace, keys)
	if err != nil {
		return err
	}
	var removed []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return err
		}
		removed = append(removed, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, k := range removed {
		if err := s.notify(ctx, k, true); err != nil {
			s.log.Warn("pg_notify failed", zap.String("key", k), zap.Error(err))
		}
	}
	return nil
}

// Watch forwards notifications for this namespace that other instances produced.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	if s.source == nil {
		return nil, errors.New("pgstore: no notification source configured")
	}
	raw, err := s.source.Listen(ctx, Channel)
	if err != nil {
		return nil, err
	}
	out := make(chan storage.Change, len(storage.SessionKeys)*2)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var c storage.Change
				if payload == "" {
					// listener reconnected; ask the reader to re-check the token
					c = storage.Change{Key: storage.KeyToken}
				} else {
					var ev event
					if err := json.Unmarshal([]byte(payload), &ev); err != nil {
						s.log.Warn("bad notify payload", zap.Error(err))
						continue
					}
					if ev.Namespace != s.namespace || ev.Origin == s.id {
						continue
					}
					c = storage.Change{Key: ev.Key, Removed: ev.Removed, Origin: ev.Origin}
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
