// Package redisstore keeps session keys in Redis and announces changes on a pub/sub channel,
// so client instances on different hosts can share one login.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/storage"
)

const keyPrefix = "daktari:"

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type event struct {
	Key     string `json:"key"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin"`
}

// Store is a Redis-backed storage.Storage scoped to one namespace.
type Store struct {
	rdb       redis.UniversalClient
	namespace string
	id        string
	log       *zap.Logger
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New returns a Store for namespace. Every Store gets its own instance id.
func New(rdb redis.UniversalClient, namespace string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		rdb:       rdb,
		namespace: namespace,
		id:        uuid.Must(uuid.NewV4()).String(),
		log:       log,
	}
}

// ID returns the instance id stamped on published changes.
func (s *Store) ID() string { return s.id }

func (s *Store) key(k string) string { return keyPrefix + s.namespace + ":" + k }

func (s *Store) channel() string { return keyPrefix + s.namespace + ":changes" }

func (s *Store) payload(key string, removed bool) string {
	b, _ := json.Marshal(event{Key: key, Removed: removed, Origin: s.id})
	return string(b)
}

// Get returns the value under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set writes the value and publishes the change in one MULTI block.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(key), value, 0)
		p.Publish(ctx, s.channel(), s.payload(key, false))
		return nil
	})
	return err
}

// Delete removes keys, publishing a removal for each key that existed.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		n, err := s.rdb.Del(ctx, s.key(k)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := s.rdb.Publish(ctx, s.channel(), s.payload(k, true)).Err(); err != nil {
			s.log.Warn("publish removal failed", zap.String("key", k), zap.Error(err))
		}
	}
	return nil
}

// Watch subscribes to the namespace channel and forwards changes published by other instances.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	sub := s.rdb.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan storage.Change, len(storage.SessionKeys)*2)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					s.log.Warn("bad change payload", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				if ev.Origin == s.id {
					continue
				}
				select {
				case out <- storage.Change{Key: ev.Key, Removed: ev.Removed, Origin: ev.Origin}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
