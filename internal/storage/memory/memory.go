// Package memory provides an in-process storage backend shared by several client instances.
//
// Each Client is one instance; writes through one Client are reported to the watchers of every
// other Client, the way a browser reports storage events to every tab except the writer.
package memory

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/daktarihub/daktari-client/internal/storage"
)

const watchBuffer = 16

type subscriber struct {
	origin string
	ch     chan storage.Change
}

// Store is the shared key/value map.
type Store struct {
	mu   sync.Mutex
	data map[string]string
	subs map[*subscriber]struct{}
}

// New creates an empty shared store.
func New() *Store {
	return &Store{data: map[string]string{}, subs: map[*subscriber]struct{}{}}
}

// Client opens a new instance handle with a fresh id.
func (s *Store) Client() *Client {
	return &Client{store: s, id: uuid.Must(uuid.NewV4()).String()}
}

// Snapshot returns a copy of the stored data.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Watchers returns the number of live Watch subscriptions.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notifyLocked fans a change out to every subscriber except the writer.
// A full buffer drops the event: watchers re-read storage, so one pending event is enough.
func (s *Store) notifyLocked(c storage.Change) {
	for sub := range s.subs {
		if sub.origin == c.Origin {
			continue
		}
		select {
		case sub.ch <- c:
		default:
		}
	}
}

// Client is one instance's view of the shared Store.
type Client struct {
	store *Store
	id    string
}

var (
	_ storage.Storage = (*Client)(nil)
	_ storage.Watcher = (*Client)(nil)
)

// ID returns the instance id used as Change.Origin.
func (c *Client) ID() string { return c.id }

// Get returns the value stored under key.
func (c *Client) Get(_ context.Context, key string) (string, bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	v, ok := c.store.data[key]
	return v, ok, nil
}

// Set stores value under key and notifies other instances.
func (c *Client) Set(_ context.Context, key, value string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if old, ok := c.store.data[key]; ok && old == value {
		return nil
	}
	c.store.data[key] = value
	c.store.notifyLocked(storage.Change{Key: key, Origin: c.id})
	return nil
}

// Delete removes keys and notifies other instances about the ones that existed.
func (c *Client) Delete(_ context.Context, keys ...string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, k := range keys {
		if _, ok := c.store.data[k]; !ok {
			continue
		}
		delete(c.store.data, k)
		c.store.notifyLocked(storage.Change{Key: k, Removed: true, Origin: c.id})
	}
	return nil
}

// Watch subscribes to changes made by other instances until ctx is done.
func (c *Client) Watch(ctx context.Context) (<-chan storage.Change, error) {
	sub := &subscriber{origin: c.id, ch: make(chan storage.Change, watchBuffer)}
	c.store.mu.Lock()
	c.store.subs[sub] = struct{}{}
	c.store.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.store.mu.Lock()
		delete(c.store.subs, sub)
		close(sub.ch)
		c.store.mu.Unlock()
	}()
	return sub.ch, nil
}
