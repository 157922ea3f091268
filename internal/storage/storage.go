// Package storage defines the durable key/value contract the session store persists to.
//
// Backends are shared between every running instance of the client (CLI processes, hosts
// behind the same Redis or PostgreSQL). No locking is offered; a Watcher only reports that a
// key changed so readers can reconcile.
package storage

import "context"

// Session keys.
const (
	KeyToken   = "token"
	KeyUser    = "user"
	KeyProfile = "profile"
)

// SessionKeys lists every key owned by the session store.
var SessionKeys = []string{KeyToken, KeyUser, KeyProfile}

// Storage is a string-keyed, string-valued durable store.
type Storage interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Change reports a mutation made by another instance.
type Change struct {
	Key     string
	Removed bool
	Origin  string // instance id of the writer, when the backend knows it
}

// Watcher streams changes made by other instances. The channel closes when ctx is done
// or the backend gives up.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}
