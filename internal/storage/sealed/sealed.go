// Package sealed wraps a storage.Storage so that selected keys are encrypted at rest.
package sealed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/daktarihub/daktari-client/internal/crypto/clientcrypto"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/storage"
)

// SaltKey is where the passphrase salt lives in the inner storage. It is not a session key,
// so logout leaves it in place.
const SaltKey = "sealsalt"

const prefix = "sealed:v1:"

// Store encrypts the values of the configured keys before they reach the inner storage.
type Store struct {
	inner  storage.Storage
	master []byte
	sealed map[string]bool
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New wraps inner with a 32-byte master key. keys defaults to the token key.
func New(inner storage.Storage, master []byte, keys ...string) (*Store, error) {
	if len(master) != clientcrypto.KeyLen {
		return nil, fmt.Errorf("sealed: master key must be %d bytes", clientcrypto.KeyLen)
	}
	if len(keys) == 0 {
		keys = []string{storage.KeyToken}
	}
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return &Store{inner: inner, master: master, sealed: m}, nil
}

// FromPassphrase loads (or creates) the salt in inner and derives the master key from passphrase.
func FromPassphrase(ctx context.Context, inner storage.Storage, passphrase string, keys ...string) (*Store, error) {
	if passphrase == "" {
		return nil, errors.New("sealed: empty passphrase")
	}
	raw, ok, err := inner.Get(ctx, SaltKey)
	if err != nil {
		return nil, err
	}
	var salt []byte
	if ok {
		salt, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil || len(salt) != clientcrypto.SaltLen {
			return nil, fmt.Errorf("sealed: bad salt: %w", errs.ErrCorruptStorage)
		}
	} else {
		salt, err = clientcrypto.Rand(clientcrypto.SaltLen)
		if err != nil {
			return nil, err
		}
		if err := inner.Set(ctx, SaltKey, base64.RawStdEncoding.EncodeToString(salt)); err != nil {
			return nil, err
		}
	}
	return New(inner, clientcrypto.DeriveKey([]byte(passphrase), salt), keys...)
}

func (s *Store) subKey(key string) ([]byte, error) {
	return clientcrypto.SubKey(s.master, []byte(key))
}

// Get returns the decrypted value. Values that are not sealed or fail authentication yield
// errs.ErrCorruptStorage.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok || !s.sealed[key] {
		return v, ok, err
	}
	if !strings.HasPrefix(v, prefix) {
		return "", true, fmt.Errorf("sealed: %s is not sealed: %w", key, errs.ErrCorruptStorage)
	}
	blob, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(v, prefix))
	if err != nil {
		return "", true, fmt.Errorf("sealed: %s: %w", key, errs.ErrCorruptStorage)
	}
	k, err := s.subKey(key)
	if err != nil {
		return "", true, err
	}
	pt, err := clientcrypto.Open(k, []byte(key), blob)
	if err != nil {
		return "", true, fmt.Errorf("sealed: open %s: %w", key, errs.ErrCorruptStorage)
	}
	return string(pt), true, nil
}

// Set encrypts value when key is sealed.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if !s.sealed[key] {
		return s.inner.Set(ctx, key, value)
	}
	k, err := s.subKey(key)
	if err != nil {
		return err
	}
	blob, err := clientcrypto.Seal(k, []byte(key), []byte(value))
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, prefix+base64.RawStdEncoding.EncodeToString(blob))
}

// Delete passes through.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

// Watch delegates to the inner storage when it can watch.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	w, ok := s.inner.(storage.Watcher)
	if !ok {
		return nil, errors.New("sealed: inner storage cannot watch")
	}
	return w.Watch(ctx)
}
