package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/storage"
)

// ErrNoWatcher is returned by Run when the store has no change feed.
var ErrNoWatcher = errors.New("session: storage change feed not available")

// Run applies session changes made by other instances until ctx is done. It only looks at
// whether a credential is present: a vanished token ends the local session, a new token
// is adopted. Concurrent writes are not merged.
func (s *Store) Run(ctx context.Context) error {
	if s.watcher == nil {
		return ErrNoWatcher
	}
	ch, err := s.watcher.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if !isSessionKey(c.Key) {
				continue
			}
			s.Reconcile(ctx)
		}
	}
}

func isSessionKey(k string) bool {
	for _, sk := range storage.SessionKeys {
		if k == sk {
			return true
		}
	}
	return false
}

// Reconcile compares storage with the in-memory session once.
func (s *Store) Reconcile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok, err := s.storage.Get(ctx, storage.KeyToken)
	switch {
	case errors.Is(err, errs.ErrCorruptStorage):
		// unreadable here (e.g. sealed with another key) counts as absent
		ok = false
	case err != nil:
		s.log.Warn("reconcile: read token", zap.Error(err))
		return
	}
	present := ok && tok != ""

	switch s.state.Status {
	case model.StatusAuthenticated:
		if !present {
			s.gen++
			s.state = model.Session{Status: model.StatusAnonymous}
			s.publishLocked()
			s.log.Info("session ended by another instance")
			return
		}
		if tok != s.state.Credential {
			s.adoptLocked(ctx)
		}
	case model.StatusAuthenticating:
		switch {
		case !present:
			// the session we would fall back to is gone
			s.prior = model.Session{Status: model.StatusAnonymous}
		case tok != s.prior.Credential:
			// another instance signed in; a failed attempt falls back to that session
			if sess, ok := s.storedLocked(ctx); ok && sess != nil {
				s.prior = *sess
			} else {
				s.prior = model.Session{Status: model.StatusAnonymous}
			}
		}
	default:
		if present {
			s.adoptLocked(ctx)
		}
	}
}

// adoptLocked replaces the in-memory session with the one in storage. When the stored
// session is not usable, an authenticated store ends its session rather than keep a
// credential that is no longer stored.
func (s *Store) adoptLocked(ctx context.Context) {
	sess, ok := s.storedLocked(ctx)
	if !ok {
		return
	}
	if sess == nil {
		if s.state.Status == model.StatusAuthenticated {
			s.gen++
			s.state = model.Session{Status: model.StatusAnonymous}
			s.publishLocked()
			s.log.Info("session replaced by an unusable one in storage")
		}
		return
	}
	s.gen++
	s.state = *sess
	s.publishLocked()
	s.log.Info("session adopted from another instance", zap.String("user_id", sess.User.ID))
}

// storedLocked loads the stored session for reconciliation. Corrupt or expired records are
// cleared and reported as no session. ok is false only when storage could not be read.
func (s *Store) storedLocked(ctx context.Context) (sess *model.Session, ok bool) {
	sess, err := s.loadLocked(ctx)
	switch {
	case errors.Is(err, errs.ErrCorruptStorage), errors.Is(err, errExpired):
		s.log.Warn("reconcile: discarding stored session", zap.Error(err))
		s.clearStorageLocked(ctx)
		return nil, true
	case err != nil:
		s.log.Warn("reconcile: read stored session", zap.Error(err))
		return nil, false
	}
	return sess, true
}
