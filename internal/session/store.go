// Package session owns the authenticated-session lifecycle of a client instance.
//
// The Store is the only component that reads or writes the session keys of durable storage.
// Its state machine:
//
//	anonymous|error --Login/Register--> authenticating --ok--> authenticated
//	                                                   --fail--> error (or the prior session)
//	authenticated --Logout / token removed elsewhere--> anonymous
//
// Storage is written before the in-memory state flips to authenticated, so a caller that
// observes authenticated can rely on storage holding the same session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/storage"
	"github.com/daktarihub/daktari-client/internal/validate"
)

// DefaultLogoutTimeout bounds the best-effort remote logout.
const DefaultLogoutTimeout = 10 * time.Second

// ErrSuperseded is returned by an attempt that finished after a logout ended the session it
// was started from.
var ErrSuperseded = errors.New("session: attempt superseded by logout")

// Backend is the remote half of the session: satisfied by *api.Client.
type Backend interface {
	Login(ctx context.Context, cr model.Credentials) (*model.AuthPayload, error)
	Register(ctx context.Context, r model.Registration) (*model.AuthPayload, error)
	Logout(ctx context.Context, token string) error
	UpdateProfile(ctx context.Context, token string, u model.ProfileUpdate) (*model.ProfilePayload, error)
}

// Result is the outcome of a session operation. Failures are values, never panics.
type Result struct {
	Session  model.Session
	Err      error
	Message  string
	Conflict bool // registration hit an existing identity
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Store is the process-wide session state. Create one per client instance with New.
type Store struct {
	storage       storage.Storage
	backend       Backend
	watcher       storage.Watcher
	log           *zap.Logger
	now           func() time.Time
	logoutTimeout time.Duration

	mu    sync.Mutex
	state model.Session
	prior model.Session // session to fall back to while authenticating
	gen   uint64        // bumped whenever the credential changes
	subs  map[chan model.Session]struct{}
	done  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The credential is never logged.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithWatcher sets the change feed used by Run. Defaults to the storage itself when it
// implements storage.Watcher.
func WithWatcher(w storage.Watcher) Option { return func(s *Store) { s.watcher = w } }

// WithClock overrides time.Now, used for credential expiry checks.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogoutTimeout bounds the remote logout call.
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// New creates the Store and rehydrates it from st. Unparseable stored records are cleared
// and the store starts anonymous; only storage I/O failures are returned as errors.
func New(ctx context.Context, st storage.Storage, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		storage:       st,
		backend:       backend,
		log:           zap.NewNop(),
		now:           time.Now,
		logoutTimeout: DefaultLogoutTimeout,
		state:         model.Session{Status: model.StatusAnonymous},
		subs:          map[chan model.Session]struct{}{},
	}
	if w, ok := st.(storage.Watcher); ok {
		s.watcher = w
	}
	for _, o := range opts {
		o(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked(ctx)
	switch {
	case errors.Is(err, errs.ErrCorruptStorage), errors.Is(err, errExpired):
		s.log.Warn("discarding stored session", zap.Error(err))
		s.clearStorageLocked(ctx)
	case err != nil:
		return nil, fmt.Errorf("session: rehydrate: %w", err)
	case sess != nil:
		s.state = *sess
		s.log.Info("session restored", zap.String("user_id", sess.User.ID), zap.String("role", string(sess.User.Role)))
	}
	return s, nil
}

var errExpired = errors.New("stored credential expired")

// loadLocked reads the stored session. It returns (nil, nil) when no complete session is stored.
func (s *Store) loadLocked(ctx context.Context) (*model.Session, error) {
	tok, hasTok, err := s.storage.Get(ctx, storage.KeyToken)
	if err != nil {
		return nil, err
	}
	rawUser, hasUser, err := s.storage.Get(ctx, storage.KeyUser)
	if err != nil {
		return nil, err
	}
	rawProfile, hasProfile, err := s.storage.Get(ctx, storage.KeyProfile)
	if err != nil {
		return nil, err
	}
	if !hasTok || tok == "" || !hasUser {
		return nil, nil
	}

	var u model.User
	if err := json.Unmarshal([]byte(rawUser), &u); err != nil || u.ID == "" {
		return nil, fmt.Errorf("user record: %w", errs.ErrCorruptStorage)
	}
	var p *model.Profile
	if hasProfile {
		p = &model.Profile{}
		if err := json.Unmarshal([]byte(rawProfile), p); err != nil {
			return nil, fmt.Errorf("profile record: %w", errs.ErrCorruptStorage)
		}
	}
	exp := credentialExpiry(tok)
	if !exp.IsZero() && !s.now().Before(exp) {
		return nil, errExpired
	}
	return &model.Session{
		Status:     model.StatusAuthenticated,
		User:       &u,
		Profile:    p,
		Credential: tok,
		ExpiresAt:  exp,
	}, nil
}

// credentialExpiry returns the exp claim of a JWT credential, zero for opaque tokens.
func credentialExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// writeLocked persists a session. The token goes last so that a reader seeing the token
// also sees the matching user record.
func (s *Store) writeLocked(ctx context.Context, sess model.Session) error {
	u, err := json.Marshal(sess.User)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, storage.KeyUser, string(u)); err != nil {
		return err
	}
	if sess.Profile != nil {
		p, err := json.Marshal(sess.Profile)
		if err != nil {
			return err
		}
		if err := s.storage.Set(ctx, storage.KeyProfile, string(p)); err != nil {
			return err
		}
	} else if err := s.storage.Delete(ctx, storage.KeyProfile); err != nil {
		return err
	}
	return s.storage.Set(ctx, storage.KeyToken, sess.Credential)
}

func (s *Store) clearStorageLocked(ctx context.Context) {
	if err := s.storage.Delete(ctx, storage.SessionKeys...); err != nil {
		s.log.Error("clear session storage", zap.Error(err))
	}
}

// Login authenticates with email and password.
func (s *Store) Login(ctx context.Context, cr model.Credentials) Result {
	if err := validate.Credentials(cr); err != nil {
		return s.rejected(err)
	}
	return s.authenticate(ctx, "login", func(ctx context.Context) (*model.AuthPayload, error) {
		return s.backend.Login(ctx, cr)
	})
}

// Register creates an account and starts a session for it.
func (s *Store) Register(ctx context.Context, r model.Registration) Result {
	if err := validate.Registration(r); err != nil {
		return s.rejected(err)
	}
	return s.authenticate(ctx, "register", func(ctx context.Context) (*model.AuthPayload, error) {
		return s.backend.Register(ctx, r)
	})
}

// rejected reports a failure that never reached the network; the state is untouched.
func (s *Store) rejected(err error) Result {
	return Result{Session: s.Snapshot(), Err: err, Message: errs.Message(err), Conflict: errors.Is(err, errs.ErrConflict)}
}

func (s *Store) authenticate(ctx context.Context, op string, call func(context.Context) (*model.AuthPayload, error)) Result {
	s.mu.Lock()
	if s.state.Status == model.StatusAuthenticating {
		s.mu.Unlock()
		return s.rejected(errs.ErrBusy)
	}
	from := s.state.Status
	s.prior = s.state
	s.prior.LastError = ""
	gen := s.gen
	s.state = model.Session{Status: model.StatusAuthenticating}
	s.publishLocked()
	s.mu.Unlock()

	payload, err := call(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		// logged out (locally or elsewhere) while the call was in flight
		if err == nil {
			err = ErrSuperseded
		}
		return Result{Session: clone(s.state), Err: err, Message: errs.Message(err)}
	}

	var next model.Session
	if err == nil {
		next = model.Session{
			Status:     model.StatusAuthenticated,
			User:       payload.User,
			Profile:    payload.Profile,
			Credential: payload.AccessToken,
			ExpiresAt:  credentialExpiry(payload.AccessToken),
		}
		if werr := s.writeLocked(ctx, next); werr != nil {
			err = fmt.Errorf("persist session: %w", werr)
			s.rollbackLocked(ctx)
		}
	}

	if err != nil {
		msg := errs.Message(err)
		switch {
		case s.prior.Authenticated():
			s.state = s.prior
			s.state.LastError = msg
		case errors.Is(err, errs.ErrTimeout) && from != model.StatusError:
			s.state = model.Session{Status: model.StatusAnonymous, LastError: msg}
		default:
			s.state = model.Session{Status: model.StatusError, LastError: msg}
		}
		s.prior = model.Session{}
		s.publishLocked()
		s.log.Info(op+" failed", zap.String("status", string(s.state.Status)), zap.Error(err))
		return Result{Session: clone(s.state), Err: err, Message: msg, Conflict: errors.Is(err, errs.ErrConflict)}
	}

	s.gen++
	s.state = next
	s.prior = model.Session{}
	s.publishLocked()
	s.log.Info(op+" succeeded", zap.String("user_id", next.User.ID), zap.String("role", string(next.User.Role)))
	return Result{Session: clone(s.state)}
}

// rollbackLocked restores storage to the prior session after a partial write.
func (s *Store) rollbackLocked(ctx context.Context) {
	if s.prior.Authenticated() {
		if err := s.writeLocked(ctx, s.prior); err != nil {
			s.log.Error("restore prior session", zap.Error(err))
		}
		return
	}
	s.clearStorageLocked(ctx)
}

// Logout ends the session. Local state and storage are always cleared; the remote call is
// best-effort and its failure is only logged.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.state.Credential
	if token == "" {
		token = s.prior.Credential
	}
	s.gen++
	s.state = model.Session{Status: model.StatusAnonymous}
	s.prior = model.Session{}
	s.clearStorageLocked(ctx)
	s.publishLocked()
	s.mu.Unlock()

	if token == "" {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
	defer cancel()
	if err := s.backend.Logout(rctx, token); err != nil {
		s.log.Warn("remote logout failed", zap.Error(err))
		return
	}
	s.log.Info("logged out")
}

// UpdateProfile sends a partial profile change and merges the answer into the session.
// On failure the session is unchanged.
func (s *Store) UpdateProfile(ctx context.Context, u model.ProfileUpdate) Result {
	s.mu.Lock()
	if s.state.Status != model.StatusAuthenticated {
		s.mu.Unlock()
		return s.rejected(errs.ErrNotAuthenticated)
	}
	token, gen := s.state.Credential, s.gen
	s.mu.Unlock()

	p, err := s.backend.UpdateProfile(ctx, token, u)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && (s.gen != gen || s.state.Status != model.StatusAuthenticated) {
		err = errs.ErrNotAuthenticated
	}
	if err == nil {
		next := s.state
		next.User = p.User
		if p.Profile != nil {
			next.Profile = p.Profile
		}
		if werr := s.writeLocked(ctx, next); werr != nil {
			err = fmt.Errorf("persist profile: %w", werr)
			if rerr := s.writeLocked(ctx, s.state); rerr != nil {
				s.log.Error("restore session after failed profile write", zap.Error(rerr))
			}
		} else {
			s.state = next
			s.publishLocked()
		}
	}
	if err != nil {
		return Result{Session: clone(s.state), Err: err, Message: errs.Message(err)}
	}
	return Result{Session: clone(s.state)}
}

// ClearError drops the last error and nothing else.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastError == "" {
		return
	}
	s.state.LastError = ""
	s.publishLocked()
}
