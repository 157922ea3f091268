package session

import (
	"github.com/daktarihub/daktari-client/internal/model"
)

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.state)
}

// Status returns the current lifecycle state.
func (s *Store) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// IsAuthenticated reports whether a credential is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Authenticated()
}

// User returns a copy of the current user, nil when anonymous.
func (s *Store) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.state.User)
}

// Profile returns a copy of the current profile, nil when absent.
func (s *Store) Profile() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProfile(s.state.Profile)
}

// Credential returns the bearer token and whether one is held. Callers must not log it.
func (s *Store) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Credential, s.state.Credential != ""
}

// LastError returns the message of the last failed attempt.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastError
}

// HasRole reports whether the current user has role. False when there is no user.
func (s *Store) HasRole(role model.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User != nil && s.state.User.Role == role
}

// IsPatient reports whether the current user is a patient.
func (s *Store) IsPatient() bool { return s.HasRole(model.RolePatient) }

// IsDoctor reports whether the current user is a doctor.
func (s *Store) IsDoctor() bool { return s.HasRole(model.RoleDoctor) }

// IsAdmin reports whether the current user is an admin.
func (s *Store) IsAdmin() bool { return s.HasRole(model.RoleAdmin) }

// Subscribe returns a channel that receives a snapshot after every transition, and a
// function that unsubscribes. A subscriber that falls behind only sees the latest snapshot.
func (s *Store) Subscribe() (<-chan model.Session, func()) {
	ch := make(chan model.Session, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Close releases subscribers. The Store stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) publishLocked() {
	snap := clone(s.state)
	for ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// replace the stale snapshot
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func clone(in model.Session) model.Session {
	out := in
	out.User = cloneUser(in.User)
	out.Profile = cloneProfile(in.Profile)
	return out
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneProfile(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Extra != nil {
		c.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}
