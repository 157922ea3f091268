// Package appointments holds the doctor notification inbox, appointment booking and the
// notification count poller.
package appointments

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
)

// API is the backend surface used by this package; satisfied by *api.Client.
type API interface {
	Notifications(ctx context.Context, token string) ([]model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, token, id string, status model.AppointmentStatus) error
	BookAppointment(ctx context.Context, token string, b api.Booking) (*model.Appointment, error)
}

// Session is the read side of the session store; satisfied by *session.Store.
type Session interface {
	Credential() (string, bool)
	HasRole(role model.Role) bool
}

var _ API = (*api.Client)(nil)

// authorize returns the credential when the session holds one with the given role.
func authorize(sess Session, role model.Role) (string, error) {
	tok, ok := sess.Credential()
	if !ok {
		return "", errs.ErrNotAuthenticated
	}
	if !sess.HasRole(role) {
		return "", errs.ErrForbidden
	}
	return tok, nil
}

// Inbox is the doctor's list of pending appointment requests.
type Inbox struct {
	api  API
	sess Session
	log  *zap.Logger

	mu    sync.Mutex
	items []model.Appointment
}

// NewInbox returns an empty inbox. Call Refresh to load it.
func NewInbox(c API, sess Session, log *zap.Logger) *Inbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{api: c, sess: sess, log: log}
}

// Refresh reloads the list from the backend and returns a copy of it.
func (in *Inbox) Refresh(ctx context.Context) ([]model.Appointment, error) {
	tok, err := authorize(in.sess, model.RoleDoctor)
	if err != nil {
		in.reset()
		return nil, err
	}
	items, err := in.api.Notifications(ctx, tok)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	in.items = items
	in.mu.Unlock()
	return in.Items(), nil
}

func (in *Inbox) reset() {
	in.mu.Lock()
	in.items = nil
	in.mu.Unlock()
}

// Items returns a copy of the last loaded list.
func (in *Inbox) Items() []model.Appointment {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]model.Appointment, len(in.items))
	copy(out, in.items)
	return out
}

// Count returns the number of loaded requests.
func (in *Inbox) Count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Confirm accepts the request and drops it from the list.
func (in *Inbox) Confirm(ctx context.Context, id string) error {
	return in.decide(ctx, id, model.AppointmentConfirmed)
}

// Cancel declines the request and drops it from the list.
func (in *Inbox) Cancel(ctx context.Context, id string) error {
	return in.decide(ctx, id, model.AppointmentCancelled)
}

func (in *Inbox) decide(ctx context.Context, id string, status model.AppointmentStatus) error {
	tok, err := authorize(in.sess, model.RoleDoctor)
	if err != nil {
		return err
	}
	if err := in.api.UpdateAppointmentStatus(ctx, tok, id, status); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	kept := in.items[:0]
	for _, a := range in.items {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	in.items = kept
	in.log.Info("appointment updated", zap.String("appointment_id", id), zap.String("status", string(status)))
	return nil
}
