package backendstub

import (
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
)

// account is a registered user with its password hash.
type account struct {
	user    model.User
	profile model.Profile
	pwdHash string
}

// appointment is a booking with its owners.
type appointment struct {
	model.Appointment
	doctorID  string
	patientID string
}

// memStore keeps every stub record in memory. Emails are matched case-insensitively.
type memStore struct {
	mu           sync.RWMutex
	accounts     map[string]*account // by user id
	byEmail      map[string]string   // lower(email) -> user id
	appointments map[string]*appointment
	order        []string // appointment ids in booking order
}

func newMemStore() *memStore {
	return &memStore{
		accounts:     map[string]*account{},
		byEmail:      map[string]string{},
		appointments: map[string]*appointment{},
	}
}

func newID() string { return uuid.Must(uuid.NewV4()).String() }

func (s *memStore) createAccount(a *account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(a.user.Email)
	if _, ok := s.byEmail[key]; ok {
		return errs.ErrConflict
	}
	s.accounts[a.user.ID] = a
	s.byEmail[key] = a.user.ID
	return nil
}

func (s *memStore) accountByEmail(email string) (account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return account{}, errs.ErrNotFound
	}
	return *s.accounts[id], nil
}

func (s *memStore) accountByID(id string) (account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return account{}, errs.ErrNotFound
	}
	return *a, nil
}

// updateAccount applies fn to the stored account and returns the result.
func (s *memStore) updateAccount(id string, fn func(*account)) (account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return account{}, errs.ErrNotFound
	}
	fn(a)
	return *a, nil
}

func (s *memStore) addAppointment(a *appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
	s.order = append(s.order, a.ID)
}

// pendingFor lists the doctor's pending requests ordered by date and time.
func (s *memStore) pendingFor(doctorID string) []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Appointment{}
	for _, id := range s.order {
		a := s.appointments[id]
		if a.doctorID == doctorID && a.Status == model.AppointmentPending {
			out = append(out, a.Appointment)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date+out[i].Time < out[j].Date+out[j].Time
	})
	return out
}

// setStatus changes the status of a doctor's appointment. Appointments of other doctors
// are reported as not found.
func (s *memStore) setStatus(doctorID, id string, st model.AppointmentStatus) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok || a.doctorID != doctorID {
		return model.Appointment{}, errs.ErrNotFound
	}
	a.Status = st
	return a.Appointment, nil
}
