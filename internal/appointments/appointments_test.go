package appointments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
)

type fakeSession struct {
	mu   sync.Mutex
	tok  string
	role model.Role
}

var _ Session = (*fakeSession)(nil)

func (f *fakeSession) Credential() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tok, f.tok != ""
}

func (f *fakeSession) HasRole(r model.Role) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tok != "" && f.role == r
}

func (f *fakeSession) set(tok string, role model.Role) {
	f.mu.Lock()
	f.tok, f.role = tok, role
	f.mu.Unlock()
}

type fakeAPI struct {
	mu       sync.Mutex
	items    []model.Appointment
	listErr  error
	lists    int
	updates  map[string]model.AppointmentStatus
	booked   []api.Booking
	lastTok  string
	statusFn func(id string) error
}

var _ API = (*fakeAPI)(nil)

func (f *fakeAPI) Notifications(_ context.Context, token string) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.lastTok = token
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Appointment, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeAPI) UpdateAppointmentStatus(_ context.Context, token, id string, status model.AppointmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTok = token
	if f.statusFn != nil {
		if err := f.statusFn(id); err != nil {
			return err
		}
	}
	if f.updates == nil {
		f.updates = map[string]model.AppointmentStatus{}
	}
	f.updates[id] = status
	return nil
}

func (f *fakeAPI) BookAppointment(_ context.Context, token string, b api.Booking) (*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTok = token
	f.booked = append(f.booked, b)
	return &model.Appointment{ID: "a-new", Date: b.Date, Time: b.Time, Type: b.Type, Reason: b.Reason, Symptoms: b.Symptoms, Status: model.AppointmentPending}, nil
}

func (f *fakeAPI) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func sample() []model.Appointment {
	return []model.Appointment{
		{ID: "a1", PatientName: "Amina", Date: "2026-10-20", Time: "09:00", Type: "consultation", Reason: "persistent headache"},
		{ID: "a2", PatientName: "Baraka", Date: "2026-10-21", Time: "11:30", Type: "follow-up", Reason: "blood pressure review"},
	}
}

func TestInbox_RefreshAndDecide(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{items: sample()}
	in := NewInbox(fa, &fakeSession{tok: "doc-tok", role: model.RoleDoctor}, nil)

	items, err := in.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 2, in.Count())
	require.Equal(t, "doc-tok", fa.lastTok)

	require.NoError(t, in.Confirm(context.Background(), "a1"))
	require.Equal(t, model.AppointmentConfirmed, fa.updates["a1"])
	require.Equal(t, 1, in.Count())
	require.Equal(t, "a2", in.Items()[0].ID)

	require.NoError(t, in.Cancel(context.Background(), "a2"))
	require.Equal(t, model.AppointmentCancelled, fa.updates["a2"])
	require.Zero(t, in.Count())
}

func TestInbox_FailedUpdateKeepsItem(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{items: sample(), statusFn: func(string) error {
		return &errs.APIError{Kind: errs.ErrNotFound, Status: 404, Message: "Appointment not found"}
	}}
	in := NewInbox(fa, &fakeSession{tok: "doc-tok", role: model.RoleDoctor}, nil)
	_, err := in.Refresh(context.Background())
	require.NoError(t, err)

	err = in.Confirm(context.Background(), "a1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 2, in.Count())
}

func TestInbox_RequiresDoctor(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{items: sample()}
	sess := &fakeSession{}
	in := NewInbox(fa, sess, nil)

	_, err := in.Refresh(context.Background())
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)

	sess.set("pat-tok", model.RolePatient)
	_, err = in.Refresh(context.Background())
	require.ErrorIs(t, err, errs.ErrForbidden)
	require.ErrorIs(t, in.Confirm(context.Background(), "a1"), errs.ErrForbidden)
	require.Zero(t, fa.listCalls())

	// a stale list does not survive the role change
	sess.set("doc-tok", model.RoleDoctor)
	_, err = in.Refresh(context.Background())
	require.NoError(t, err)
	sess.set("", "")
	_, err = in.Refresh(context.Background())
	require.Error(t, err)
	require.Zero(t, in.Count())
}

var now = time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)

func TestBook(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	sess := &fakeSession{tok: "pat-tok", role: model.RolePatient}

	a, err := Book(context.Background(), fa, sess, model.BookingRequest{
		DoctorID: "d1",
		Date:     "2026-10-20",
		Time:     "10:00",
		Reason:   "  recurring migraines  ",
		Symptoms: "nausea, ,light sensitivity",
	}, now)
	require.NoError(t, err)
	require.Equal(t, "a-new", a.ID)
	require.Len(t, fa.booked, 1)
	b := fa.booked[0]
	require.Equal(t, "consultation", b.Type)
	require.Equal(t, "recurring migraines", b.Reason)
	require.Equal(t, []string{"nausea", "light sensitivity"}, b.Symptoms)
	require.Equal(t, "pat-tok", fa.lastTok)
}

func TestBook_InvalidFormSendsNothing(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{}
	_, err := Book(context.Background(), fa, &fakeSession{tok: "t", role: model.RolePatient}, model.BookingRequest{
		Date:   "2026-10-01",
		Time:   "10:00",
		Reason: "short",
	}, now)
	require.ErrorIs(t, err, errs.ErrValidation)
	var fe FormError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe, "appointmentDate")
	require.Contains(t, fe, "reasonForVisit")
	require.NotContains(t, fe, "appointmentTime")
	require.Contains(t, err.Error(), "appointmentDate: ")
	require.Empty(t, fa.booked)
}

func TestBook_RequiresPatient(t *testing.T) {
	t.Parallel()
	req := model.BookingRequest{Date: "2026-10-20", Time: "10:00", Reason: "recurring migraines"}
	_, err := Book(context.Background(), &fakeAPI{}, &fakeSession{}, req, now)
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	_, err = Book(context.Background(), &fakeAPI{}, &fakeSession{tok: "t", role: model.RoleDoctor}, req, now)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestPoller_Spec(t *testing.T) {
	t.Parallel()
	require.Equal(t, "@every 30s", NewPoller(nil, 0, nil, nil).Spec())
	require.Equal(t, "@every 1s", NewPoller(nil, 10*time.Millisecond, nil, nil).Spec())
	require.Equal(t, "@every 1m30s", NewPoller(nil, 90*time.Second+300*time.Millisecond, nil, nil).Spec())
}

func TestPoller_ReportsCountForDoctors(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{items: sample()}
	in := NewInbox(fa, &fakeSession{tok: "doc-tok", role: model.RoleDoctor}, nil)

	counts := make(chan int, 8)
	p := NewPoller(in, time.Second, func(n int) { counts <- n }, nil)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	select {
	case n := <-counts:
		require.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("no count reported")
	}

	// the scheduled tick follows
	select {
	case n := <-counts:
		require.Equal(t, 2, n)
	case <-time.After(3 * time.Second):
		t.Fatal("no scheduled count")
	}

	p.Stop()
	p.Stop()
	drained := len(counts)
	time.Sleep(1200 * time.Millisecond)
	require.Equal(t, drained, len(counts))
}

func TestPoller_SkipsNonDoctors(t *testing.T) {
	t.Parallel()
	fa := &fakeAPI{items: sample()}
	in := NewInbox(fa, &fakeSession{tok: "pat-tok", role: model.RolePatient}, nil)

	var mu sync.Mutex
	calls := 0
	p := NewPoller(in, time.Second, func(int) { mu.Lock(); calls++; mu.Unlock() }, nil)
	require.NoError(t, p.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
	require.Zero(t, fa.listCalls())
}
