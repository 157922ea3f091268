package appointments

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/backendstub"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/session"
	"github.com/daktarihub/daktari-client/internal/storage/memory"
)

var _ Session = (*session.Store)(nil)

func init() { gin.SetMode(gin.TestMode) }

func TestIntegration_BookThenDecide(t *testing.T) {
	t.Parallel()
	srv, err := backendstub.New(backendstub.Config{JWTKey: []byte("k")}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c := api.New(ts.URL + "/api")
	ctx := context.Background()

	doctor, err := session.New(ctx, memory.New().Client(), c)
	require.NoError(t, err)
	res := doctor.Register(ctx, model.Registration{Name: "Dr Kamau", Email: "kamau@example.com", Password: "pw", Role: model.RoleDoctor, Phone: "+254711111111"})
	require.True(t, res.OK(), res.Message)

	patient, err := session.New(ctx, memory.New().Client(), c)
	require.NoError(t, err)
	res = patient.Register(ctx, model.Registration{Name: "Amina", Email: "amina@example.com", Password: "pw", Role: model.RolePatient, Phone: "+254722222222"})
	require.True(t, res.OK(), res.Message)

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	a, err := Book(ctx, c, patient, model.BookingRequest{
		DoctorID: doctor.User().ID,
		Date:     tomorrow,
		Time:     "10:30",
		Reason:   "chest pain when climbing stairs",
		Symptoms: "shortness of breath, fatigue",
	}, time.Now())
	require.NoError(t, err)

	inbox := NewInbox(c, doctor, nil)
	counts := make(chan int, 4)
	p := NewPoller(inbox, time.Minute, func(n int) { counts <- n }, nil)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()
	select {
	case n := <-counts:
		require.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("poller reported nothing")
	}

	items := inbox.Items()
	require.Len(t, items, 1)
	require.Equal(t, a.ID, items[0].ID)
	require.Equal(t, []string{"shortness of breath", "fatigue"}, items[0].Symptoms)

	require.NoError(t, inbox.Confirm(ctx, a.ID))
	require.Zero(t, inbox.Count())
	fresh, err := inbox.Refresh(ctx)
	require.NoError(t, err)
	require.Empty(t, fresh)

	_, err = NewInbox(c, patient, nil).Refresh(ctx)
	require.Error(t, err)
}
