package appointments

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/validate"
)

// FormError lists every invalid booking field, keyed by field name.
type FormError map[string]string

func (e FormError) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return strings.Join(parts, "; ")
}

// Is makes errors.Is(err, errs.ErrValidation) hold.
func (e FormError) Is(target error) bool { return target == errs.ErrValidation }

// Book validates req and submits it for the signed-in patient. Nothing is sent when the
// form is invalid.
func Book(ctx context.Context, c API, sess Session, req model.BookingRequest, now time.Time) (*model.Appointment, error) {
	if problems := validate.Booking(req, now); len(problems) > 0 {
		return nil, FormError(problems)
	}
	tok, err := authorize(sess, model.RolePatient)
	if err != nil {
		return nil, err
	}
	typ := strings.TrimSpace(req.Type)
	if typ == "" {
		typ = validate.DefaultAppointmentType
	}
	return c.BookAppointment(ctx, tok, api.Booking{
		DoctorID: req.DoctorID,
		Date:     strings.TrimSpace(req.Date),
		Time:     strings.TrimSpace(req.Time),
		Reason:   strings.TrimSpace(req.Reason),
		Symptoms: validate.Symptoms(req.Symptoms),
		Type:     typ,
	})
}
