// Package validate implements the client-side form checks. All functions are pure.
package validate

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// MinReasonLen is the minimum trimmed length of a reason for visit.
	MinReasonLen = 10

	// DefaultAppointmentType is used when the booking form leaves type empty.
	DefaultAppointmentType = "consultation"
)

// Result is the outcome of a single field check.
type Result struct {
	Valid   bool
	Message string
}

func ok() Result { return Result{Valid: true} }

func fail(msg string) Result { return Result{Message: msg} }

// Err converts a failed result into a *errs.ValidationError for field.
func (r Result) Err(field string) error {
	if r.Valid {
		return nil
	}
	return &errs.ValidationError{Field: field, Message: r.Message}
}

// AppointmentDate rejects empty input and any date before now's calendar day.
// Time of day is ignored; the comparison happens in now's location.
func AppointmentDate(input string, now time.Time) Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return fail("Appointment date is required")
	}
	d, err := time.ParseInLocation(dateLayout, input, now.Location())
	if err != nil {
		return fail("Appointment date must be in YYYY-MM-DD format")
	}
	y, m, day := now.Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, now.Location())
	if d.Before(today) {
		return fail("Appointment date must be in the future")
	}
	return ok()
}

// AppointmentTime requires an HH:MM value.
func AppointmentTime(input string) Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return fail("Appointment time is required")
	}
	if _, err := time.Parse(timeLayout, input); err != nil {
		return fail("Appointment time must be in HH:MM format")
	}
	return ok()
}

// ReasonForVisit rejects blank input and input shorter than MinReasonLen trimmed characters.
func ReasonForVisit(input string) Result {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return fail("Reason for visit is required")
	}
	if utf8.RuneCountInString(trimmed) < MinReasonLen {
		return fail("Please provide more details (at least 10 characters)")
	}
	return ok()
}

// Symptoms splits a comma separated list, trimming entries and dropping empty ones.
func Symptoms(input string) []string {
	out := []string{}
	for _, s := range strings.Split(input, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Booking checks the whole booking form and returns field -> message for every failure.
// An empty map means the form is valid.
func Booking(req model.BookingRequest, now time.Time) map[string]string {
	problems := map[string]string{}
	if r := AppointmentDate(req.Date, now); !r.Valid {
		problems["appointmentDate"] = r.Message
	}
	if r := AppointmentTime(req.Time); !r.Valid {
		problems["appointmentTime"] = r.Message
	}
	if r := ReasonForVisit(req.Reason); !r.Valid {
		problems["reasonForVisit"] = r.Message
	}
	return problems
}

// Credentials requires a non-empty email and password.
func Credentials(c model.Credentials) error {
	if strings.TrimSpace(c.Email) == "" {
		return &errs.ValidationError{Field: "email", Message: "Email is required"}
	}
	if c.Password == "" {
		return &errs.ValidationError{Field: "password", Message: "Password is required"}
	}
	return nil
}

// Registration requires name, email, role selector and phone; role must be doctor or patient.
func Registration(r model.Registration) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return &errs.ValidationError{Field: "name", Message: "Please fill in all required fields"}
	case strings.TrimSpace(r.Email) == "":
		return &errs.ValidationError{Field: "email", Message: "Please fill in all required fields"}
	case r.Role == "":
		return &errs.ValidationError{Field: "role", Message: "Please fill in all required fields"}
	case strings.TrimSpace(r.Phone) == "":
		return &errs.ValidationError{Field: "mobile", Message: "Please fill in all required fields"}
	}
	if r.Role != model.RoleDoctor && r.Role != model.RolePatient {
		return &errs.ValidationError{Field: "role", Message: "Role must be doctor or patient"}
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return &errs.ValidationError{Field: "email", Message: "Email address is not valid"}
	}
	return nil
}
