// Package model defines domain entities shared by the session store, the API client and the CLI.
package model

import (
	"fmt"
	"time"
)

// Role is the account kind a user signed up with.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusError          Status = "error"
)

// User is the identity record returned by the backend and persisted under the user key.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

// Profile carries optional extended identity data (doctor specialty, patient age, ...).
type Profile struct {
	Specialty  string         `json:"specialty,omitempty"`
	Experience int            `json:"experience,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Gender     string         `json:"gender,omitempty"`
	Age        int            `json:"age,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Session is a point-in-time copy of the authentication state.
type Session struct {
	Status     Status
	User       *User
	Profile    *Profile
	Credential string    // bearer token; empty unless Status is authenticated
	ExpiresAt  time.Time // zero for opaque tokens
	LastError  string
}

// Authenticated reports whether the snapshot holds a usable credential.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Credential != "" && s.User != nil
}

// String renders the session without the credential.
func (s Session) String() string {
	if s.User == nil {
		return fmt.Sprintf("session{status=%s}", s.Status)
	}
	return fmt.Sprintf("session{status=%s user=%s role=%s}", s.Status, s.User.ID, s.User.Role)
}

// Credentials is the login form input.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up form input. Role is the "selected value" of the form.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	Phone    string `json:"mobile"`
	Gender   string `json:"gender,omitempty"`
	Age      int    `json:"age"`
}

// ProfileUpdate is a partial profile change; nil fields are left as they are on the backend.
type ProfileUpdate struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Specialty  *string `json:"specialty,omitempty"`
	Experience *int    `json:"experience,omitempty"`
	Age        *int    `json:"age,omitempty"`
}

// AuthPayload is the data part of a successful login/register response.
type AuthPayload struct {
	User        *User    `json:"user"`
	Profile     *Profile `json:"profile,omitempty"`
	AccessToken string   `json:"accessToken"`
}

// ProfilePayload is the data part of a successful profile update.
type ProfilePayload struct {
	User    *User    `json:"user"`
	Profile *Profile `json:"profile,omitempty"`
}

// AppointmentStatus is the doctor decision on a request.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is an entry of the doctor notification list.
type Appointment struct {
	ID          string            `json:"_id"`
	PatientName string            `json:"patientName"`
	Date        string            `json:"appointmentDate"` // YYYY-MM-DD
	Time        string            `json:"appointmentTime"` // HH:MM
	Type        string            `json:"type"`
	Reason      string            `json:"reasonForVisit"`
	Symptoms    []string          `json:"symptoms,omitempty"`
	Status      AppointmentStatus `json:"status,omitempty"`
}

// BookingRequest is the booking confirmation form input. Symptoms is the raw comma list.
type BookingRequest struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"appointmentDate"`
	Time     string `json:"appointmentTime"`
	Reason   string `json:"reasonForVisit"`
	Symptoms string `json:"-"`
	Type     string `json:"type"`
}
