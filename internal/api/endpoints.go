package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
)

// Booking is the body of POST /appointments.
type Booking struct {
	DoctorID string   `json:"doctorId"`
	Date     string   `json:"appointmentDate"`
	Time     string   `json:"appointmentTime"`
	Reason   string   `json:"reasonForVisit"`
	Symptoms []string `json:"symptoms"`
	Type     string   `json:"type"`
}

func checkAuthPayload(p *model.AuthPayload) error {
	if p.AccessToken == "" {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Message: "no access token in response"}
	}
	if p.User == nil {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Message: "no user in response"}
	}
	return nil
}

// Login calls POST /auth/login.
func (c *Client) Login(ctx context.Context, cr model.Credentials) (*model.AuthPayload, error) {
	var p model.AuthPayload
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", cr, &p); err != nil {
		return nil, err
	}
	if err := checkAuthPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Register calls POST /auth/register. A 409 is reported as errs.ErrConflict.
func (c *Client) Register(ctx context.Context, r model.Registration) (*model.AuthPayload, error) {
	var p model.AuthPayload
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", r, &p); err != nil {
		return nil, err
	}
	if err := checkAuthPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Logout calls POST /auth/logout.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// UpdateProfile calls PUT /auth/profile.
func (c *Client) UpdateProfile(ctx context.Context, token string, u model.ProfileUpdate) (*model.ProfilePayload, error) {
	var p model.ProfilePayload
	if err := c.do(ctx, http.MethodPut, "/auth/profile", token, u, &p); err != nil {
		return nil, err
	}
	if p.User == nil {
		return nil, &errs.APIError{Kind: errs.ErrUnexpectedResponse, Message: "no user in response"}
	}
	return &p, nil
}

// Notifications calls GET /appointments/notifications.
func (c *Client) Notifications(ctx context.Context, token string) ([]model.Appointment, error) {
	var out []model.Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments/notifications", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAppointmentStatus calls PATCH /appointments/:id/status.
func (c *Client) UpdateAppointmentStatus(ctx context.Context, token, id string, status model.AppointmentStatus) error {
	body := map[string]model.AppointmentStatus{"status": status}
	return c.do(ctx, http.MethodPatch, "/appointments/"+url.PathEscape(id)+"/status", token, body, nil)
}

// BookAppointment calls POST /appointments.
func (c *Client) BookAppointment(ctx context.Context, token string, b Booking) (*model.Appointment, error) {
	var out model.Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments", token, b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
