package backendstub

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/validate"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c *gin.Context, status int, data any, msg string) {
	c.JSON(status, envelope{Success: true, Data: data, Message: msg})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Message: msg})
}

type handlers struct {
	auth  *authService
	store *memStore
	log   *zap.Logger
	now   func() time.Time
}

func (h *handlers) register(router *gin.RouterGroup) {
	router.GET("/healthz", func(c *gin.Context) { ok(c, http.StatusOK, gin.H{"status": "ok"}, "") })

	auth := router.Group("/auth")
	auth.POST("/register", h.registerAccount)
	auth.POST("/login", h.login)

	protected := router.Group("")
	protected.Use(authenticate(h.auth, h.store))
	protected.POST("/auth/logout", h.logout)
	protected.PUT("/auth/profile", h.updateProfile)

	doctors := protected.Group("/appointments", requireRoles(model.RoleDoctor))
	doctors.GET("/notifications", h.notifications)
	doctors.PATCH("/:id/status", h.setStatus)

	protected.POST("/appointments", requireRoles(model.RolePatient), h.book)
}

func (h *handlers) registerAccount(c *gin.Context) {
	var r model.Registration
	if err := c.ShouldBindJSON(&r); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Registration(r); err != nil {
		fail(c, http.StatusBadRequest, errs.Message(err))
		return
	}
	if r.Password == "" {
		fail(c, http.StatusBadRequest, "Password is required")
		return
	}
	p, err := h.auth.register(r)
	switch {
	case errors.Is(err, errs.ErrConflict):
		fail(c, http.StatusConflict, "User already exists with this email")
		return
	case err != nil:
		h.log.Error("register", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Registration failed")
		return
	}
	ok(c, http.StatusCreated, p, "Registration successful")
}

func (h *handlers) login(c *gin.Context) {
	var cr model.Credentials
	if err := c.ShouldBindJSON(&cr); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Credentials(cr); err != nil {
		fail(c, http.StatusBadRequest, errs.Message(err))
		return
	}
	p, err := h.auth.login(c.Request.Context(), cr, c.ClientIP())
	switch {
	case errors.Is(err, errs.ErrRateLimited):
		fail(c, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
		return
	case errors.Is(err, errBadCredentials):
		fail(c, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		h.log.Error("login", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Login failed")
		return
	}
	ok(c, http.StatusOK, p, "Login successful")
}

func (h *handlers) logout(c *gin.Context) {
	if v, exists := c.Get(ctxClaims); exists {
		h.auth.revoke(v.(*jwt.RegisteredClaims))
	}
	ok(c, http.StatusOK, nil, "Logged out successfully")
}

func (h *handlers) updateProfile(c *gin.Context) {
	u, _ := currentUser(c)
	var upd model.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		fail(c, http.StatusBadRequest, "Name cannot be empty")
		return
	}
	a, err := h.store.updateAccount(u.ID, func(a *account) {
		if upd.Name != nil {
			a.user.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Phone != nil {
			a.profile.Phone = *upd.Phone
		}
		if upd.Specialty != nil {
			a.profile.Specialty = *upd.Specialty
		}
		if upd.Experience != nil {
			a.profile.Experience = *upd.Experience
		}
		if upd.Age != nil {
			a.profile.Age = *upd.Age
		}
	})
	if err != nil {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	ok(c, http.StatusOK, model.ProfilePayload{User: &a.user, Profile: &a.profile}, "Profile updated")
}

func (h *handlers) notifications(c *gin.Context) {
	u, _ := currentUser(c)
	ok(c, http.StatusOK, h.store.pendingFor(u.ID), "")
}

func (h *handlers) setStatus(c *gin.Context) {
	u, _ := currentUser(c)
	var body struct {
		Status model.AppointmentStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Status != model.AppointmentConfirmed && body.Status != model.AppointmentCancelled {
		fail(c, http.StatusBadRequest, "Status must be confirmed or cancelled")
		return
	}
	a, err := h.store.setStatus(u.ID, c.Param("id"), body.Status)
	if err != nil {
		fail(c, http.StatusNotFound, "Appointment not found")
		return
	}
	ok(c, http.StatusOK, a, "Appointment "+string(body.Status))
}

func (h *handlers) book(c *gin.Context) {
	u, _ := currentUser(c)
	var b api.Booking
	if err := c.ShouldBindJSON(&b); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	problems := validate.Booking(model.BookingRequest{Date: b.Date, Time: b.Time, Reason: b.Reason}, h.now())
	if len(problems) > 0 {
		for _, f := range []string{"appointmentDate", "appointmentTime", "reasonForVisit"} {
			if msg, bad := problems[f]; bad {
				fail(c, http.StatusBadRequest, msg)
				return
			}
		}
	}
	doc, err := h.store.accountByID(b.DoctorID)
	if err != nil || doc.user.Role != model.RoleDoctor {
		fail(c, http.StatusNotFound, "Doctor not found")
		return
	}
	typ := b.Type
	if typ == "" {
		typ = validate.DefaultAppointmentType
	}
	symptoms := b.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	a := &appointment{
		Appointment: model.Appointment{
			ID:          newID(),
			PatientName: u.Name,
			Date:        b.Date,
			Time:        b.Time,
			Type:        typ,
			Reason:      strings.TrimSpace(b.Reason),
			Symptoms:    symptoms,
			Status:      model.AppointmentPending,
		},
		doctorID:  doc.user.ID,
		patientID: u.ID,
	}
	h.store.addAppointment(a)
	ok(c, http.StatusCreated, a.Appointment, "Appointment requested")
}
