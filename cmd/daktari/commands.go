package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/daktarihub/daktari-client/internal/appointments"
	"github.com/daktarihub/daktari-client/internal/model"
	"github.com/daktarihub/daktari-client/internal/session"
)

type command func(ctx context.Context, a *app, args []string) error

var commands map[string]command

func init() {
	commands = map[string]command{
		"register":      cmdRegister,
		"login":         cmdLogin,
		"logout":        cmdLogout,
		"whoami":        cmdWhoami,
		"profile":       cmdProfile,
		"notifications": cmdNotifications,
		"confirm":       cmdDecide(model.AppointmentConfirmed),
		"cancel":        cmdDecide(model.AppointmentCancelled),
		"book":          cmdBook,
		"watch":         cmdWatch,
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// secret returns v, or the first line of stdin when v is "-".
func (a *app) secret(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// sessionView is what whoami prints. The credential is never shown.
type sessionView struct {
	Status    model.Status   `json:"status"`
	User      *model.User    `json:"user,omitempty"`
	Profile   *model.Profile `json:"profile,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

func view(s model.Session) sessionView {
	v := sessionView{Status: s.Status, User: s.User, Profile: s.Profile, LastError: s.LastError}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

func result(a *app, r session.Result) error {
	if r.Err != nil {
		return r.Err
	}
	a.printJSON(view(r.Session))
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email")
	pass := fs.String("p", "", "password, - reads stdin")
	role := fs.String("role", "", "doctor or patient")
	mobile := fs.String("mobile", "", "phone number")
	gender := fs.String("gender", "", "gender")
	age := fs.Int("age", 0, "age")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	pw, err := a.secret(*pass)
	if err != nil {
		return err
	}
	return result(a, a.sess.Register(ctx, model.Registration{
		Name:     *name,
		Email:    *email,
		Password: pw,
		Role:     model.Role(*role),
		Phone:    *mobile,
		Gender:   *gender,
		Age:      *age,
	}))
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "email")
	pass := fs.String("p", "", "password, - reads stdin")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	pw, err := a.secret(*pass)
	if err != nil {
		return err
	}
	return result(a, a.sess.Login(ctx, model.Credentials{Email: *email, Password: pw}))
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	a.sess.Logout(ctx)
	fmt.Fprintln(a.out, "ok")
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	a.printJSON(view(a.sess.Snapshot()))
	return nil
}

func cmdProfile(ctx context.Context, a *app, args []string) error {
	fs := newFlags("profile")
	name := fs.String("name", "", "full name")
	phone := fs.String("phone", "", "phone number")
	specialty := fs.String("specialty", "", "doctor specialty")
	experience := fs.Int("experience", 0, "years of experience")
	age := fs.Int("age", 0, "age")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	// only flags given on the command line are sent
	var u model.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			u.Name = name
		case "phone":
			u.Phone = phone
		case "specialty":
			u.Specialty = specialty
		case "experience":
			u.Experience = experience
		case "age":
			u.Age = age
		}
	})
	return result(a, a.sess.UpdateProfile(ctx, u))
}

func cmdNotifications(ctx context.Context, a *app, _ []string) error {
	items, err := appointments.NewInbox(a.api, a.sess, a.log).Refresh(ctx)
	if err != nil {
		return err
	}
	a.printJSON(items)
	return nil
}

func cmdDecide(status model.AppointmentStatus) command {
	return func(ctx context.Context, a *app, args []string) error {
		fs := newFlags(string(status))
		id := fs.String("id", "", "appointment id")
		if err := fs.Parse(args); err != nil || *id == "" {
			return errUsage
		}
		in := appointments.NewInbox(a.api, a.sess, a.log)
		decide := in.Cancel
		if status == model.AppointmentConfirmed {
			decide = in.Confirm
		}
		return printOK(a, decide(ctx, *id))
	}
}

func printOK(a *app, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func cmdBook(ctx context.Context, a *app, args []string) error {
	fs := newFlags("book")
	doctor := fs.String("doctor", "", "doctor id")
	date := fs.String("date", "", "YYYY-MM-DD")
	at := fs.String("time", "", "HH:MM")
	reason := fs.String("reason", "", "reason for visit")
	symptoms := fs.String("symptoms", "", "comma separated symptoms")
	typ := fs.String("type", "", "appointment type")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	appt, err := appointments.Book(ctx, a.api, a.sess, model.BookingRequest{
		DoctorID: *doctor,
		Date:     *date,
		Time:     *at,
		Reason:   *reason,
		Symptoms: *symptoms,
		Type:     *typ,
	}, time.Now())
	if err != nil {
		return err
	}
	a.printJSON(appt)
	return nil
}

// cmdWatch follows session changes made by other instances and, for doctors, the
// notification count, until interrupted.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags("watch")
	interval := fs.Duration("interval", a.cfg.Notifications.Interval, "notification poll interval")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	updates, unsubscribe := a.sess.Subscribe()
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- a.sess.Run(ctx) }()

	p := appointments.NewPoller(appointments.NewInbox(a.api, a.sess, a.log), *interval, func(n int) {
		fmt.Fprintf(a.out, "notifications: %d\n", n)
	}, a.log)
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	fmt.Fprintf(a.out, "session: %s\n", a.sess.Status())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err != nil {
				return err
			}
			runErr = nil
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			fmt.Fprintf(a.out, "session: %s\n", s.Status)
		}
	}
}
