// Command daktari is a terminal client for the DaktariHub appointment service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/api"
	"github.com/daktarihub/daktari-client/internal/config"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/logging"
	"github.com/daktarihub/daktari-client/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `daktari CLI
Usage:
  daktari [-config file] [-api URL] [-storage file|redis|postgres] [-dir path] <cmd> [args]

Commands:
  version
  register       -name <name> -email <email> -p <password|-> -role doctor|patient -mobile <phone> [-gender g] [-age n]
  login          -email <email> -p <password|->
  logout
  whoami
  profile        [-name n] [-phone p] [-specialty s] [-experience n] [-age n]
  notifications                                   (doctors)
  confirm        -id <appointment id>             (doctors)
  cancel         -id <appointment id>             (doctors)
  book           -doctor <id> -date YYYY-MM-DD -time HH:MM -reason <text> [-symptoms a,b] [-type t]
  watch          [-interval 30s]                  (follow session and notification count)
`

// errUsage makes run exit with status 2.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	gfs := flag.NewFlagSet("daktari", flag.ContinueOnError)
	gfs.SetOutput(stderr)
	gfs.Usage = func() { fmt.Fprint(stderr, usageText) }
	cfgFile := gfs.String("config", "", "config file (default ./daktari.yaml)")
	apiURL := gfs.String("api", "", "backend base URL")
	driver := gfs.String("storage", "", "session storage driver")
	dir := gfs.String("dir", "", "session directory for the file driver")
	if err := gfs.Parse(args); err != nil {
		return 2
	}
	if gfs.NArg() < 1 {
		gfs.Usage()
		return 2
	}
	name, cmdArgs := gfs.Arg(0), gfs.Args()[1:]

	if name == "version" {
		fmt.Fprintf(stdout, "daktari %s (%s)\n", version, buildDate)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		gfs.Usage()
		return 2
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	cfg.API.BaseURL = choose(*apiURL, cfg.API.BaseURL)
	cfg.Storage.Driver = choose(*driver, cfg.Storage.Driver)
	cfg.Storage.Dir = choose(*dir, cfg.Storage.Dir)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	log, err := logging.New(cfg.Environment, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(ctx, cfg, log, stdin, stdout)
	if err != nil {
		fmt.Fprintln(stderr, errs.Message(err))
		return 1
	}
	defer a.Close()

	if err := cmd(ctx, a, cmdArgs); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stderr, usageText)
			return 2
		}
		fmt.Fprintln(stderr, errs.Message(err))
		return 1
	}
	return 0
}

// app is the wiring shared by every command.
type app struct {
	cfg     *config.AppConfig
	log     *zap.Logger
	api     *api.Client
	sess    *session.Store
	stdin   io.Reader
	out     io.Writer
	closeSt func()
}

func newApp(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, stdin io.Reader, stdout io.Writer) (*app, error) {
	st, closeSt, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c := api.New(cfg.API.BaseURL, api.WithTimeout(cfg.API.Timeout), api.WithLogger(log.Named("api")))
	sess, err := session.New(ctx, st, c, session.WithLogger(log.Named("session")))
	if err != nil {
		closeSt()
		return nil, err
	}
	return &app{cfg: cfg, log: log, api: c, sess: sess, stdin: stdin, out: &lockedWriter{w: stdout}, closeSt: closeSt}, nil
}

// lockedWriter serializes writes from the watch goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (a *app) Close() {
	a.sess.Close()
	a.closeSt()
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
