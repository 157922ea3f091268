package appointments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/errs"
)

// DefaultPollInterval is how often a doctor's notification count is refreshed.
const DefaultPollInterval = 30 * time.Second

// Poller refreshes an Inbox on a fixed interval and reports the count. Ticks are skipped
// while the session is not a doctor.
type Poller struct {
	inbox    *Inbox
	interval time.Duration
	onCount  func(int)
	log      *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// NewPoller returns a stopped poller. interval is rounded down to whole seconds, minimum one.
func NewPoller(inbox *Inbox, interval time.Duration, onCount func(int), log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval < time.Second {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{inbox: inbox, interval: interval.Truncate(time.Second), onCount: onCount, log: log}
}

// Spec is the cron schedule the poller registers.
func (p *Poller) Spec() string { return fmt.Sprintf("@every %s", p.interval) }

// Start refreshes once right away, then on every interval. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLogger(cronLogger{p.log.Sugar()}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{p.log.Sugar()})))
	if _, err := c.AddFunc(p.Spec(), func() { p.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule poller: %w", err)
	}
	p.cron, p.cancel = c, cancel
	c.Start()

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.tick(ctx)
	}()
	return nil
}

// Stop cancels the schedule and waits for a running refresh to return. No count is reported
// after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.pending.Wait()
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	items, err := p.inbox.Refresh(ctx)
	switch {
	case errors.Is(err, errs.ErrNotAuthenticated), errors.Is(err, errs.ErrForbidden):
		return
	case err != nil:
		p.log.Warn("refresh notifications", zap.Error(err))
		return
	}
	if ctx.Err() != nil || p.onCount == nil {
		return
	}
	p.onCount(len(items))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
