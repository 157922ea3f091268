package pgstore

import (
	"context"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingEvery    = 90 * time.Second
)

// PQListener is a NotificationSource backed by a dedicated lib/pq LISTEN connection.
type PQListener struct {
	dsn string
	log *zap.Logger
}

var _ NotificationSource = (*PQListener)(nil)

// NewPQListener returns a listener that dials dsn on Listen.
func NewPQListener(dsn string, log *zap.Logger) *PQListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &PQListener{dsn: dsn, log: log}
}

// Listen opens the connection, subscribes to channel and streams payloads until ctx is done.
// A nil notification from lib/pq means the connection was re-established and events may have
// been missed; it is forwarded as an empty payload so readers re-check their state.
func (p *PQListener) Listen(ctx context.Context, channel string) (<-chan string, error) {
	l := pq.NewListener(p.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.Warn("pq listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, err
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		defer func() { _ = l.Close() }()
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-l.Notify:
				payload := ""
				if n != nil {
					payload = n.Extra
				}
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			case <-t.C:
				go func() { _ = l.Ping() }()
			}
		}
	}()
	return out, nil
}
