package process

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mu-project/mu-cli/pkg/engine"
)

// DefaultPollInterval is the delay between connection attempts.
const DefaultPollInterval = 1 * time.Second

// Readiness polls a TCP endpoint until it accepts a connection.
//
// With a zero Timeout the poll never gives up; only context cancellation ends it.
type Readiness struct {
	// Interval is the delay between attempts.
	Interval time.Duration

	// Timeout bounds the whole wait. Zero means wait forever.
	Timeout time.Duration

	// OnAttempt, if set, is called after every failed attempt.
	OnAttempt func(attempt int, err error)
}

// WaitForPort waits until addr accepts a TCP connection using the default interval and no timeout.
func WaitForPort(ctx context.Context, addr string) error {
	return Readiness{Interval: DefaultPollInterval}.Wait(ctx, addr)
}

// Wait blocks until addr accepts a TCP connection, ctx is cancelled or the timeout elapses.
func (r Readiness) Wait(ctx context.Context, addr string) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var deadline <-chan time.Time
	if r.Timeout > 0 {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	dialer := net.Dialer{Timeout: interval}
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return engine.NewSubprocessError(fmt.Sprintf("%s not reachable after %s", addr, r.Timeout), err).
				WithCode(engine.ErrCodeTimeout).
				WithDetail("attempts", attempt)
		case <-time.After(interval):
		}
	}
}

// LocalAddr returns the loopback address for port.
func LocalAddr(port int) string {
	return net.JoinHostPort("localhost", fmt.Sprint(port))
}
