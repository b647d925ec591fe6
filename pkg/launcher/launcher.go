// Package launcher waits for provisioned agents to complete their
// connection handshake.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/types"
)

// DefaultReportInterval is how often a pending connection is logged
const DefaultReportInterval = 30 * time.Second

// ErrConnectTimeout is returned when an agent did not connect in time
var ErrConnectTimeout = errors.New("agent did not connect in time")

// OnlineWaiter blocks until an agent is online
type OnlineWaiter interface {
	WaitOnline(ctx context.Context, name string) error
}

// Launcher waits for provisioned agents to connect back
type Launcher struct {
	waiter         OnlineWaiter
	reportInterval time.Duration
}

// New creates a launcher
func New(waiter OnlineWaiter) *Launcher {
	return &Launcher{waiter: waiter, reportInterval: DefaultReportInterval}
}

// WithReportInterval sets how often a pending connection is logged
func (l *Launcher) WithReportInterval(d time.Duration) *Launcher {
	l.reportInterval = d
	return l
}

// Connect waits up to the pool's agent timeout for agent to come online
func (l *Launcher) Connect(ctx context.Context, agent *provision.Agent) error {
	timeout := agent.Pool.AgentTimeout()
	if timeout <= 0 {
		timeout = types.DefaultAgentTimeoutMinutes * time.Minute
	}
	return l.connect(ctx, agent.Name, timeout)
}

func (l *Launcher) connect(ctx context.Context, name string, timeout time.Duration) error {
	logger := log.WithAgent("launcher", name)
	logger.Info().Dur("timeout", timeout).Msg("Waiting for agent to connect")

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.waiter.WaitOnline(waitCtx, name) }()

	start := time.Now()
	ticker := time.NewTicker(l.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err == nil {
				logger.Info().Dur("waited", time.Since(start)).Msg("Agent connected")
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, name, timeout)
			}
			return err
		case <-ticker.C:
			logger.Info().
				Int("waited_seconds", int(time.Since(start).Seconds())).
				Int("timeout_seconds", int(timeout.Seconds())).
				Msg("Waiting for agent to connect")
		}
	}
}
