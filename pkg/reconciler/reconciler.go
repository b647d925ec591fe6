package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/metrics"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/types"
)

const (
	// DefaultInterval is the time between reconciliation cycles
	DefaultInterval = 30 * time.Second

	// DefaultHeartbeatInterval is how often agents are expected to report activity
	DefaultHeartbeatInterval = time.Minute

	// missedHeartbeats is how many heartbeat windows an online agent may miss
	missedHeartbeats = 3
)

// Registry is the view of the agent registry the reconciler works on
type Registry interface {
	List() []*types.Agent
	Agent(name string) (*provision.Agent, bool)
	MarkOffline(name string) error
	Terminate(ctx context.Context, name string) error
}

// Options configures a Reconciler
type Options struct {
	Registry          Registry
	Interval          time.Duration
	HeartbeatInterval time.Duration
}

// Reconciler applies retention policies and detects silent agents
type Reconciler struct {
	registry  Registry
	interval  time.Duration
	heartbeat time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu          sync.Mutex
	terminating map[string]struct{}
	wg          sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Reconciler{
		registry:    opts.Registry,
		interval:    opts.Interval,
		heartbeat:   opts.HeartbeatInterval,
		now:         time.Now,
		logger:      log.WithComponent("reconciler"),
		terminating: make(map[string]struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the loop and waits for terminations already started
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one reconciliation cycle
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	now := r.now()
	for _, rec := range r.registry.List() {
		switch rec.Status {
		case types.AgentOnline, types.AgentOffline:
		default:
			continue
		}

		if rec.Status == types.AgentOnline && now.Sub(rec.LastActivity) > missedHeartbeats*r.heartbeat {
			r.logger.Warn().
				Str("agent", rec.Name).
				Dur("silent_for", now.Sub(rec.LastActivity)).
				Msg("Agent stopped reporting, marking offline")
			if err := r.registry.MarkOffline(rec.Name); err != nil {
				r.logger.Error().Err(err).Str("agent", rec.Name).Msg("Failed to mark agent offline")
				continue
			}
			rec.Status = types.AgentOffline
		}

		agent, ok := r.registry.Agent(rec.Name)
		if !ok {
			continue
		}
		if retention := agent.Retention(); expired(rec, retention, now) {
			r.terminate(rec, retention)
		}
	}
}

// expired reports whether the retention policy asks for rec to be terminated.
// An offline agent runs no jobs and counts as idle.
func expired(rec *types.Agent, retention types.Retention, now time.Time) bool {
	if rec.Busy && rec.Status == types.AgentOnline {
		return false
	}

	switch retention.Kind {
	case types.RetentionOnce:
		return rec.JobsCompleted >= 1
	case types.RetentionIdle:
		if retention.IdleMinutes < 0 {
			return false
		}
		return now.Sub(idleSince(rec)) >= time.Duration(retention.IdleMinutes)*time.Minute
	}
	return false
}

func idleSince(rec *types.Agent) time.Time {
	switch {
	case rec.Busy:
		// Went silent mid job.
		return rec.LastActivity
	case !rec.IdleSince.IsZero():
		return rec.IdleSince
	case !rec.OnlineAt.IsZero():
		return rec.OnlineAt
	}
	return rec.LastActivity
}

func (r *Reconciler) terminate(rec *types.Agent, retention types.Retention) {
	r.mu.Lock()
	if _, ok := r.terminating[rec.Name]; ok {
		r.mu.Unlock()
		return
	}
	r.terminating[rec.Name] = struct{}{}
	r.mu.Unlock()

	r.logger.Info().
		Str("agent", rec.Name).
		Str("retention", string(retention.Kind)).
		Int("jobs_completed", rec.JobsCompleted).
		Msg("Terminating agent")
	metrics.RetentionTerminations.WithLabelValues(rec.Pool, string(retention.Kind)).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.terminating, rec.Name)
			r.mu.Unlock()
		}()

		if err := r.registry.Terminate(context.Background(), rec.Name); err != nil {
			r.logger.Error().Err(err).Str("agent", rec.Name).Msg("Failed to terminate agent")
		}
	}()
}
