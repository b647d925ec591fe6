package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/terrapool/pkg/events"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/naming"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/storage"
	"github.com/cuemby/terrapool/pkg/types"
)

var (
	ErrNotFound       = errors.New("agent not found")
	ErrExists         = errors.New("agent already registered")
	ErrNotProvisioned = errors.New("agent is still provisioning")
)

// Options configures a Registry
type Options struct {
	Store  storage.Store
	Broker *events.Broker

	// Lock is taken around the removal that ends a Terminate so that it
	// never races a capacity decision. Pass the scheduler's provision lock.
	Lock sync.Locker
}

// Registry is the authoritative list of agents. Records are persisted;
// live agent handles are kept in memory.
type Registry struct {
	mu      sync.RWMutex
	store   storage.Store
	broker  *events.Broker
	lock    sync.Locker
	records map[string]*types.Agent
	live    map[string]*provision.Agent
	changed chan struct{}
}

// New creates an empty registry. Call Recover to load persisted agents.
func New(opts Options) *Registry {
	lock := opts.Lock
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Registry{
		store:   opts.Store,
		broker:  opts.Broker,
		lock:    lock,
		records: make(map[string]*types.Agent),
		live:    make(map[string]*provision.Agent),
		changed: make(chan struct{}),
	}
}

// Reserve registers name as provisioning so that it counts toward its
// template's instance cap before terraform has created anything
func (r *Registry) Reserve(name, pool, template string, executors int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}

	now := time.Now()
	rec := &types.Agent{
		Name:         name,
		Pool:         pool,
		Template:     template,
		Executors:    executors,
		Status:       types.AgentProvisioning,
		CreatedAt:    now,
		LastActivity: now,
	}
	return r.saveLocked(rec)
}

// Attach stores the live handle of a provisioned agent and marks it as
// launching. The agent must have been reserved.
func (r *Registry) Attach(agent *provision.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agent.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agent.Name)
	}

	updated := *rec
	updated.Status = types.AgentLaunching
	updated.WorkspaceDir = agent.Workspace.Dir
	updated.LastActivity = time.Now()
	if err := r.saveLocked(&updated); err != nil {
		return err
	}
	r.live[agent.Name] = agent
	return nil
}

// Release forgets name entirely. Releasing an unknown name is not an error.
func (r *Registry) Release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(name)
}

func (r *Registry) releaseLocked(name string) error {
	if r.store != nil {
		if err := r.store.DeleteAgent(name); err != nil {
			return fmt.Errorf("failed to delete agent %s: %w", name, err)
		}
	}
	delete(r.records, name)
	delete(r.live, name)
	r.notifyLocked()
	return nil
}

// Get returns a copy of the record of name
func (r *Registry) Get(name string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	c := *rec
	return &c, nil
}

// Agent returns the live handle of name, if the agent has been provisioned
func (r *Registry) Agent(name string) (*provision.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.live[name]
	return a, ok
}

// List returns copies of all records sorted by name
func (r *Registry) List() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Agent, 0, len(r.records))
	for _, rec := range r.records {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CountTemplate returns how many registered agents, reserved ones included,
// belong to template in pool. Membership is decoded from the agent names.
func (r *Registry) CountTemplate(pool, template string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for name := range r.records {
		if naming.BelongsToTemplate(name, pool, template) {
			n++
		}
	}
	return n
}

// Counts returns the number of agents per pool and status
func (r *Registry) Counts() map[string]map[types.AgentStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]map[types.AgentStatus]int)
	for _, rec := range r.records {
		if counts[rec.Pool] == nil {
			counts[rec.Pool] = make(map[types.AgentStatus]int)
		}
		counts[rec.Pool][rec.Status]++
	}
	return counts
}

// MarkOnline records a completed connection handshake
func (r *Registry) MarkOnline(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if rec.Status == types.AgentProvisioning {
		return fmt.Errorf("%w: %s", ErrNotProvisioned, name)
	}

	now := time.Now()
	updated := *rec
	updated.Status = types.AgentOnline
	updated.OnlineAt = now
	updated.LastActivity = now
	updated.IdleSince = now
	if err := r.saveLocked(&updated); err != nil {
		return err
	}

	r.broker.Publish(&events.Event{Type: events.EventAgentOnline, Agent: name, Pool: rec.Pool, Template: rec.Template})
	return nil
}

// MarkOffline records that an online agent stopped reporting
func (r *Registry) MarkOffline(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	updated := *rec
	updated.Status = types.AgentOffline
	if err := r.saveLocked(&updated); err != nil {
		return err
	}

	r.broker.Publish(&events.Event{Type: events.EventAgentOffline, Agent: name, Pool: rec.Pool, Template: rec.Template})
	return nil
}

// RecordActivity stores a heartbeat from an agent. completed counts a
// finished job. An offline agent that reports again is back online.
// Heartbeats of an agent that stays idle leave IdleSince alone.
func (r *Registry) RecordActivity(name string, busy, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	now := time.Now()
	updated := *rec
	updated.LastActivity = now
	updated.Busy = busy
	if completed {
		updated.JobsCompleted++
	}
	switch {
	case busy:
		updated.IdleSince = time.Time{}
	case rec.Busy, completed, rec.IdleSince.IsZero():
		updated.IdleSince = now
	}
	if updated.Status == types.AgentOffline {
		updated.Status = types.AgentOnline
	}
	return r.saveLocked(&updated)
}

// WaitOnline blocks until name is online, name is removed, or ctx is done
func (r *Registry) WaitOnline(ctx context.Context, name string) error {
	for {
		r.mu.RLock()
		rec, ok := r.records[name]
		changed := r.changed
		r.mu.RUnlock()

		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if rec.Status == types.AgentOnline {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Terminate destroys a provisioned agent and removes it. The record is
// removed even when the destroy fails; that error is returned.
func (r *Registry) Terminate(ctx context.Context, name string) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	agent, live := r.live[name]
	if !live {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotProvisioned, name)
	}
	updated := *rec
	updated.Status = types.AgentTerminating
	if err := r.saveLocked(&updated); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	terr := agent.Terminate(ctx)
	if terr != nil {
		logger := log.WithAgent("registry", name)
		logger.Error().Err(terr).Msg("Agent resources may not have been destroyed")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.Release(name); err != nil {
		return errors.Join(terr, err)
	}
	return terr
}

// ReattachFunc rebuilds the live handle of a persisted agent
type ReattachFunc func(ctx context.Context, rec *types.Agent) (*provision.Agent, error)

// Recover loads the persisted agents after a restart. Agents that were
// connected are reattached and start offline until they report again.
// Agents whose attempt or termination was interrupted are destroyed and
// removed. Records that cannot be reattached are dropped.
func (r *Registry) Recover(ctx context.Context, reattach ReattachFunc) error {
	if r.store == nil {
		return nil
	}
	logger := log.WithComponent("registry")

	records, err := r.store.ListAgents()
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	for _, rec := range records {
		r.mu.RLock()
		_, known := r.records[rec.Name]
		r.mu.RUnlock()
		if known {
			continue
		}

		agent, err := reattach(ctx, rec)
		if err != nil {
			logger.Warn().Err(err).Str("agent", rec.Name).Msg("Dropping agent that cannot be reattached")
			if err := r.store.DeleteAgent(rec.Name); err != nil {
				return err
			}
			continue
		}

		switch rec.Status {
		case types.AgentProvisioning, types.AgentLaunching, types.AgentTerminating:
			logger.Info().Str("agent", rec.Name).Str("status", string(rec.Status)).Msg("Destroying interrupted agent")
			if err := agent.Terminate(ctx); err != nil {
				logger.Error().Err(err).Str("agent", rec.Name).Msg("Failed to destroy interrupted agent")
			}
			if err := r.store.DeleteAgent(rec.Name); err != nil {
				return err
			}
		default:
			r.mu.Lock()
			rec.Status = types.AgentOffline
			rec.WorkspaceDir = agent.Workspace.Dir
			err := r.saveLocked(rec)
			if err == nil {
				r.live[rec.Name] = agent
			}
			r.mu.Unlock()
			if err != nil {
				return err
			}
			logger.Info().Str("agent", rec.Name).Msg("Reattached agent")
		}
	}
	return nil
}

func (r *Registry) saveLocked(rec *types.Agent) error {
	if r.store != nil {
		if err := r.store.SaveAgent(rec); err != nil {
			return fmt.Errorf("failed to save agent %s: %w", rec.Name, err)
		}
	}
	r.records[rec.Name] = rec
	r.notifyLocked()
	return nil
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
