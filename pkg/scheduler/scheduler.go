package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/terrapool/pkg/labels"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/naming"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/types"
)

// ProvisionLock serializes every capacity decision and every registry
// mutation across all pools. Holding it while choosing templates and
// reserving names is what keeps two requests from both passing a stale
// instance cap check. Terraform itself always runs outside of it.
var ProvisionLock sync.Mutex

// ErrUnknownPool is returned for a pool that is not configured
var ErrUnknownPool = errors.New("unknown pool")

// Provisioner runs a provisioning attempt
type Provisioner interface {
	ProvisionAttempt(ctx context.Context, pool *types.Pool, tmpl *types.Template, attempt *provision.Attempt) (*provision.Agent, error)
}

// Connector performs the connection handshake of a provisioned agent
type Connector interface {
	Connect(ctx context.Context, agent *provision.Agent) error
}

// Registry is the node list the scheduler derives capacity from
type Registry interface {
	Reserve(name, pool, template string, executors int) error
	Attach(agent *provision.Agent) error
	Release(name string) error
	Terminate(ctx context.Context, name string) error
	CountTemplate(pool, template string) int
}

// Config holds the scheduler dependencies
type Config struct {
	Pools       []*types.Pool
	Provisioner Provisioner
	Connector   Connector // Optional
	Registry    Registry
	Lock        sync.Locker // Defaults to &ProvisionLock
}

// Scheduler turns capacity requests into provisioning attempts
type Scheduler struct {
	pools       map[string]*types.Pool
	provisioner Provisioner
	connector   Connector
	registry    Registry
	lock        sync.Locker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config) *Scheduler {
	lock := cfg.Lock
	if lock == nil {
		lock = &ProvisionLock
	}

	pools := make(map[string]*types.Pool, len(cfg.Pools))
	for _, p := range cfg.Pools {
		pools[p.Name] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pools:       pools,
		provisioner: cfg.Provisioner,
		connector:   cfg.Connector,
		registry:    cfg.Registry,
		lock:        lock,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Pool returns the configured pool name
func (s *Scheduler) Pool(name string) (*types.Pool, bool) {
	p, ok := s.pools[name]
	return p, ok
}

// RequestCapacity starts enough attempts in poolName to cover excess
// executors for jobs matching label, within the templates' instance caps.
// It returns right away with one PlannedAgent per started attempt.
// The attempts outlive ctx; they stop only on Shutdown.
func (s *Scheduler) RequestCapacity(ctx context.Context, poolName string, label labels.Expression, excess int) ([]*PlannedAgent, error) {
	pool, ok := s.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, poolName)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := log.WithPool("scheduler", poolName)

	s.lock.Lock()
	defer s.lock.Unlock()

	var planned []*PlannedAgent
	for excess > 0 {
		tmpl := s.selectTemplate(pool, label)
		if tmpl == nil {
			break
		}

		name := naming.Generate(pool.Name, tmpl.Name)
		executors := tmpl.ExecutorCount()
		if err := s.registry.Reserve(name, pool.Name, tmpl.Name, executors); err != nil {
			logger.Error().Err(err).Str("agent", name).Msg("Failed to reserve agent name")
			break
		}

		p := newPlannedAgent(name, pool.Name, tmpl.Name, executors)
		s.wg.Add(1)
		go s.run(pool, tmpl, p)

		logger.Info().Str("agent", name).Str("template", tmpl.Name).Msg("Started provisioning attempt")
		planned = append(planned, p)
		excess -= executors
	}

	return planned, nil
}

// selectTemplate returns the first template matching label whose instance
// cap is not reached. The caller holds the lock.
func (s *Scheduler) selectTemplate(pool *types.Pool, label labels.Expression) *types.Template {
	for _, tmpl := range pool.Templates {
		if !tmpl.Matches(label) {
			continue
		}
		if tmpl.InstanceCap > 0 && s.registry.CountTemplate(pool.Name, tmpl.Name) >= tmpl.InstanceCap {
			continue
		}
		return tmpl
	}
	return nil
}

func (s *Scheduler) run(pool *types.Pool, tmpl *types.Template, p *PlannedAgent) {
	defer s.wg.Done()

	logger := log.WithAgent("scheduler", p.Name)

	var (
		agent *provision.Agent
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provisioning attempt panicked: %v", r)
			logger.Error().Err(err).Msg("Provisioning attempt aborted")
			s.locked(func() { _ = s.registry.Release(p.Name) })
			agent = nil
		}
		p.finish(agent, err)
	}()

	agent, err = s.provisioner.ProvisionAttempt(s.ctx, pool, tmpl, p.attempt)

	s.locked(func() {
		if err != nil {
			if rerr := s.registry.Release(p.Name); rerr != nil {
				logger.Error().Err(rerr).Msg("Failed to release agent name")
			}
		} else if aerr := s.registry.Attach(agent); aerr != nil {
			err = aerr
		}
	})

	if err != nil {
		if agent != nil {
			// Provisioned but never registered: tear it down here.
			if terr := agent.Terminate(s.ctx); terr != nil {
				logger.Error().Err(terr).Msg("Failed to terminate unregistered agent")
			}
			s.locked(func() { _ = s.registry.Release(p.Name) })
			agent = nil
		}
		logger.Error().Err(err).Msg("Provisioning attempt failed")
		return
	}

	if s.connector == nil {
		return
	}
	if cerr := s.connector.Connect(s.ctx, agent); cerr != nil {
		logger.Error().Err(cerr).Msg("Agent did not connect, terminating")
		if terr := s.registry.Terminate(s.ctx, p.Name); terr != nil {
			logger.Error().Err(terr).Msg("Failed to terminate agent")
		}
		agent, err = nil, cerr
	}
}

// locked runs fn holding the provisioning lock, releasing it even if fn panics
func (s *Scheduler) locked(fn func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn()
}

// Wait blocks until every started attempt has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the running attempts between their steps and waits for
// them. A terraform command already running is not interrupted.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
