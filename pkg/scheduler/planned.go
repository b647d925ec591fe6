package scheduler

import (
	"context"

	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/types"
)

// PlannedAgent is the handle of an in-flight provisioning attempt
type PlannedAgent struct {
	Name      string
	Pool      string
	Template  string
	Executors int

	attempt *provision.Attempt
	done    chan struct{}
	agent   *provision.Agent
	err     error
}

func newPlannedAgent(name, pool, template string, executors int) *PlannedAgent {
	return &PlannedAgent{
		Name:      name,
		Pool:      pool,
		Template:  template,
		Executors: executors,
		attempt:   provision.NewAttempt(name, pool, template),
		done:      make(chan struct{}),
	}
}

// Status returns the current status of the attempt
func (p *PlannedAgent) Status() types.AttemptStatus {
	return p.attempt.Status()
}

// Done is closed when the attempt has finished
func (p *PlannedAgent) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Only meaningful once Done is closed.
func (p *PlannedAgent) Result() (*provision.Agent, error) {
	select {
	case <-p.done:
		return p.agent, p.err
	default:
		return nil, nil
	}
}

// Wait blocks until the attempt finishes or ctx is done
func (p *PlannedAgent) Wait(ctx context.Context) (*provision.Agent, error) {
	select {
	case <-p.done:
		return p.agent, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PlannedAgent) finish(agent *provision.Agent, err error) {
	p.agent, p.err = agent, err
	close(p.done)
}
