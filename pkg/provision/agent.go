package provision

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/terrapool/pkg/events"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/types"
	"github.com/cuemby/terrapool/pkg/workspace"
)

// Agent is a provisioned agent. It owns its workspace and tears it down on
// Terminate.
type Agent struct {
	Name      string
	Pool      *types.Pool
	Template  *types.Template
	Workspace *workspace.Workspace
	CreatedAt time.Time

	coordinator   *Coordinator
	terminateOnce sync.Once
}

// Retention returns the termination policy of the agent's template
func (a *Agent) Retention() types.Retention {
	return a.Template.Retention()
}

// Terminate destroys the agent's resources and deletes its workspace. The
// workspace is deleted even when destroy fails; the destroy error is
// returned. Calls after the first do nothing.
func (a *Agent) Terminate(ctx context.Context) error {
	var err error
	a.terminateOnce.Do(func() {
		logger := log.WithAgent("provision", a.Name)
		logger.Info().Msg("Terminating agent")

		err = a.coordinator.Destroy(ctx, a.Pool, a.Workspace, a.Name)
		if cerr := a.Workspace.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Workspace was not fully deleted")
		}

		ev := &events.Event{
			Type:     events.EventAgentTerminated,
			Agent:    a.Name,
			Pool:     a.Pool.Name,
			Template: a.Template.Name,
		}
		if err != nil {
			ev.Message = err.Error()
		}
		a.coordinator.broker.Publish(ev)
	})
	return err
}
