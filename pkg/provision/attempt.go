package provision

import (
	"sync"

	"github.com/cuemby/terrapool/pkg/types"
)

// Attempt tracks one provisioning attempt through its statuses
type Attempt struct {
	Name     string
	Pool     string
	Template string

	mu     sync.RWMutex
	status types.AttemptStatus
}

// NewAttempt returns a pending attempt for the agent name
func NewAttempt(name, pool, template string) *Attempt {
	return &Attempt{
		Name:     name,
		Pool:     pool,
		Template: template,
		status:   types.AttemptPending,
	}
}

// Status returns the current status
func (a *Attempt) Status() types.AttemptStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Attempt) setStatus(s types.AttemptStatus) types.AttemptStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.status
	a.status = s
	return prev
}
