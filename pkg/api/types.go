package api

import (
	"time"

	"github.com/cuemby/terrapool/pkg/types"
)

// ProvisionRequest asks a pool for capacity
type ProvisionRequest struct {
	Label  string `json:"label,omitempty"` // Label expression, empty for unlabeled work
	Excess int    `json:"excess"`          // Executors needed
}

// PlannedAgent is an agent scheduled by a provision request
type PlannedAgent struct {
	Name      string `json:"name"`
	Pool      string `json:"pool"`
	Template  string `json:"template"`
	Executors int    `json:"executors"`
}

type ProvisionResponse struct {
	Agents []PlannedAgent `json:"agents"`
}

type Agent struct {
	Name          string            `json:"name"`
	Pool          string            `json:"pool"`
	Template      string            `json:"template"`
	Executors     int               `json:"executors"`
	Status        types.AgentStatus `json:"status"`
	Busy          bool              `json:"busy"`
	JobsCompleted int               `json:"jobsCompleted"`
	CreatedAt     time.Time         `json:"createdAt"`
	OnlineAt      time.Time         `json:"onlineAt,omitzero"`
	LastActivity  time.Time         `json:"lastActivity,omitzero"`
	IdleSince     time.Time         `json:"idleSince,omitzero"`
}

type ListAgentsResponse struct {
	Agents []Agent `json:"agents"`
}

// ConnectRequest completes an agent's connection handshake
type ConnectRequest struct {
	Secret string `json:"secret"`
}

// ActivityRequest is a heartbeat sent by a connected agent
type ActivityRequest struct {
	Busy      bool `json:"busy"`
	Completed bool `json:"completed"` // A job finished since the last report
}

// Credential is a stored credential. Secret material is only ever sent to
// the server, never returned.
type Credential struct {
	ID          string               `json:"id"`
	Kind        types.CredentialKind `json:"kind"`
	Description string               `json:"description,omitempty"`
	Username    string               `json:"username,omitempty"`
	Password    string               `json:"password,omitempty"`
	Secret      string               `json:"secret,omitempty"`
}

type ListCredentialsResponse struct {
	Credentials []Credential `json:"credentials"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func agentFromRecord(rec *types.Agent) Agent {
	return Agent{
		Name:          rec.Name,
		Pool:          rec.Pool,
		Template:      rec.Template,
		Executors:     rec.Executors,
		Status:        rec.Status,
		Busy:          rec.Busy,
		JobsCompleted: rec.JobsCompleted,
		CreatedAt:     rec.CreatedAt,
		OnlineAt:      rec.OnlineAt,
		LastActivity:  rec.LastActivity,
		IdleSince:     rec.IdleSince,
	}
}
