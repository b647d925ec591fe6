package storage

import (
	"errors"

	"github.com/cuemby/terrapool/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// CredentialRecord is a stored credential. The password or secret text is
// kept sealed by the caller; the store never sees it in plain text.
type CredentialRecord struct {
	ID          string
	Kind        types.CredentialKind
	Description string
	Username    string
	Sealed      []byte
}

// Store defines the interface for the daemon's persistent state
type Store interface {
	// Agents
	SaveAgent(agent *types.Agent) error
	GetAgent(name string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	DeleteAgent(name string) error

	// Credentials
	SaveCredential(cred *CredentialRecord) error
	GetCredential(id string) (*CredentialRecord, error)
	ListCredentials() ([]*CredentialRecord, error)
	DeleteCredential(id string) error

	// Utility
	Ping() error
	Close() error
}
