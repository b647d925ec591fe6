package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// AgentSecrets computes the connection secret of an agent from its name.
// Nothing is stored: the same key always yields the same secret, so agents
// provisioned before a restart can still connect.
type AgentSecrets struct {
	key []byte
}

// NewAgentSecrets returns an AgentSecrets signing with key
func NewAgentSecrets(key []byte) *AgentSecrets {
	return &AgentSecrets{key: key}
}

// AgentSecret returns the connection secret for the agent name
func (s *AgentSecrets) AgentSecret(name string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(name))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether secret is the connection secret of name
func (s *AgentSecrets) Verify(name, secret string) bool {
	return hmac.Equal([]byte(s.AgentSecret(name)), []byte(secret))
}
