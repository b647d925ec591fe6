package types

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cuemby/terrapool/pkg/labels"
)

// Defaults applied when a pool or template leaves a field unset
const (
	DefaultTimeoutMinutes      = 10
	DefaultAgentTimeoutMinutes = 10
	DefaultIdleTimeoutMinutes  = 10
	DefaultExecutors           = 1
)

// Pool is a named source of provisionable capacity governed by its templates
type Pool struct {
	Name                string
	TimeoutMinutes      int // Bound on a single apply
	AgentTimeoutMinutes int // How long a provisioned agent has to connect
	Templates           []*Template
}

// Template is a reusable provisioning blueprint within a pool. It is
// immutable once the configuration has been loaded.
type Template struct {
	Name               string
	Labels             string // Whitespace separated label atoms
	AllowUnlabeled     bool
	Config             ConfigSource
	Installation       string // Name of the Installation running terraform
	UseWebsocket       bool
	WorkspacePath      string // Agent-side working directory
	IdleTimeoutMinutes int
	Executors          int
	InstanceCap        int // 0 means uncapped
	Credentials        []CredentialBinding
}

// ConfigSource is where a template's terraform configuration comes from.
// At most one of the two fields is set.
type ConfigSource struct {
	Inline    string // Literal configuration text
	Directory string // Directory relative to the root dir, copied recursively
}

// CredentialBinding exposes a stored credential to terraform as variables
type CredentialBinding struct {
	Variable      string
	CredentialsID string
}

// CredentialKind is the shape of a stored credential
type CredentialKind string

const (
	CredentialUsernamePassword CredentialKind = "username-password"
	CredentialSecret           CredentialKind = "secret"
)

// Credential is a resolved credential. Username and Password are set for
// CredentialUsernamePassword, Secret for CredentialSecret.
type Credential struct {
	ID          string
	Kind        CredentialKind
	Description string
	Username    string
	Password    string
	Secret      string
}

// Installation locates a terraform executable
type Installation struct {
	Name string
	Home string // Directory holding the executable; empty searches PATH
}

// ExecutableName is the file name of the terraform binary on this platform
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "terraform.exe"
	}
	return "terraform"
}

// Executable resolves the absolute path of the terraform binary
func (i *Installation) Executable() (string, error) {
	if i.Home == "" {
		path, err := exec.LookPath(ExecutableName())
		if err != nil {
			return "", fmt.Errorf("installation %s: %w", i.Name, err)
		}
		return filepath.Abs(path)
	}

	info, err := os.Stat(i.Home)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("installation %s: home directory %s not found", i.Name, i.Home)
	}

	path := filepath.Join(i.Home, ExecutableName())
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("installation %s: executable not found in %s", i.Name, i.Home)
	}
	return filepath.Abs(path)
}

// Timeout returns the apply bound as a duration
func (p *Pool) Timeout() time.Duration {
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// AgentTimeout returns how long an agent has to connect
func (p *Pool) AgentTimeout() time.Duration {
	return time.Duration(p.AgentTimeoutMinutes) * time.Minute
}

// Template returns the template with the given name, or nil
func (p *Pool) Template(name string) *Template {
	for _, t := range p.Templates {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// CanProvision reports whether any template of the pool matches label
func (p *Pool) CanProvision(label labels.Expression) bool {
	for _, t := range p.Templates {
		if t.Matches(label) {
			return true
		}
	}
	return false
}

// LabelSet returns the template's labels as a set
func (t *Template) LabelSet() labels.Set {
	return labels.ParseSet(t.Labels)
}

// Matches reports whether the template can serve a request for label. A nil
// label is an unlabeled request.
func (t *Template) Matches(label labels.Expression) bool {
	set := t.LabelSet()
	if label == nil {
		return len(set) == 0 || t.AllowUnlabeled
	}
	return label.Matches(set)
}

// ExecutorCount is the number of executors an agent of this template offers,
// never less than one
func (t *Template) ExecutorCount() int {
	if t.Executors < 1 {
		return 1
	}
	return t.Executors
}

// RetentionKind selects when an online agent is terminated
type RetentionKind string

const (
	RetentionOnce RetentionKind = "once" // After one completed job
	RetentionIdle RetentionKind = "idle" // After being idle for IdleMinutes
)

// Retention describes the termination policy for a template's agents
type Retention struct {
	Kind        RetentionKind
	IdleMinutes int // Negative disables idle termination
}

// Retention derives the policy for agents of this template
func (t *Template) Retention() Retention {
	if t.Executors == 1 && t.IdleTimeoutMinutes == 0 {
		return Retention{Kind: RetentionOnce}
	}
	return Retention{Kind: RetentionIdle, IdleMinutes: t.IdleTimeoutMinutes}
}

// AttemptStatus is the state of one provisioning attempt
type AttemptStatus string

const (
	AttemptPending      AttemptStatus = "pending"
	AttemptInitializing AttemptStatus = "initializing"
	AttemptFetching     AttemptStatus = "fetching"
	AttemptApplying     AttemptStatus = "applying"
	AttemptSucceeded    AttemptStatus = "succeeded"
	AttemptDestroying   AttemptStatus = "destroying"
	AttemptFailed       AttemptStatus = "failed"
)

// AgentStatus is the lifecycle state of a registered agent
type AgentStatus string

const (
	AgentProvisioning AgentStatus = "provisioning" // Name reserved, terraform running
	AgentLaunching    AgentStatus = "launching"    // Provisioned, waiting for the connection
	AgentOnline       AgentStatus = "online"
	AgentOffline      AgentStatus = "offline"
	AgentTerminating  AgentStatus = "terminating"
)

// Agent is the persisted record of a provisioned (or provisioning) agent
type Agent struct {
	Name          string
	Pool          string
	Template      string
	Executors     int
	Status        AgentStatus
	WorkspaceDir  string // Local workspace holding state; empty while provisioning
	Busy          bool
	JobsCompleted int
	CreatedAt     time.Time
	OnlineAt      time.Time
	LastActivity  time.Time
	IdleSince     time.Time // Start of the current idle stretch; zero while busy
}
