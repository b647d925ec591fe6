package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/terrapool/pkg/labels"
	"github.com/cuemby/terrapool/pkg/naming"
	"github.com/cuemby/terrapool/pkg/types"
)

// SecretKeyEnv overrides the master key file when set
const SecretKeyEnv = "TERRAPOOL_SECRET_KEY"

var ErrUnsupportedFormat = errors.New("unsupported config format")

type Config struct {
	Server        ServerConfig         `yaml:"server" toml:"server"`
	Log           LogConfig            `yaml:"log" toml:"log"`
	Installations []InstallationConfig `yaml:"installations" toml:"installations"`
	Pools         []PoolConfig         `yaml:"pools" toml:"pools"`

	// SecretKey is the hex master key taken from the environment
	SecretKey string `yaml:"-" toml:"-"`
}

type ServerConfig struct {
	Listen           string `yaml:"listen" toml:"listen"`
	CallbackURL      string `yaml:"callbackURL" toml:"callbackURL"`
	RootDir          string `yaml:"rootDir" toml:"rootDir"`
	DataDir          string `yaml:"dataDir" toml:"dataDir"`
	SecretKeyFile    string `yaml:"secretKeyFile" toml:"secretKeyFile"`
	HeartbeatSeconds int    `yaml:"heartbeatSeconds" toml:"heartbeatSeconds"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type InstallationConfig struct {
	Name string `yaml:"name" toml:"name"`
	Home string `yaml:"home" toml:"home"`
}

// PoolConfig is a pool as written in the file. Pointer fields distinguish an
// explicit zero from an unset value.
type PoolConfig struct {
	Name                string           `yaml:"name" toml:"name"`
	TimeoutMinutes      *int             `yaml:"timeoutMinutes" toml:"timeoutMinutes"`
	AgentTimeoutMinutes *int             `yaml:"agentTimeoutMinutes" toml:"agentTimeoutMinutes"`
	Templates           []TemplateConfig `yaml:"templates" toml:"templates"`
}

type TemplateConfig struct {
	Name               string              `yaml:"name" toml:"name"`
	Labels             string              `yaml:"labels" toml:"labels"`
	AllowUnlabeled     bool                `yaml:"allowUnlabeled" toml:"allowUnlabeled"`
	Config             string              `yaml:"config" toml:"config"`
	ConfigDirectory    string              `yaml:"configDirectory" toml:"configDirectory"`
	Installation       string              `yaml:"installation" toml:"installation"`
	UseWebsocket       bool                `yaml:"useWebsocket" toml:"useWebsocket"`
	WorkspacePath      string              `yaml:"workspacePath" toml:"workspacePath"`
	IdleTimeoutMinutes *int                `yaml:"idleTimeoutMinutes" toml:"idleTimeoutMinutes"`
	Executors          *int                `yaml:"executors" toml:"executors"`
	InstanceCap        int                 `yaml:"instanceCap" toml:"instanceCap"`
	Credentials        []CredentialBinding `yaml:"credentials" toml:"credentials"`
}

type CredentialBinding struct {
	Variable      string `yaml:"variable" toml:"variable"`
	CredentialsID string `yaml:"credentialsId" toml:"credentialsId"`
}

// Default returns a configuration with no pools and the server defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:           "127.0.0.1:8420",
			CallbackURL:      "http://127.0.0.1:8420",
			RootDir:          "/var/lib/terrapool",
			DataDir:          "/var/lib/terrapool",
			HeartbeatSeconds: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file, applies defaults
// and validates the result
func Load(path string) (*Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads and defaults a config file without validating it
func Decode(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if cfg.Server.SecretKeyFile == "" {
		cfg.Server.SecretKeyFile = filepath.Join(cfg.Server.DataDir, "master.key")
	}
	cfg.SecretKey = os.Getenv(SecretKeyEnv)
	return cfg, nil
}

// Validate reports every problem found in the configuration
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Listen == "" {
		add("server.listen is required")
	}
	if u, err := url.Parse(c.Server.CallbackURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("server.callbackURL %q must be an http(s) URL", c.Server.CallbackURL)
	}
	if c.Server.RootDir == "" {
		add("server.rootDir is required")
	}
	if c.Server.DataDir == "" {
		add("server.dataDir is required")
	}
	if c.Server.HeartbeatSeconds < 0 {
		add("server.heartbeatSeconds must not be negative")
	}

	installations := make(map[string]bool, len(c.Installations))
	for _, inst := range c.Installations {
		if inst.Name == "" {
			add("installation name is required")
			continue
		}
		if installations[inst.Name] {
			add("installation %s: duplicate name", inst.Name)
		}
		installations[inst.Name] = true
	}

	pools := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if !naming.IsValidPoolName(p.Name) {
			add("pool %q: invalid name", p.Name)
		}
		if pools[p.Name] {
			add("pool %s: duplicate name", p.Name)
		}
		pools[p.Name] = true

		if p.TimeoutMinutes != nil && *p.TimeoutMinutes < 0 {
			add("pool %s: timeoutMinutes must not be negative", p.Name)
		}
		if p.AgentTimeoutMinutes != nil && *p.AgentTimeoutMinutes < 0 {
			add("pool %s: agentTimeoutMinutes must not be negative", p.Name)
		}

		templates := make(map[string]bool, len(p.Templates))
		for _, t := range p.Templates {
			where := fmt.Sprintf("pool %s template %q", p.Name, t.Name)
			if !naming.IsValidTemplateName(t.Name) {
				add("%s: invalid name", where)
			}
			if templates[t.Name] {
				add("%s: duplicate name", where)
			}
			templates[t.Name] = true

			if t.WorkspacePath == "" {
				add("%s: workspacePath is required", where)
			}
			if t.Executors != nil && *t.Executors <= 0 {
				add("%s: executors must be positive", where)
			}
			if t.InstanceCap < 0 {
				add("%s: instanceCap must not be negative", where)
			}
			if t.Config != "" && t.ConfigDirectory != "" {
				add("%s: config and configDirectory are mutually exclusive", where)
			}
			if t.Config == "" && t.ConfigDirectory == "" {
				add("%s: one of config or configDirectory is required", where)
			}
			if !installations[t.Installation] {
				add("%s: unknown installation %q", where, t.Installation)
			}
			for atom := range labels.ParseSet(t.Labels) {
				if expr, err := labels.Parse(atom); err != nil || expr.String() != atom {
					add("%s: invalid label %q", where, atom)
				}
			}
			for _, b := range t.Credentials {
				if b.Variable == "" || b.CredentialsID == "" {
					add("%s: credential bindings need a variable and a credentialsId", where)
				}
			}
		}
	}

	return errors.Join(errs...)
}

// RuntimePools converts the configured pools to their runtime form with
// defaults applied
func (c *Config) RuntimePools() []*types.Pool {
	out := make([]*types.Pool, 0, len(c.Pools))
	for _, p := range c.Pools {
		pool := &types.Pool{
			Name:                p.Name,
			TimeoutMinutes:      intOr(p.TimeoutMinutes, types.DefaultTimeoutMinutes),
			AgentTimeoutMinutes: intOr(p.AgentTimeoutMinutes, types.DefaultAgentTimeoutMinutes),
		}
		for _, t := range p.Templates {
			tmpl := &types.Template{
				Name:               t.Name,
				Labels:             t.Labels,
				AllowUnlabeled:     t.AllowUnlabeled,
				Config:             types.ConfigSource{Inline: t.Config, Directory: t.ConfigDirectory},
				Installation:       t.Installation,
				UseWebsocket:       t.UseWebsocket,
				WorkspacePath:      t.WorkspacePath,
				IdleTimeoutMinutes: intOr(t.IdleTimeoutMinutes, types.DefaultIdleTimeoutMinutes),
				Executors:          intOr(t.Executors, types.DefaultExecutors),
				InstanceCap:        t.InstanceCap,
			}
			for _, b := range t.Credentials {
				tmpl.Credentials = append(tmpl.Credentials, types.CredentialBinding{
					Variable:      b.Variable,
					CredentialsID: b.CredentialsID,
				})
			}
			pool.Templates = append(pool.Templates, tmpl)
		}
		out = append(out, pool)
	}
	return out
}

// InstallationSet indexes the configured installations by name
func (c *Config) InstallationSet() Installations {
	out := make(Installations, len(c.Installations))
	for _, inst := range c.Installations {
		out[inst.Name] = &types.Installation{Name: inst.Name, Home: inst.Home}
	}
	return out
}

// Installations resolves installations by name
type Installations map[string]*types.Installation

func (i Installations) Installation(name string) (*types.Installation, bool) {
	inst, ok := i[name]
	return inst, ok
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
