package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/terrapool/pkg/types"
)

const yamlConfig = `
server:
  listen: 0.0.0.0:9000
  callbackURL: https://ci.example.com
  dataDir: /tmp/terrapool
log:
  level: debug
installations:
  - name: tf1
    home: /opt/terraform
pools:
  - name: aws
    timeoutMinutes: 0
    templates:
      - name: small
        labels: linux docker
        config: |
          resource "null_resource" "agent" {}
        installation: tf1
        workspacePath: /home/ci
        idleTimeoutMinutes: 0
        credentials:
          - variable: aws
            credentialsId: aws-creds
      - name: big
        labels: linux
        configDirectory: big
        installation: tf1
        workspacePath: /home/ci
        executors: 4
        instanceCap: 2
`

const tomlConfig = `
[server]
callbackURL = "http://localhost:8420"

[[installations]]
name = "tf1"

[[pools]]
name = "gcp"
agentTimeoutMinutes = 3

[[pools.templates]]
name = "tiny"
config = "terraform {}"
installation = "tf1"
workspacePath = "/srv"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "terrapool.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "/var/lib/terrapool", cfg.Server.RootDir)
	assert.Equal(t, "/tmp/terrapool/master.key", cfg.Server.SecretKeyFile)
	assert.Equal(t, "debug", cfg.Log.Level)

	pools := cfg.RuntimePools()
	require.Len(t, pools, 1)
	pool := pools[0]
	assert.Equal(t, 0, pool.TimeoutMinutes)
	assert.Equal(t, types.DefaultAgentTimeoutMinutes, pool.AgentTimeoutMinutes)

	small := pool.Template("small")
	require.NotNil(t, small)
	assert.Equal(t, 0, small.IdleTimeoutMinutes)
	assert.Equal(t, 1, small.Executors)
	assert.Equal(t, types.RetentionOnce, small.Retention().Kind)
	assert.Contains(t, small.Config.Inline, "null_resource")
	assert.Equal(t, []types.CredentialBinding{{Variable: "aws", CredentialsID: "aws-creds"}}, small.Credentials)

	big := pool.Template("big")
	require.NotNil(t, big)
	assert.Equal(t, "big", big.Config.Directory)
	assert.Equal(t, 4, big.Executors)
	assert.Equal(t, 2, big.InstanceCap)
	assert.Equal(t, types.Retention{Kind: types.RetentionIdle, IdleMinutes: types.DefaultIdleTimeoutMinutes}, big.Retention())

	inst, ok := cfg.InstallationSet().Installation("tf1")
	require.True(t, ok)
	assert.Equal(t, "/opt/terraform", inst.Home)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "terrapool.toml", tomlConfig))
	require.NoError(t, err)

	pools := cfg.RuntimePools()
	require.Len(t, pools, 1)
	assert.Equal(t, "gcp", pools[0].Name)
	assert.Equal(t, 3, pools[0].AgentTimeoutMinutes)
	assert.Equal(t, types.DefaultTimeoutMinutes, pools[0].TimeoutMinutes)
	assert.Equal(t, "terraform {}", pools[0].Templates[0].Config.Inline)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "terrapool.json", "{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "pools: [:"))
	assert.Error(t, err)
}

func TestSecretKeyFromEnv(t *testing.T) {
	t.Setenv(SecretKeyEnv, "abcd")
	cfg, err := Load(writeFile(t, "terrapool.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "abcd", cfg.SecretKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Installations = []InstallationConfig{{Name: "tf1"}}
		cfg.Pools = []PoolConfig{{
			Name: "aws",
			Templates: []TemplateConfig{{
				Name:          "small",
				Labels:        "linux",
				Config:        "terraform {}",
				Installation:  "tf1",
				WorkspacePath: "/home/ci",
			}},
		}}
		return cfg
	}
	neg := -1
	zero := 0

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad pool name", mutate: func(c *Config) { c.Pools[0].Name = "a-b" }, wantErr: "invalid name"},
		{name: "duplicate pool", mutate: func(c *Config) { c.Pools = append(c.Pools, c.Pools[0]) }, wantErr: "duplicate name"},
		{name: "bad template name", mutate: func(c *Config) { c.Pools[0].Templates[0].Name = "" }, wantErr: "invalid name"},
		{name: "no workspace path", mutate: func(c *Config) { c.Pools[0].Templates[0].WorkspacePath = "" }, wantErr: "workspacePath"},
		{name: "zero executors", mutate: func(c *Config) { c.Pools[0].Templates[0].Executors = &zero }, wantErr: "executors"},
		{name: "negative cap", mutate: func(c *Config) { c.Pools[0].Templates[0].InstanceCap = -1 }, wantErr: "instanceCap"},
		{name: "negative timeout", mutate: func(c *Config) { c.Pools[0].TimeoutMinutes = &neg }, wantErr: "timeoutMinutes"},
		{name: "negative idle allowed", mutate: func(c *Config) { c.Pools[0].Templates[0].IdleTimeoutMinutes = &neg }},
		{name: "both config sources", mutate: func(c *Config) { c.Pools[0].Templates[0].ConfigDirectory = "dir" }, wantErr: "mutually exclusive"},
		{name: "no config source", mutate: func(c *Config) { c.Pools[0].Templates[0].Config = "" }, wantErr: "one of config"},
		{name: "unknown installation", mutate: func(c *Config) { c.Pools[0].Templates[0].Installation = "tf2" }, wantErr: "unknown installation"},
		{name: "operator in label", mutate: func(c *Config) { c.Pools[0].Templates[0].Labels = "linux a&&b" }, wantErr: "invalid label"},
		{name: "bad callback", mutate: func(c *Config) { c.Server.CallbackURL = "ftp://x" }, wantErr: "callbackURL"},
		{name: "incomplete binding", mutate: func(c *Config) {
			c.Pools[0].Templates[0].Credentials = []CredentialBinding{{Variable: "aws"}}
		}, wantErr: "credential bindings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
