package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/terrapool/pkg/config"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/scheduler"
	"github.com/cuemby/terrapool/pkg/types"
	"github.com/cuemby/terrapool/pkg/workspace"
)

func TestReattacher(t *testing.T) {
	root := t.TempDir()
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, types.ExecutableName()), []byte("#!/bin/sh\n"), 0755))

	coord := provision.NewCoordinator(provision.Config{
		RootDir:       root,
		CallbackURL:   "http://localhost:8420",
		Installations: config.Installations{"tf": {Name: "tf", Home: home}},
	})
	pools := []*types.Pool{{
		Name:      "aws",
		Templates: []*types.Template{{Name: "small", Installation: "tf", Executors: 1}},
	}}
	reattach := reattacher(coord, root, pools)
	ctx := context.Background()

	_, err := reattach(ctx, &types.Agent{Name: "a", Pool: "gcp", Template: "small"})
	assert.ErrorIs(t, err, scheduler.ErrUnknownPool)

	_, err = reattach(ctx, &types.Agent{Name: "a", Pool: "aws", Template: "big"})
	assert.Error(t, err)

	name := "terrapool-aws-small-0b7c8e0a-5d3b-4c59-9d43-58e1f2a1c001"
	_, err = reattach(ctx, &types.Agent{Name: name, Pool: "aws", Template: "small"})
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	require.NoError(t, os.MkdirAll(workspace.Path(root, name), 0755))
	agent, err := reattach(ctx, &types.Agent{Name: name, Pool: "aws", Template: "small"})
	require.NoError(t, err)
	assert.Equal(t, workspace.Path(root, name), agent.Workspace.Dir)
	assert.Equal(t, "small", agent.Template.Name)
}

func TestLoadKeysFromEnv(t *testing.T) {
	cfg := config.Default()
	cfg.SecretKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	keys, err := loadKeys(cfg)
	require.NoError(t, err)
	assert.Len(t, keys.AgentSecret, 32)

	cfg.SecretKey = "zz"
	_, err = loadKeys(cfg)
	assert.Error(t, err)

	cfg.SecretKey = ""
	cfg.Server.SecretKeyFile = filepath.Join(t.TempDir(), "master.key")
	first, err := loadKeys(cfg)
	require.NoError(t, err)
	second, err := loadKeys(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
