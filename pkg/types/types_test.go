package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/terrapool/pkg/labels"
)

func TestTemplateMatches(t *testing.T) {
	tests := []struct {
		name     string
		template Template
		label    string
		want     bool
	}{
		{"unlabeled template, unlabeled request", Template{}, "", true},
		{"labeled template, unlabeled request", Template{Labels: "linux"}, "", false},
		{"labeled template allowing unlabeled", Template{Labels: "linux", AllowUnlabeled: true}, "", true},
		{"matching expression", Template{Labels: "linux docker"}, "linux && docker", true},
		{"non-matching expression", Template{Labels: "linux"}, "windows", false},
		{"unlabeled template, labeled request", Template{}, "linux", false},
		{"negation on unlabeled template", Template{}, "!windows", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.template.Matches(labels.MustParse(tt.label)))
		})
	}
}

func TestPoolLookup(t *testing.T) {
	pool := &Pool{
		Name: "aws",
		Templates: []*Template{
			{Name: "small", Labels: "small"},
			{Name: "large", Labels: "large"},
		},
	}

	assert.Equal(t, "large", pool.Template("large").Name)
	assert.Nil(t, pool.Template("medium"))
	assert.True(t, pool.CanProvision(labels.MustParse("large")))
	assert.False(t, pool.CanProvision(labels.MustParse("medium")))
	assert.False(t, pool.CanProvision(nil))
}

func TestRetention(t *testing.T) {
	assert.Equal(t, Retention{Kind: RetentionOnce}, (&Template{Executors: 1}).Retention())
	assert.Equal(t, Retention{Kind: RetentionIdle, IdleMinutes: 10},
		(&Template{Executors: 1, IdleTimeoutMinutes: 10}).Retention())
	assert.Equal(t, Retention{Kind: RetentionIdle, IdleMinutes: 0},
		(&Template{Executors: 2}).Retention())
}

func TestExecutorCount(t *testing.T) {
	assert.Equal(t, 1, (&Template{}).ExecutorCount())
	assert.Equal(t, 4, (&Template{Executors: 4}).ExecutorCount())
}

func TestInstallationExecutable(t *testing.T) {
	home := t.TempDir()

	inst := &Installation{Name: "tf", Home: home}
	_, err := inst.Executable()
	assert.Error(t, err, "missing executable")

	bin := filepath.Join(home, ExecutableName())
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	path, err := inst.Executable()
	require.NoError(t, err)
	assert.Equal(t, bin, path)

	_, err = (&Installation{Name: "tf", Home: filepath.Join(home, "missing")}).Executable()
	assert.Error(t, err)
}
