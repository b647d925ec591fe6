package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/terrapool/pkg/types"
)

func TestCreateInline(t *testing.T) {
	root := t.TempDir()
	vars := NewVariables()
	vars.Set("a", "1")

	ws, err := Create(root, "agent-1", types.ConfigSource{Inline: "resource x {}"}, vars)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, DirName, "agent-1"), ws.Dir)
	assert.Equal(t, filepath.Join(ws.Dir, StateFileName), ws.StateFile)
	assert.Equal(t, filepath.Join(ws.Dir, VariablesFileName), ws.VariablesFile)

	matches, err := filepath.Glob(filepath.Join(ws.Dir, "terraform*.tf"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "resource x {}", string(data))

	assert.NoFileExists(t, ws.StateFile)
	assert.NoFileExists(t, ws.VariablesFile)
}

func TestCreateVariablesAreCopied(t *testing.T) {
	vars := NewVariables()
	vars.Set("a", "1")

	ws, err := Create(t.TempDir(), "agent", types.ConfigSource{}, vars)
	require.NoError(t, err)

	vars.Set("a", "2")
	vars.Set("b", "3")

	got := ws.Variables()
	v, _ := got.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, got.Len())

	got.Set("c", "4")
	assert.Equal(t, 1, ws.Variables().Len())
}

func TestCreateDirectory(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "configs", "aws")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "modules", "net"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.tf"), []byte("main"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "modules", "net", "net.tf"), []byte("net"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh"), 0755))

	ws, err := Create(root, "agent", types.ConfigSource{Directory: "configs/aws"}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "modules", "net", "net.tf"))
	require.NoError(t, err)
	assert.Equal(t, "net", string(data))

	info, err := os.Stat(filepath.Join(ws.Dir, "modules", "net", "net.tf"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(ws.Dir, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	assert.FileExists(t, filepath.Join(ws.Dir, "main.tf"))
}

func TestCreateFromReadOnlySource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "configs", "packaged")
	modules := filepath.Join(src, "modules")
	require.NoError(t, os.MkdirAll(modules, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modules, "m.tf"), []byte("module"), 0444))
	require.NoError(t, os.Chmod(modules, 0555))
	t.Cleanup(func() { _ = os.Chmod(modules, 0755) })

	ws, err := Create(root, "agent", types.ConfigSource{Directory: "configs/packaged"}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "modules", "m.tf"))
	require.NoError(t, err)
	assert.Equal(t, "module", string(data))

	info, err := os.Stat(filepath.Join(ws.Dir, "modules"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200, "copied directory must be owner writable")

	require.NoError(t, ws.Close())
	assert.NoDirExists(t, ws.Dir)
}

func TestCreateErrors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain"), []byte("x"), 0644))

	t.Run("missing directory source", func(t *testing.T) {
		_, err := Create(root, "a1", types.ConfigSource{Directory: "nope"}, nil)
		assert.ErrorIs(t, err, ErrConfigSourceNotFound)
		assert.NoDirExists(t, Path(root, "a1"))
	})

	t.Run("source is a file", func(t *testing.T) {
		_, err := Create(root, "a2", types.ConfigSource{Directory: "plain"}, nil)
		assert.ErrorIs(t, err, ErrConfigSourceNotFound)
		assert.NoDirExists(t, Path(root, "a2"))
	})

	t.Run("root is a file", func(t *testing.T) {
		_, err := Create(filepath.Join(root, "plain"), "a3", types.ConfigSource{}, nil)
		assert.ErrorIs(t, err, ErrDirectoryCreation)
	})
}

func TestWriteVariables(t *testing.T) {
	vars := NewVariables()
	vars.Set("terrapool_url", "http://ci:8080/")
	vars.Set("quoted", `say "hi"`)
	vars.Set("template", "${var.x} %{if}")
	vars.Set("multi", "a\nb\\c")

	ws, err := Create(t.TempDir(), "agent", types.ConfigSource{}, vars)
	require.NoError(t, err)

	release, err := ws.WriteVariables()
	require.NoError(t, err)

	data, err := os.ReadFile(ws.VariablesFile)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`terrapool_url= "http://ci:8080/"`,
		`quoted= "say \"hi\""`,
		`template= "$${var.x} %%{if}"`,
		`multi= "a\nb\\c"`,
	}, "\n"), string(data))

	info, err := os.Stat(ws.VariablesFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, release())
	assert.NoFileExists(t, ws.VariablesFile)
	assert.NoError(t, release(), "releasing a missing file succeeds")
}

func TestVariablesKeepInsertionOrder(t *testing.T) {
	vars := NewVariables()
	vars.Set("b", "1")
	vars.Set("a", "2")
	vars.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, vars.Keys())
	assert.Equal(t, "b= \"3\"\na= \"2\"", vars.Render())
}

func TestClose(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "cfg")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b", "c"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "c", "deep.tf"), nil, 0644))

	ws, err := Create(root, "agent", types.ConfigSource{Directory: "cfg"}, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.StateFile, []byte("{}"), 0644))

	assert.False(t, ws.Closed())
	require.NoError(t, ws.Close())
	assert.True(t, ws.Closed())
	assert.NoDirExists(t, ws.Dir)
	assert.DirExists(t, filepath.Join(root, DirName))
	assert.DirExists(t, src)

	// A directory recreated at the same path is left alone by a second Close.
	require.NoError(t, os.MkdirAll(ws.Dir, 0755))
	require.NoError(t, ws.Close())
	assert.DirExists(t, ws.Dir)
}

func TestCloseMissingDirectory(t *testing.T) {
	ws, err := Create(t.TempDir(), "agent", types.ConfigSource{}, nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(ws.Dir))
	assert.NoError(t, ws.Close())
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	vars := NewVariables()
	vars.Set("k", "v")

	created, err := Create(root, "agent", types.ConfigSource{}, nil)
	require.NoError(t, err)

	ws, err := Open(created.Dir, vars)
	require.NoError(t, err)
	assert.Equal(t, created.StateFile, ws.StateFile)
	v, ok := ws.Variables().Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, err = Open(filepath.Join(root, "missing"), vars)
	assert.ErrorIs(t, err, ErrNotFound)
}
