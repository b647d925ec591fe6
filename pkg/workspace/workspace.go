package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/types"
)

const (
	// DirName is the directory under the root dir holding every workspace
	DirName = "terrapool-workspaces"

	// StateFileName is the terraform state file inside a workspace
	StateFileName = "terrapool.tfstate"

	// VariablesFileName is the variables file inside a workspace
	VariablesFileName = "terrapool.tfvars"
)

var (
	ErrDirectoryCreation    = errors.New("workspace directory could not be created")
	ErrConfigWrite          = errors.New("terraform configuration could not be written")
	ErrConfigSourceNotFound = errors.New("terraform configuration directory not found")
	ErrNotFound             = errors.New("workspace not found")
)

// Workspace is the staging directory of one agent. It is owned by exactly
// one provisioning attempt, or by the agent the attempt produced.
type Workspace struct {
	Dir           string
	StateFile     string
	VariablesFile string
	Executable    string // Terraform binary managing this workspace, set by the owner

	vars      *Variables
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// Path returns the workspace directory for name under rootDir
func Path(rootDir, name string) string {
	return filepath.Join(rootDir, DirName, name)
}

// Create builds the workspace for name under rootDir and materializes the
// configuration from src. vars is copied.
func Create(rootDir, name string, src types.ConfigSource, vars *Variables) (*Workspace, error) {
	dir := Path(rootDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryCreation, dir, err)
	}

	ws := newWorkspace(dir, vars)

	var err error
	switch {
	case src.Inline != "":
		err = writeInline(dir, src.Inline)
	case src.Directory != "":
		from := src.Directory
		if !filepath.IsAbs(from) {
			from = filepath.Join(rootDir, from)
		}
		err = copyConfig(from, dir)
	}
	if err != nil {
		ws.Close()
		return nil, err
	}

	return ws, nil
}

// Open returns a handle over an existing workspace directory
func Open(dir string, vars *Variables) (*Workspace, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	return newWorkspace(dir, vars), nil
}

func newWorkspace(dir string, vars *Variables) *Workspace {
	if vars == nil {
		vars = NewVariables()
	}
	return &Workspace{
		Dir:           dir,
		StateFile:     filepath.Join(dir, StateFileName),
		VariablesFile: filepath.Join(dir, VariablesFileName),
		vars:          vars.Clone(),
	}
}

// Variables returns a copy of the workspace variables
func (w *Workspace) Variables() *Variables {
	return w.vars.Clone()
}

// WriteVariables writes the variables file and returns a release func that
// deletes it. Callers defer release around a single terraform invocation so
// the secrets it carries never outlive that command.
func (w *Workspace) WriteVariables() (release func() error, err error) {
	if err := os.WriteFile(w.VariablesFile, []byte(w.vars.Render()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write variables file: %w", err)
	}

	return func() error {
		if err := os.Remove(w.VariablesFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete variables file: %w", err)
		}
		return nil
	}, nil
}

// Closed reports whether Close has run
func (w *Workspace) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close deletes the workspace, files first and then directories, deepest
// first. Missing paths are skipped; other failures are logged and the walk
// goes on. Only the first call does anything.
func (w *Workspace) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = removeTree(w.Dir)
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	})
	return err
}

func removeTree(root string) error {
	logger := log.WithComponent("workspace")

	var files, dirs []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			logger.Warn().Err(err).Str("path", path).Msg("Failed to walk workspace")
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})

	var errs []error
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	// Longer paths are deeper; removing them first empties every parent.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, path := range append(files, dirs...) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to delete workspace path")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func writeInline(dir, text string) error {
	f, err := os.CreateTemp(dir, "terraform*.tf")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}
	name := f.Name()

	_, werr := io.WriteString(f, text)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, errors.Join(werr, cerr))
	}

	if _, err := os.Stat(name); err != nil {
		return fmt.Errorf("%w: %s is missing", ErrConfigWrite, name)
	}
	return nil
}

func copyConfig(from, to string) error {
	info, err := os.Stat(from)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrConfigSourceNotFound, from)
	}

	err = filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil || rel == "." {
			return err
		}
		target := filepath.Join(to, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			// The workspace must stay writable even when the source is not.
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
	if err != nil {
		return fmt.Errorf("failed to copy configuration from %s: %w", from, err)
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, perm)
}
