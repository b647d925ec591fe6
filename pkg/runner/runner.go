package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/metrics"
)

const (
	maxLineSize = 1024 * 1024

	// DefaultDrainTimeout is how long the output reader may keep reading
	// after the process exited, for output still held by its children
	DefaultDrainTimeout = 2 * time.Second
)

var ansiEscape = regexp.MustCompile(`\x1b\[[\d;]*m`)

// Runner runs commands of a single executable
type Runner struct {
	Executable   string
	DrainTimeout time.Duration
}

// New returns a Runner for executable
func New(executable string) *Runner {
	return &Runner{Executable: executable, DrainTimeout: DefaultDrainTimeout}
}

// Command describes one invocation
type Command struct {
	Args      []string
	Dir       string
	Env       []string // Added to the current environment
	StripANSI bool
	Agent     string // Logged with every output line when set
}

// Process is a started command as seen by a WaitFunc
type Process struct {
	cmd    *exec.Cmd
	output *OutputBuffer
	done   chan struct{}

	exitCode int
	waitErr  error
}

// Pid returns the operating system process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Output returns the live output buffer
func (p *Process) Output() *OutputBuffer {
	return p.output
}

// Done is closed once the process has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code. Only valid once Done is closed; -1 when the
// process was terminated by a signal.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// Kill terminates the process and its process group
func (p *Process) Kill() error {
	return killProcessGroup(p.cmd)
}

// WaitFunc decides when a process is finished and what its outcome means
type WaitFunc[T any] func(p *Process) (T, error)

// BlockUntilExit waits for the process however long it takes. A non-zero
// exit code is an *ExitError.
func BlockUntilExit(name string) WaitFunc[struct{}] {
	return func(p *Process) (struct{}, error) {
		<-p.Done()
		if p.waitErr != nil && p.exitCode == 0 {
			return struct{}{}, p.waitErr
		}
		if p.exitCode != 0 {
			return struct{}{}, &ExitError{Name: name, Code: p.exitCode}
		}
		return struct{}{}, nil
	}
}

// BoundedWait waits up to timeout. A process still running by then is killed
// and reported as a *TimeoutError, whatever it would have done next.
func BoundedWait(name string, timeout time.Duration) WaitFunc[struct{}] {
	exited := BlockUntilExit(name)
	return func(p *Process) (struct{}, error) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-p.Done():
			return exited(p)
		case <-timer.C:
		}

		if err := p.Kill(); err != nil {
			logger := log.WithComponent("runner")
			logger.Warn().Err(err).Int("pid", p.Pid()).Msg("Failed to kill timed out process")
		}
		<-p.Done()
		metrics.CommandTimeouts.Inc()
		return struct{}{}, &TimeoutError{Name: name, Timeout: timeout}
	}
}

// ExitCode waits for the process and returns its exit code without judging it
func ExitCode() WaitFunc[int] {
	return func(p *Process) (int, error) {
		<-p.Done()
		return p.exitCode, nil
	}
}

// Run starts the command with stdout and stderr merged, captures its output
// and hands the process to wait. Any error from wait is returned as a
// *CommandError carrying the full transcript. The output reader never
// outlives Run.
func Run[T any](r *Runner, c Command, wait WaitFunc[T]) (T, error) {
	var zero T

	pr, pw, err := os.Pipe()
	if err != nil {
		return zero, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(r.Executable, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	name := commandName(c.Args)
	timer := metrics.NewTimer()

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return zero, &CommandError{Command: r.argv(c), Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := &Process{
		cmd:    cmd,
		output: &OutputBuffer{},
		done:   make(chan struct{}),
	}

	logger := log.WithComponent("terraform")
	if c.Agent != "" {
		logger = log.WithAgent("terraform", c.Agent)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readOutput(pr, p.output, c.StripANSI, logger)
	}()

	go func() {
		defer close(p.done)
		p.waitErr = cmd.Wait()
		p.exitCode = cmd.ProcessState.ExitCode()
	}()

	result, err := func() (T, error) {
		defer r.cleanup(p, pr, readerDone)
		return wait(p)
	}()

	timer.ObserveDurationVec(metrics.CommandDuration, name)

	if err != nil {
		return zero, &CommandError{Command: r.argv(c), Output: p.output.Snapshot(), Err: err}
	}
	return result, nil
}

// cleanup makes sure the process is gone, gives the reader a bounded drain
// window and then closes the read end and joins it.
func (r *Runner) cleanup(p *Process, pr *os.File, readerDone <-chan struct{}) {
	select {
	case <-p.done:
	default:
		_ = p.Kill()
		<-p.done
	}

	drain := r.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	timer := time.NewTimer(drain)
	defer timer.Stop()

	select {
	case <-readerDone:
	case <-timer.C:
	}
	pr.Close()
	<-readerDone
}

func readOutput(rd io.Reader, buf *OutputBuffer, stripANSI bool, logger zerolog.Logger) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if stripANSI {
			line = ansiEscape.ReplaceAllString(line, "")
		}
		buf.Append(line)
		logger.Info().Msg(line)
	}

	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("Stopped capturing command output")
		buf.Append(fmt.Sprintf("[output truncated: %v]", err))
		// Keep the pipe drained so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, rd)
	}
}

func (r *Runner) argv(c Command) []string {
	return append([]string{r.Executable}, c.Args...)
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "none"
	}
	return args[0]
}
