package runner

import (
	"fmt"
	"strings"
	"time"
)

// ExitError reports a command that exited with a non-zero code
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}

// TimeoutError reports a command killed after exceeding its time bound
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s and was killed", e.Name, e.Timeout)
}

// CommandError wraps any failure of a command together with its complete
// output transcript
type CommandError struct {
	Command []string
	Output  []string
	Err     error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed: %v\n\toutput:\n\t\t\"\"\n", strings.Join(e.Command, " "), e.Err)
	for _, line := range e.Output {
		b.WriteString("\t\t")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\t\t\"\"")
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
