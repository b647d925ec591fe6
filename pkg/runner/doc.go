// Package runner executes the terraform binary as a subprocess.
//
// Stdout and stderr share one pipe, so the captured transcript keeps the
// order terraform wrote it in. A background goroutine reads it line by line
// into an OutputBuffer and logs every line. A WaitFunc decides when the
// command is done and what its exit code means:
//
//	_, err := runner.Run(r, runner.Command{Args: []string{"init", "-no-color"}, Dir: dir},
//		runner.BoundedWait("init", 10*time.Minute))
//
// Any error a WaitFunc returns comes back as a *CommandError holding the full
// transcript.
package runner
