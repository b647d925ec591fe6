package provision

import (
	"errors"
	"fmt"
)

var (
	ErrInstallationNotFound = errors.New("terraform installation not found")
	ErrMissingCredentials   = errors.New("could not resolve all credentials")
	ErrInitFailed           = errors.New("terraform init failed")
	ErrFetchFailed          = errors.New("terraform get failed")
	ErrTeardownFailed       = errors.New("terraform destroy failed")
)

// ApplyFailedError is the result of a failed apply. Err is the apply failure
// and stays the primary cause; Teardown holds the failure of the
// compensating destroy, if that failed too.
type ApplyFailedError struct {
	Name     string
	Err      error
	Teardown error
}

func (e *ApplyFailedError) Error() string {
	msg := fmt.Sprintf("terraform apply failed for %s: %v", e.Name, e.Err)
	if e.Teardown != nil {
		msg += fmt.Sprintf("\n\tsuppressed: %v", e.Teardown)
	}
	return msg
}

// Unwrap returns the apply failure only. Use Suppressed for the teardown.
func (e *ApplyFailedError) Unwrap() error {
	return e.Err
}

// Suppressed returns the failure of the compensating destroy, or nil
func (e *ApplyFailedError) Suppressed() error {
	return e.Teardown
}
