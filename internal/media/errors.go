package media

import (
	"errors"
	"fmt"
)

// ValidationError means the client sent missing, malformed or too short input.
type ValidationError struct {
	Field  string // Request parameter that failed validation
	Reason string // Short, stable description, e.g. "query too short"
	Hint   string // Optional remediation shown to the client
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotFoundError means a well-formed query legitimately matched nothing.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no results found for %q", e.Query)
}

// AcquisitionError covers every way the backend can fail to resolve, fetch or
// transcode media. Message carries the backend's own explanation.
type AcquisitionError struct {
	Operation string // "resolve" or "acquire"
	MediaRef  string
	Message   string
	Timeout   bool
	Err       error
}

func (e *AcquisitionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out for %s: %s", e.Operation, e.MediaRef, e.Message)
	}

	return fmt.Sprintf("%s failed for %s: %s", e.Operation, e.MediaRef, e.Message)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// InternalError covers local failures: disk writes, a missing or empty output
// file after the backend reported success, paths escaping the job directory.
type InternalError struct {
	Operation string
	Path      string
	Reason    string
	Err       error
}

func (e *InternalError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Operation, e.Reason, e.Path)
	}

	return fmt.Sprintf("%s: %s", e.Operation, e.Reason)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// AsAcquisitionError returns err unchanged when it already belongs to the
// taxonomy and wraps it into an AcquisitionError otherwise.
func AsAcquisitionError(operation, mediaRef string, err error) error {
	if err == nil {
		return nil
	}

	var (
		acqErr *AcquisitionError
		valErr *ValidationError
		nfErr  *NotFoundError
		intErr *InternalError
	)

	if errors.As(err, &acqErr) || errors.As(err, &valErr) || errors.As(err, &nfErr) || errors.As(err, &intErr) {
		return err
	}

	return &AcquisitionError{
		Operation: operation,
		MediaRef:  mediaRef,
		Message:   err.Error(),
		Err:       err,
	}
}
