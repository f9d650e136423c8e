package order

import "errors"

var (
	// ErrTransient marks a submission failure that may succeed when retried.
	ErrTransient = errors.New("order: submission temporarily unavailable")
	// ErrPermanent marks a submission the backend rejected outright.
	ErrPermanent = errors.New("order: submission rejected")
)

// SubmitError carries the failure class alongside the underlying cause.
type SubmitError struct {
	Class error
	Err   error
}

func (e *SubmitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Class.Error()
	}
	return e.Class.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the class sentinel and the cause to errors.Is/As.
func (e *SubmitError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{e.Class, e.Err}
}

// Transient wraps err as retryable. Already classified errors are returned as-is.
func Transient(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return &SubmitError{Class: ErrTransient, Err: err}
}

// Permanent wraps err as non-retryable. Already classified errors are returned as-is.
func Permanent(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return &SubmitError{Class: ErrPermanent, Err: err}
}

// Classified reports whether err already carries a failure class.
func Classified(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Classify assigns a class to errors a submitter left unclassified. Timeouts,
// cancellations and unknown failures are treated as transient since the
// idempotency key makes a retry safe.
func Classify(err error) error {
	return Transient(err)
}
