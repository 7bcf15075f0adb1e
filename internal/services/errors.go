package services

import (
	"errors"
	"fmt"
)

// Expected outcomes. Handlers map each one to a user-facing message.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrAccountNotFound    = errors.New("account not found")
	ErrCodeExpired        = errors.New("code expired")
	ErrCodeInvalid        = errors.New("code invalid")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrCooldownActive     = errors.New("resend cooldown active")
	ErrResendThrottled    = errors.New("resend throttled")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// VerificationError carries the numbers the caller shows to the user.
// errors.Is matches Kind; errors.As exposes the details.
type VerificationError struct {
	Kind              error
	RemainingAttempts int
	MaxTries          int
	RetryAfterSeconds int
	Err               error
}

func (e *VerificationError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrCodeInvalid):
		return fmt.Sprintf("%v: %d attempt(s) left", e.Kind, e.RemainingAttempts)
	case errors.Is(e.Kind, ErrTooManyAttempts):
		return fmt.Sprintf("%v: max %d, retry in %ds", e.Kind, e.MaxTries, e.RetryAfterSeconds)
	case e.RetryAfterSeconds > 0:
		return fmt.Sprintf("%v: retry in %ds", e.Kind, e.RetryAfterSeconds)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InputError names the offending field. errors.Is matches ErrInvalidInput.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidInput, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

func wrongCode(remaining int) error {
	return &VerificationError{Kind: ErrCodeInvalid, RemainingAttempts: remaining}
}

func lockedOut(maxTries, retryAfter int) error {
	return &VerificationError{Kind: ErrTooManyAttempts, MaxTries: maxTries, RetryAfterSeconds: retryAfter}
}

func throttled(kind error, retryAfter int) *VerificationError {
	return &VerificationError{Kind: kind, RetryAfterSeconds: retryAfter}
}

func deliveryFailed(err error) error {
	return &VerificationError{Kind: ErrDeliveryFailed, Err: err}
}
