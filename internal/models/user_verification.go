package models

import (
	"time"

	"comedores/internal/utils"
)

// VerificationState is derived, never stored.
type VerificationState string

const (
	StateUnverifiedNoCode VerificationState = "UNVERIFIED_NO_CODE"
	StateCodeIssued       VerificationState = "CODE_ISSUED"
	StateLockedOut        VerificationState = "LOCKED_OUT"
	StateVerified         VerificationState = "VERIFIED"
)

// UserVerification is the one-per-account verification record.
// Code and ExpiresAt are either both set or both nil.
type UserVerification struct {
	UserID         int64      `json:"user_id" db:"user_id"`
	EmailVerified  bool       `json:"email_verified" db:"email_verified"`
	Code           *string    `json:"-" db:"code"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IssueNewCode opens a new verification cycle.
func (v *UserVerification) IssueNewCode(code string, now time.Time, window time.Duration) {
	exp := now.Add(window)
	v.Code = &code
	v.ExpiresAt = &exp
	v.FailedAttempts = 0
	v.UpdatedAt = now
}

// HasOpenCode reports whether a code is set and not yet past its expiry.
func (v *UserVerification) HasOpenCode(now time.Time) bool {
	if v.Code == nil || v.ExpiresAt == nil {
		return false
	}
	return !now.After(*v.ExpiresAt)
}

// CodeIsValid does not touch FailedAttempts; callers count misses.
func (v *UserVerification) CodeIsValid(candidate string, now time.Time) bool {
	if !v.HasOpenCode(now) {
		return false
	}
	return utils.CodesEqual(*v.Code, candidate)
}

// ClearCode closes the current cycle without verifying.
func (v *UserVerification) ClearCode(now time.Time) {
	v.Code = nil
	v.ExpiresAt = nil
	v.FailedAttempts = 0
	v.UpdatedAt = now
}

// MarkVerified is terminal.
func (v *UserVerification) MarkVerified(now time.Time) {
	v.EmailVerified = true
	v.ClearCode(now)
}

func (v *UserVerification) State(now time.Time, cooldownActive bool) VerificationState {
	switch {
	case v.EmailVerified:
		return StateVerified
	case v.HasOpenCode(now):
		return StateCodeIssued
	case v.Code == nil && cooldownActive:
		return StateLockedOut
	default:
		return StateUnverifiedNoCode
	}
}
