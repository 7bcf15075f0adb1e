package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comedores/internal/models"
	"comedores/internal/repositories"
)

func TestVerification_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")

	res := f.register(t, "Ana@Example.com")
	assert.Equal(t, "ana@example.com", res.Email)
	require.Equal(t, 1, f.mailer.count())
	assert.Equal(t, []string{"ana@example.com"}, f.mailer.last().To)
	assert.Equal(t, "042918", f.mailer.lastCode(t))

	for i, want := range []int{2, 1} {
		_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "000000")
		require.ErrorIs(t, err, ErrCodeInvalid, "attempt %d", i+1)
		var verr *VerificationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, want, verr.RemainingAttempts)
	}

	out, err := f.svc.AttemptVerify(ctx, "ANA@example.com", "042918")
	require.NoError(t, err)
	assert.False(t, out.AlreadyVerified)
	assert.Equal(t, res.UserID, out.User.ID)

	v, err := f.store.GetVerification(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, v.EmailVerified)
	assert.Nil(t, v.Code)
	assert.Nil(t, v.ExpiresAt)
	assert.Zero(t, v.FailedAttempts)
}

func TestVerification_IdempotentVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("123456")
	res := f.register(t, "ana@example.com")

	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "123456")
	require.NoError(t, err)
	before, _ := f.store.GetVerification(ctx, res.UserID)

	out, err := f.svc.AttemptVerify(ctx, "ana@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, out.AlreadyVerified)

	after, _ := f.store.GetVerification(ctx, res.UserID)
	assert.Equal(t, before, after)

	// Any candidate is a no-op once verified.
	out, err = f.svc.AttemptVerify(ctx, "ana@example.com", "999999")
	require.NoError(t, err)
	assert.True(t, out.AlreadyVerified)
}

func TestVerification_LockoutBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	res := f.register(t, "ana@example.com")
	f.clock.Advance(time.Minute) // registration cooldown over

	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "000000")
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrCodeInvalid)
	assert.Equal(t, 2, verr.RemainingAttempts)

	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "000001")
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrCodeInvalid)
	assert.Equal(t, 1, verr.RemainingAttempts)

	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "000002")
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 3, verr.MaxTries)
	assert.Equal(t, 60, verr.RetryAfterSeconds)

	v, _ := f.store.GetVerification(ctx, res.UserID)
	assert.Nil(t, v.Code, "lockout invalidates the code")
	assert.Nil(t, v.ExpiresAt)
	assert.Zero(t, v.FailedAttempts)

	// Even the old correct code is refused while locked out.
	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	st, err := f.svc.Status(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StateLockedOut, st)

	err = f.svc.RequestResend(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrCooldownActive, "lockout starts the cooldown")

	f.clock.Advance(61 * time.Second)
	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	assert.ErrorIs(t, err, ErrCodeExpired, "no code left: resend is required")
	assert.Equal(t, 1, f.mailer.count(), "verify never sends mail")

	f.fixedCodes("777777")
	require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"))
	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "777777")
	require.NoError(t, err)
}

func TestVerification_ExpiredCodeNotReissued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	res := f.register(t, "ana@example.com")

	f.clock.Advance(15*time.Minute + time.Second)
	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, 1, f.mailer.count())

	v, _ := f.store.GetVerification(ctx, res.UserID)
	require.NotNil(t, v.Code, "expired code is left in place")
	assert.Equal(t, "042918", *v.Code)
	assert.Zero(t, v.FailedAttempts, "expired attempts do not count")
}

func TestVerification_ValidAtExactExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	f.register(t, "ana@example.com")

	f.clock.Advance(15 * time.Minute)
	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	assert.NoError(t, err)
}

func TestVerification_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AttemptVerify(ctx, "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	err = f.svc.RequestResend(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = f.svc.AttemptVerify(ctx, "", "123456")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerification_ResendCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com")

	err := f.svc.RequestResend(ctx, "ana@example.com")
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, 60, verr.RetryAfterSeconds)

	f.clock.Advance(30 * time.Second)
	err = f.svc.RequestResend(ctx, "ana@example.com")
	require.ErrorAs(t, err, &verr)
	assert.Greater(t, verr.RetryAfterSeconds, 0)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"))
	assert.Equal(t, 2, f.mailer.count())

	err = f.svc.RequestResend(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrCooldownActive, "each dispatch restarts the cooldown")
}

func TestVerification_ResendIssuesNewCodeAndResetsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("111111", "222222")
	res := f.register(t, "ana@example.com")

	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "000000")
	require.ErrorIs(t, err, ErrCodeInvalid)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"))
	assert.Equal(t, "222222", f.mailer.lastCode(t))

	v, _ := f.store.GetVerification(ctx, res.UserID)
	assert.Zero(t, v.FailedAttempts)
	assert.True(t, f.clock.Now().Add(15*time.Minute).Equal(*v.ExpiresAt))

	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "111111")
	assert.ErrorIs(t, err, ErrCodeInvalid, "old code no longer valid")
	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "222222")
	assert.NoError(t, err)
}

func TestVerification_SlidingBucket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(tc *ThrottleConfig, _ *VerificationConfig) {
		tc.Cooldown = 10 * time.Second
	})
	f.register(t, "ana@example.com")

	for i := 0; i < 3; i++ {
		f.clock.Advance(10 * time.Second)
		require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"), "resend %d", i+1)
	}
	// Window opened at +10s; now +40s.
	f.clock.Advance(10 * time.Second)
	err := f.svc.RequestResend(ctx, "ana@example.com")
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrResendThrottled)
	assert.Equal(t, 30, verr.RetryAfterSeconds)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"), "window lapsed")
	assert.Equal(t, 5, f.mailer.count())
}

func TestVerification_ResendAlreadyVerified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	f.register(t, "ana@example.com")
	_, err := f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	err = f.svc.RequestResend(ctx, "ana@example.com")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Equal(t, 1, f.mailer.count())
}

func TestVerification_ResendDeliveryFailureKeepsCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("111111", "222222")
	res := f.register(t, "ana@example.com")
	f.clock.Advance(time.Minute)

	f.mailer.fail(errSMTPDown)
	err := f.svc.RequestResend(ctx, "ana@example.com")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, errSMTPDown)

	v, _ := f.store.GetVerification(ctx, res.UserID)
	require.NotNil(t, v.Code)
	assert.Equal(t, "222222", *v.Code)

	remaining, err := f.throttle.CooldownRemaining(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Zero(t, remaining, "failed dispatch does not start a cooldown")

	f.mailer.fail(nil)
	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "222222")
	assert.NoError(t, err)
}

func TestVerification_RegisterDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.fail(errSMTPDown)

	res, err := f.svc.Register(ctx, RegisterInput{
		Username: "ana", Email: "ana@example.com", Password: "secreto123",
	})
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.NotNil(t, res)

	u, err := f.store.GetUserByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, u, "account is kept")

	f.mailer.fail(nil)
	require.NoError(t, f.svc.RequestResend(ctx, "ana@example.com"), "no cooldown after a failed send")
}

func TestVerification_RegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secreto123"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "otra", Email: "ANA@example.com", Password: "secreto123"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "ANA", Email: "otra@example.com", Password: "secreto123"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestVerification_RegisterValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		in    RegisterInput
		field string
	}{
		{RegisterInput{Username: "", Email: "ana@example.com", Password: "secreto123"}, "username"},
		{RegisterInput{Username: "ana", Email: "not-an-email", Password: "secreto123"}, "email"},
		{RegisterInput{Username: "ana", Email: "Ana <ana@example.com>", Password: "secreto123"}, "email"},
		{RegisterInput{Username: "ana", Email: "ana@example.com", Password: "123"}, "password"},
	}
	for _, tc := range cases {
		_, err := f.svc.Register(ctx, tc.in)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", tc.in)
		var ierr *InputError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, tc.field, ierr.Field)
	}
	assert.Zero(t, f.mailer.count())
}

func TestVerification_ConcurrentWrongGuessesAreAllCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	f.register(t, "ana@example.com")

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AttemptVerify(ctx, "ana@example.com", "000000")
		}(i)
	}
	wg.Wait()

	var wrong, locked int
	for _, err := range errs {
		switch {
		case errors.Is(err, ErrCodeInvalid):
			wrong++
		case errors.Is(err, ErrTooManyAttempts):
			locked++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	assert.Equal(t, 2, wrong, "only max_tries-1 guesses are forgiven")
	assert.Equal(t, n-2, locked)
}

// staleCheckStore answers "not taken" to the pre-checks, as a registration
// that lost the race to a concurrent commit would see it.
type staleCheckStore struct{ *repositories.MemoryAccountStore }

func (s staleCheckStore) InTx(ctx context.Context, fn func(tx repositories.AccountTx) error) error {
	return s.MemoryAccountStore.InTx(ctx, func(tx repositories.AccountTx) error {
		return fn(staleCheckTx{tx})
	})
}

type staleCheckTx struct{ repositories.AccountTx }

func (staleCheckTx) EmailTaken(context.Context, string) (bool, error)    { return false, nil }
func (staleCheckTx) UsernameTaken(context.Context, string) (bool, error) { return false, nil }

func TestVerification_RegisterLosesUniqueIndexRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "secreto123"})
	require.NoError(t, err)

	svc := NewVerificationService(staleCheckStore{f.store}, f.throttle, f.mailer, f.auth, f.clock,
		VerificationConfig{Window: 15 * time.Minute, MaxTries: 3}, zap.NewNop())

	_, err = svc.Register(ctx, RegisterInput{Username: "Ana", Email: "otra@example.com", Password: "secreto123"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.NotErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Register(ctx, RegisterInput{Username: "otra", Email: "ANA@example.com", Password: "secreto123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, 1, f.mailer.count())
}

func TestVerification_ConcurrentResendsSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ana@example.com")
	f.clock.Advance(time.Minute)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.RequestResend(ctx, "ana@example.com")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrCooldownActive)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, f.mailer.count())
}

func TestVerification_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fixedCodes("042918")
	res := f.register(t, "ana@example.com")

	st, err := f.svc.Status(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StateCodeIssued, st)

	_, err = f.svc.AttemptVerify(ctx, "ana@example.com", "042918")
	require.NoError(t, err)

	st, err = f.svc.StatusForUser(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.StateVerified, st)

	_, err = f.svc.Status(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
