package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"comedores/internal/logger"
	"comedores/internal/models"
	"comedores/internal/repositories"
	"comedores/internal/utils"
)

const MinPasswordLen = 6

type VerificationConfig struct {
	Window   time.Duration
	MaxTries int
}

// VerificationService owns the email verification cycle. Every operation that
// touches a profile runs inside one account transaction holding the account
// row lock; throttle state lives in the cache.
type VerificationService struct {
	store    repositories.AccountStore
	throttle *ResendThrottle
	mailer   Notifier
	auth     *AuthService
	clock    utils.Clock
	cfg      VerificationConfig
	log      *zap.Logger
	newCode  func() (string, error)
}

type RegisterInput struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type RegisterResult struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

type VerifyResult struct {
	User            *models.User
	AlreadyVerified bool
}

func NewVerificationService(
	store repositories.AccountStore,
	throttle *ResendThrottle,
	mailer Notifier,
	auth *AuthService,
	clock utils.Clock,
	cfg VerificationConfig,
	log *zap.Logger,
) *VerificationService {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &VerificationService{
		store:    store,
		throttle: throttle,
		mailer:   mailer,
		auth:     auth,
		clock:    clock,
		cfg:      cfg,
		log:      log.Named("verification"),
		newCode:  utils.GenerateCode,
	}
}

func (s *VerificationService) MaxTries() int { return s.cfg.MaxTries }

func (s *VerificationService) windowMinutes() int {
	return int(s.cfg.Window / time.Minute)
}

// Register creates the account with an open verification cycle and sends the
// first code. On ErrDeliveryFailed the account and code exist and the result
// is still returned.
func (s *VerificationService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	const op = "Register"

	email := utils.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	log := s.log.With(zap.String("op", op), zap.String("email", logger.MaskEmail(email)))

	if err := validateRegistration(username, email, in.Password); err != nil {
		log.Info("rejected", zap.Error(err))
		return nil, err
	}

	hash, err := s.auth.HashPassword(in.Password)
	if err != nil {
		log.Error("hash password", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	code, err := s.newCode()
	if err != nil {
		log.Error("generate code", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		PasswordHash: hash,
	}
	var expiresAt time.Time

	err = s.store.InTx(ctx, func(tx repositories.AccountTx) error {
		if taken, err := tx.EmailTaken(ctx, email); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		if taken, err := tx.UsernameTaken(ctx, username); err != nil {
			return err
		} else if taken {
			return ErrUsernameTaken
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			// A concurrent registration won the unique index.
			switch {
			case errors.Is(err, repositories.ErrUsernameExists):
				return ErrUsernameTaken
			case errors.Is(err, repositories.ErrUserExists):
				return ErrEmailTaken
			}
			return err
		}
		v, err := tx.GetOrCreateVerificationForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		v.IssueNewCode(code, s.clock.Now(), s.cfg.Window)
		expiresAt = *v.ExpiresAt
		return tx.SaveVerification(ctx, v)
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			log.Info("rejected", zap.Error(err))
			return nil, err
		}
		log.Error("create account", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &RegisterResult{UserID: user.ID, Email: email, ExpiresAt: expiresAt}
	log = log.With(zap.Int64("user_id", user.ID))

	if err := s.mailer.Send(ctx, VerificationMessage(email, code, s.windowMinutes())); err != nil {
		log.Warn("verification email not delivered", zap.Error(err))
		return res, deliveryFailed(err)
	}
	if err := s.throttle.StartCooldown(ctx, email); err != nil {
		log.Warn("cooldown not recorded", zap.Error(err))
	}
	log.Info("account registered, code sent")
	return res, nil
}

// AttemptVerify checks candidate against the open code. Outcomes are decided
// inside the transaction, which commits so that attempt counters persist.
func (s *VerificationService) AttemptVerify(ctx context.Context, email, candidate string) (*VerifyResult, error) {
	const op = "AttemptVerify"

	email = utils.NormalizeEmail(email)
	candidate = strings.TrimSpace(candidate)
	log := s.log.With(zap.String("op", op), zap.String("email", logger.MaskEmail(email)))

	if email == "" {
		return nil, invalidInput("email", "required")
	}
	if candidate == "" {
		return nil, invalidInput("code", "required")
	}

	var (
		result  *VerifyResult
		outcome error
	)
	err := s.store.InTx(ctx, func(tx repositories.AccountTx) error {
		user, err := tx.FindUserByEmailForUpdate(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			outcome = ErrAccountNotFound
			return nil
		}
		v, err := tx.GetOrCreateVerificationForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if v.EmailVerified {
			result = &VerifyResult{User: user, AlreadyVerified: true}
			return nil
		}

		now := s.clock.Now()
		if !v.HasOpenCode(now) {
			if v.Code == nil {
				// No code after a lockout: report the lockout until it ends.
				remaining, err := s.throttle.CooldownRemaining(ctx, email)
				if err != nil {
					return err
				}
				if remaining > 0 {
					outcome = lockedOut(s.cfg.MaxTries, remaining)
					return nil
				}
			}
			outcome = ErrCodeExpired
			return nil
		}

		if v.CodeIsValid(candidate, now) {
			v.MarkVerified(now)
			if err := tx.SaveVerification(ctx, v); err != nil {
				return err
			}
			result = &VerifyResult{User: user}
			return nil
		}

		attempts, err := tx.IncrementFailedAttempts(ctx, user.ID)
		if err != nil {
			return err
		}
		if attempts >= s.cfg.MaxTries {
			v.ClearCode(now)
			if err := tx.SaveVerification(ctx, v); err != nil {
				return err
			}
			if err := s.throttle.StartCooldown(ctx, email); err != nil {
				log.Warn("lockout cooldown not recorded", zap.Error(err))
			}
			outcome = lockedOut(s.cfg.MaxTries, ceilSeconds(s.throttle.cfg.Cooldown))
			return nil
		}
		outcome = wrongCode(s.cfg.MaxTries - attempts)
		return nil
	})
	if err != nil {
		log.Error("verify failed", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if outcome != nil {
		log.Info("verify refused", zap.Error(outcome))
		return nil, outcome
	}
	log.Info("verify ok", zap.Int64("user_id", result.User.ID), zap.Bool("already_verified", result.AlreadyVerified))
	return result, nil
}

// RequestResend issues and sends a fresh code. Throttle checks run before the
// account lock and again under it, so two concurrent requests for one account
// cannot both pass.
func (s *VerificationService) RequestResend(ctx context.Context, email string) error {
	const op = "RequestResend"

	email = utils.NormalizeEmail(email)
	log := s.log.With(zap.String("op", op), zap.String("email", logger.MaskEmail(email)))

	if email == "" {
		return invalidInput("email", "required")
	}

	if refusal, err := s.checkThrottle(ctx, email); err != nil {
		log.Error("throttle check failed", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	} else if refusal != nil {
		log.Info("resend refused", zap.Error(refusal))
		return refusal
	}

	var outcome error
	err := s.store.InTx(ctx, func(tx repositories.AccountTx) error {
		user, err := tx.FindUserByEmailForUpdate(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			outcome = ErrAccountNotFound
			return nil
		}
		v, err := tx.GetOrCreateVerificationForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if v.EmailVerified {
			outcome = ErrAlreadyVerified
			return nil
		}
		if refusal, err := s.checkThrottle(ctx, email); err != nil {
			return err
		} else if refusal != nil {
			outcome = refusal
			return nil
		}

		code, err := s.newCode()
		if err != nil {
			return err
		}
		v.IssueNewCode(code, s.clock.Now(), s.cfg.Window)
		if err := tx.SaveVerification(ctx, v); err != nil {
			return err
		}

		if err := s.mailer.Send(ctx, VerificationMessage(user.Email, code, s.windowMinutes())); err != nil {
			// The new code is kept; the caller may retry.
			outcome = deliveryFailed(err)
			return nil
		}
		if err := s.throttle.StartCooldown(ctx, email); err != nil {
			log.Warn("cooldown not recorded", zap.Error(err))
		}
		if err := s.throttle.MarkResendConsumed(ctx, email); err != nil {
			log.Warn("resend not counted", zap.Error(err))
		}
		return nil
	})
	if err != nil {
		log.Error("resend failed", zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if outcome != nil {
		if errors.Is(outcome, ErrDeliveryFailed) {
			log.Warn("resend not delivered", zap.Error(outcome))
		} else {
			log.Info("resend refused", zap.Error(outcome))
		}
		return outcome
	}
	log.Info("code resent")
	return nil
}

// checkThrottle returns a non-nil refusal when either tier blocks a resend.
func (s *VerificationService) checkThrottle(ctx context.Context, email string) (*VerificationError, error) {
	remaining, err := s.throttle.CooldownRemaining(ctx, email)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return throttled(ErrCooldownActive, remaining), nil
	}
	allowed, remaining, err := s.throttle.CanResendNow(ctx, email)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return throttled(ErrResendThrottled, remaining), nil
	}
	return nil, nil
}

// Status reports the derived state for the account registered under email.
func (s *VerificationService) Status(ctx context.Context, email string) (models.VerificationState, error) {
	email = utils.NormalizeEmail(email)
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if user == nil {
		return "", ErrAccountNotFound
	}
	return s.state(ctx, user)
}

func (s *VerificationService) StatusForUser(ctx context.Context, userID int64) (models.VerificationState, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("status for user: %w", err)
	}
	if user == nil {
		return "", ErrAccountNotFound
	}
	return s.state(ctx, user)
}

func (s *VerificationService) state(ctx context.Context, user *models.User) (models.VerificationState, error) {
	v, err := s.store.GetVerification(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("state: %w", err)
	}
	if v == nil {
		return models.StateUnverifiedNoCode, nil
	}
	if v.EmailVerified {
		return models.StateVerified, nil
	}
	remaining, err := s.throttle.CooldownRemaining(ctx, user.Email)
	if err != nil {
		return "", fmt.Errorf("state: %w", err)
	}
	return v.State(s.clock.Now(), remaining > 0), nil
}

func validateRegistration(username, email, password string) error {
	if username == "" {
		return invalidInput("username", "required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return invalidInput("email", "not a valid address")
	}
	if len(password) < MinPasswordLen {
		return invalidInput("password", fmt.Sprintf("shorter than %d characters", MinPasswordLen))
	}
	return nil
}
