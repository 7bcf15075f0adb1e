package repositories

import (
	"context"
	"errors"
	"fmt"

	"comedores/internal/models"
)

var ErrUserExists = errors.New("user already exists")

// Both match ErrUserExists with errors.Is.
var (
	ErrEmailExists    = fmt.Errorf("%w: email", ErrUserExists)
	ErrUsernameExists = fmt.Errorf("%w: username", ErrUserExists)
)

// AccountTx is the set of operations available while an account transaction
// is open. Row-locking reads hold their lock until the transaction ends.
type AccountTx interface {
	// FindUserByEmailForUpdate matches case-insensitively; nil, nil when absent.
	FindUserByEmailForUpdate(ctx context.Context, email string) (*models.User, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, user *models.User) error

	// GetOrCreateVerificationForUpdate lazily creates the profile row.
	GetOrCreateVerificationForUpdate(ctx context.Context, userID int64) (*models.UserVerification, error)
	SaveVerification(ctx context.Context, v *models.UserVerification) error
	// IncrementFailedAttempts is a single atomic update; returns the new count.
	IncrementFailedAttempts(ctx context.Context, userID int64) (int, error)
}

type AccountStore interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx AccountTx) error) error

	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetVerification(ctx context.Context, userID int64) (*models.UserVerification, error)
}
