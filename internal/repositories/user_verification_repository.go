package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"comedores/internal/models"
)

const verificationColumns = `user_id, email_verified, code, expires_at, failed_attempts, updated_at`

// PostgresAccountStore keeps users and user_verifications in PostgreSQL and
// relies on SELECT ... FOR UPDATE for per-account serialization.
type PostgresAccountStore struct {
	DB *sqlx.DB
}

func NewPostgresAccountStore(db *sqlx.DB) *PostgresAccountStore {
	return &PostgresAccountStore{DB: db}
}

func (s *PostgresAccountStore) InTx(ctx context.Context, fn func(tx AccountTx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgAccountTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return userByEmail(ctx, s.DB, email, false)
}

func (s *PostgresAccountStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return userByID(ctx, s.DB, id)
}

func (s *PostgresAccountStore) GetVerification(ctx context.Context, userID int64) (*models.UserVerification, error) {
	return verificationByUserID(ctx, s.DB, userID, false)
}

func verificationByUserID(ctx context.Context, q queryer, userID int64, forUpdate bool) (*models.UserVerification, error) {
	query := `SELECT ` + verificationColumns + ` FROM user_verifications WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var v models.UserVerification
	if err := q.GetContext(ctx, &v, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("user_verification get: %w", err)
	}
	return &v, nil
}

type pgAccountTx struct {
	tx *sqlx.Tx
}

func (t *pgAccountTx) FindUserByEmailForUpdate(ctx context.Context, email string) (*models.User, error) {
	return userByEmail(ctx, t.tx, email, true)
}

func (t *pgAccountTx) EmailTaken(ctx context.Context, email string) (bool, error) {
	ok, err := exists(ctx, t.tx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email)
	if err != nil {
		return false, fmt.Errorf("email taken: %w", err)
	}
	return ok, nil
}

func (t *pgAccountTx) UsernameTaken(ctx context.Context, username string) (bool, error) {
	ok, err := exists(ctx, t.tx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`, username)
	if err != nil {
		return false, fmt.Errorf("username taken: %w", err)
	}
	return ok, nil
}

func (t *pgAccountTx) CreateUser(ctx context.Context, user *models.User) error {
	return createUser(ctx, t.tx, user)
}

func (t *pgAccountTx) GetOrCreateVerificationForUpdate(ctx context.Context, userID int64) (*models.UserVerification, error) {
	const ins = `
		INSERT INTO user_verifications (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := t.tx.ExecContext(ctx, ins, userID); err != nil {
		return nil, fmt.Errorf("user_verification ensure: %w", err)
	}
	v, err := verificationByUserID(ctx, t.tx, userID, true)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("user_verification ensure: row for user %d vanished", userID)
	}
	return v, nil
}

func (t *pgAccountTx) SaveVerification(ctx context.Context, v *models.UserVerification) error {
	const q = `
		UPDATE user_verifications
		SET email_verified = $2, code = $3, expires_at = $4, failed_attempts = $5, updated_at = $6
		WHERE user_id = $1
	`
	res, err := t.tx.ExecContext(ctx, q,
		v.UserID, v.EmailVerified, v.Code, v.ExpiresAt, v.FailedAttempts, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("user_verification save: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user_verification save: no row for user %d", v.UserID)
	}
	return nil
}

func (t *pgAccountTx) IncrementFailedAttempts(ctx context.Context, userID int64) (int, error) {
	const q = `
		UPDATE user_verifications
		SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING failed_attempts
	`
	var attempts int
	if err := t.tx.QueryRowxContext(ctx, q, userID).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("user_verification increment attempts: %w", err)
	}
	return attempts, nil
}
