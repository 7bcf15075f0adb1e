package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"comedores/internal/models"
)

const userColumns = `id, username, first_name, last_name, email, password_hash, created_at`

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getUser(ctx context.Context, q queryer, query string, arg interface{}) (*models.User, error) {
	var u models.User
	if err := q.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func userByEmail(ctx context.Context, q queryer, email string, forUpdate bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	u, err := getUser(ctx, q, query, email)
	if err != nil {
		return nil, fmt.Errorf("user by email: %w", err)
	}
	return u, nil
}

func userByID(ctx context.Context, q queryer, id int64) (*models.User, error) {
	u, err := getUser(ctx, q, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

func exists(ctx context.Context, q queryer, query string, arg interface{}) (bool, error) {
	var ok bool
	if err := q.GetContext(ctx, &ok, query, arg); err != nil {
		return false, err
	}
	return ok, nil
}

func createUser(ctx context.Context, q queryer, user *models.User) error {
	const query = `
		INSERT INTO users (username, first_name, last_name, email, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	row := q.QueryRowxContext(ctx, query,
		user.Username, user.FirstName, user.LastName, user.Email, user.PasswordHash)
	if err := row.Scan(&user.ID, &user.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return uniqueViolation(pqErr.Constraint)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func uniqueViolation(constraint string) error {
	switch constraint {
	case "users_username_lower_key":
		return ErrUsernameExists
	case "users_email_lower_key":
		return ErrEmailExists
	}
	return ErrUserExists
}
