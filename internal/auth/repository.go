package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auth-service/internal/db"
)

const selectUserColumns = `
	SELECT id, username, password_hash, failed_attempts, last_failed_at, created_at, updated_at, login_version
	FROM users
`

type Repository struct {
	database *sql.DB
	dialect  db.Dialect
}

func NewRepository(database *sql.DB, dialect db.Dialect) *Repository {
	return &Repository{database: database, dialect: dialect}
}

func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	now := time.Now().UTC()
	user := User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.database.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, failed_attempts, last_failed_at, created_at, updated_at)
		VALUES ($1, $2, 0, NULL, $3, $3)
		RETURNING id
	`, username, passwordHash, now).Scan(&user.ID)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	user, err := scanUser(r.database.QueryRowContext(ctx, selectUserColumns+` WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}

	return user, nil
}

// SaveLoginState writes the failure counters of user unless the row changed since user
// was read. It reports false when another write got there first.
func (r *Repository) SaveLoginState(ctx context.Context, user User) (bool, error) {
	res, err := r.database.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = $2, last_failed_at = $3, updated_at = $4, login_version = login_version + 1
		WHERE id = $1 AND login_version = $5
	`, user.ID, user.FailedAttempts, nullTime(user.LastFailedAt), time.Now().UTC(), user.LoginVersion)
	if err != nil {
		return false, fmt.Errorf("save login state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save login state rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *Repository) ResetLoginState(ctx context.Context, username string) error {
	res, err := r.database.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = 0, last_failed_at = NULL, updated_at = $2, login_version = login_version + 1
		WHERE username = $1
	`, username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset login state rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearExpiredLockouts zeroes the counters of accounts whose lock window ended before
// cutoff. last_failed_at is kept because the latest attempt still failed.
func (r *Repository) ClearExpiredLockouts(ctx context.Context, threshold int, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.database.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = 0, updated_at = $3, login_version = login_version + 1
		WHERE id IN (
			SELECT id
			FROM users
			WHERE failed_attempts >= $1
			  AND (last_failed_at IS NULL OR last_failed_at <= $2)
			ORDER BY id ASC
			LIMIT $4
		)
	`, threshold, cutoff.UTC(), time.Now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired lockouts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired lockouts rows affected: %w", err)
	}

	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var lastFailedAt sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.FailedAttempts,
		&lastFailedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LoginVersion,
	)
	if err != nil {
		return User{}, err
	}
	if lastFailedAt.Valid {
		value := lastFailedAt.Time.UTC()
		user.LastFailedAt = &value
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()

	return user, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
