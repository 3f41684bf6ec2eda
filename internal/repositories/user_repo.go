package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hht-diary/authcore/internal/database"
	"github.com/hht-diary/authcore/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, sponsor_id, username, password_hash, salt, failed_attempts, locked_until, status, role, created_at, updated_at`

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil *time.Time

	err := scanner.Scan(
		&user.ID, &user.SponsorID, &user.Username,
		&user.PasswordHash, &user.Salt,
		&user.FailedAttempts, &lockedUntil,
		&user.Status, &user.Role,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.LockedUntil = lockedUntil
	return &user, nil
}

func (r *UserRepository) FindBySponsorAndUsername(ctx context.Context, sponsorID, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE sponsor_id = $1 AND username = $2`

	return scanUserRow(r.pool.QueryRow(ctx, query, sponsorID, username))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	if user.Role == "" {
		user.Role = "participant"
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}

	query := `
		INSERT INTO users (id, sponsor_id, username, password_hash, salt, status, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.SponsorID, user.Username, user.PasswordHash, user.Salt, user.Status, user.Role,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

// IncrementFailedAttempts bumps the counter in a single statement so
// concurrent failures for the same user are never lost.
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE users
		SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempts
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ResetFailedAttempts zeroes the counter and clears any lock
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, query, userID)
}

func (r *UserRepository) SetLockout(ctx context.Context, userID string, until time.Time) error {
	query := `UPDATE users SET locked_until = $2, updated_at = NOW() WHERE id = $1`

	return r.execOne(ctx, query, userID, until)
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
