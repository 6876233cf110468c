package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phonegate/server/internal/model"
)

// ErrNotFound is returned when no user matches the lookup key.
var ErrNotFound = errors.New("user not found")

// UniqueViolationError reports which unique index rejected a write. The
// store's unique indexes are the authoritative uniqueness check; application
// pre-checks only exist for friendlier field errors.
type UniqueViolationError struct {
	Field string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint violated on %s", e.Field)
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, phone, username, passwordHash string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	Update(ctx context.Context, user model.User) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, username, password_hash, first_name, last_name,
	is_active, is_staff, is_superuser, created_at, updated_at`

// Create inserts a new user row. A concurrent insert that loses the race on
// the phone or username index surfaces as *UniqueViolationError.
func (r *userRepo) Create(ctx context.Context, phone, username, passwordHash string) (model.User, error) {
	query := `
		INSERT INTO users (phone_number, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns
	row := r.db.QueryRowContext(ctx, query, phone, username, passwordHash)
	user, err := scanUser(row)
	if err != nil {
		if uv := asUniqueViolation(err); uv != nil {
			return model.User{}, uv
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (r *userRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// Update persists the mutable fields of a user and bumps updated_at. A
// concurrent update that collides on a unique index surfaces as
// *UniqueViolationError.
func (r *userRepo) Update(ctx context.Context, user model.User) (model.User, error) {
	query := `
		UPDATE users
		SET phone_number = $2,
		    username = $3,
		    password_hash = $4,
		    first_name = $5,
		    last_name = $6,
		    is_active = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	row := r.db.QueryRowContext(ctx, query,
		user.ID.String(),
		user.PhoneNumber,
		user.Username,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
	)
	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		if uv := asUniqueViolation(err); uv != nil {
			return model.User{}, uv
		}
		return model.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	return updated, nil
}

// scanUser scans a single user row from a QueryRowContext result.
func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.PhoneNumber,
		&user.Username,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}

// asUniqueViolation maps a Postgres unique_violation (23505) to
// *UniqueViolationError, identifying the field from the constraint name.
func asUniqueViolation(err error) *UniqueViolationError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	field := "phone_number"
	if strings.Contains(pqErr.Constraint, "username") {
		field = "username"
	}
	return &UniqueViolationError{Field: field}
}
