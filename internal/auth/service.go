package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

// AuthService orchestrates registration, login and profile operations
type AuthService struct {
	tokens *TokenService
	users  repo.UserRepo
}

// NewAuthService creates a new auth service
func NewAuthService(tokens *TokenService, users repo.UserRepo) *AuthService {
	return &AuthService{
		tokens: tokens,
		users:  users,
	}
}

// RegisterInput is the field set required to create an account.
type RegisterInput struct {
	Username    string
	PhoneNumber string
	Password    string
}

// ProfileUpdate is a partial field set for profile updates. Nil means
// "leave unchanged". Password is re-hashed before persisting; other fields
// are assigned directly.
type ProfileUpdate struct {
	Username    *string
	PhoneNumber *string
	Password    *string
	FirstName   *string
	LastName    *string
}

// Register validates all fields, creates the user and issues a token.
// Every failing field is reported, not just the first. Uniqueness is
// pre-checked for field-level errors, but the store's unique indexes remain
// authoritative: losing the insert race returns *ConflictError.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.User, string, error) {
	verr := NewValidationError()

	if in.Username == "" {
		verr.Add("username", fieldRequiredMessage)
	}

	switch {
	case in.PhoneNumber == "":
		verr.Add("phone_number", fieldRequiredMessage)
	case !ValidPhoneNumber(in.PhoneNumber):
		verr.Add("phone_number", phoneFormatMessage)
	}

	switch {
	case in.Password == "":
		verr.Add("password", fieldRequiredMessage)
	case !ValidPasswordLength(in.Password):
		verr.Add("password", passwordLenMessage)
	}

	if in.PhoneNumber != "" && ValidPhoneNumber(in.PhoneNumber) {
		taken, err := s.phoneTaken(ctx, in.PhoneNumber)
		if err != nil {
			return model.User{}, "", err
		}
		if taken {
			verr.Add("phone_number", "user with this phone_number already exists.")
		}
	}

	if in.Username != "" {
		taken, err := s.usernameTaken(ctx, in.Username)
		if err != nil {
			return model.User{}, "", err
		}
		if taken {
			verr.Add("username", "user with this username already exists.")
		}
	}

	if verr.HasErrors() {
		return model.User{}, "", verr
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, in.PhoneNumber, in.Username, hash)
	if err != nil {
		var uv *repo.UniqueViolationError
		if errors.As(err, &uv) {
			return model.User{}, "", &ConflictError{Field: uv.Field}
		}
		return model.User{}, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return user, token, nil
}

// Login authenticates a phone number and password pair and issues a token.
// Unknown phone numbers and wrong passwords fail identically so the response
// does not reveal whether an account exists. Deactivated accounts fail with
// a distinct message, which is only reachable with correct credentials.
func (s *AuthService) Login(ctx context.Context, phoneNumber, password string) (model.User, string, error) {
	user, err := s.users.GetByPhone(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, "", &AuthenticationError{Reason: ReasonInvalidCredentials}
		}
		return model.User{}, "", fmt.Errorf("failed to look up user: %w", err)
	}

	if !CheckPassword(password, user.PasswordHash) {
		return model.User{}, "", &AuthenticationError{Reason: ReasonInvalidCredentials}
	}

	if !user.IsActive {
		return model.User{}, "", &AuthenticationError{Reason: ReasonInactiveAccount}
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return user, token, nil
}

// UpdateProfile applies a partial update to the given user and returns the
// persisted record with a fresh token. Uniqueness of username and phone
// number is enforced only by the store's unique indexes here; a concurrent
// collision surfaces as *ConflictError.
func (s *AuthService) UpdateProfile(ctx context.Context, user model.User, changes ProfileUpdate) (model.User, string, error) {
	if changes.Username != nil {
		user.Username = *changes.Username
	}
	if changes.PhoneNumber != nil {
		user.PhoneNumber = *changes.PhoneNumber
	}
	if changes.FirstName != nil {
		user.FirstName = changes.FirstName
	}
	if changes.LastName != nil {
		user.LastName = changes.LastName
	}

	if changes.Password != nil {
		if !ValidPasswordLength(*changes.Password) {
			verr := NewValidationError()
			verr.Add("password", passwordLenMessage)
			return model.User{}, "", verr
		}
		hash, err := HashPassword(*changes.Password)
		if err != nil {
			return model.User{}, "", fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		var uv *repo.UniqueViolationError
		if errors.As(err, &uv) {
			return model.User{}, "", &ConflictError{Field: uv.Field}
		}
		return model.User{}, "", fmt.Errorf("failed to update user: %w", err)
	}

	token, err := s.tokens.Issue(updated.ID)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return updated, token, nil
}

// IssueToken mints a fresh token for an already-authenticated user. Profile
// responses always carry a current token.
func (s *AuthService) IssueToken(userID uuid.UUID) (string, error) {
	return s.tokens.Issue(userID)
}

func (s *AuthService) phoneTaken(ctx context.Context, phone string) (bool, error) {
	_, err := s.users.GetByPhone(ctx, phone)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check phone uniqueness: %w", err)
}

func (s *AuthService) usernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check username uniqueness: %w", err)
}
