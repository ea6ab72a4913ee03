package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"github.com/dom/authsvc/internal/domain"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/repository"
)

// ErrInvalidCredentials is returned for both an unknown username and a wrong
// password.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

const (
	maxUsernameLength = 64
	maxEmailLength    = 254
	maxPasswordLength = 72
)

type AuthService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	tokens *TokenService
	log    logging.Logger

	// hash of a random password at the hasher's cost, compared against on
	// unknown-user logins
	dummyHash string
}

func NewAuthService(users repository.UserRepository, hasher PasswordHasher, tokens *TokenService, log logging.Logger) *AuthService {
	if log == nil {
		log = logging.Nop()
	}
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		log.Warn(context.Background(), "failed to prepare dummy password hash", "error", err)
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		log:       log,
		dummyHash: dummyHash,
	}
}

// noControlChars rejects NUL and other control characters, which PostgreSQL
// text columns either refuse or store invisibly.
var noControlChars = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if hasControlChars(s) {
		return errors.New("must not contain control characters")
	}
	return nil
})

func hasControlChars(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, maxUsernameLength), noControlChars),
		validation.Field(&in.Email, validation.Required, validation.Length(3, maxEmailLength), noControlChars, validation.Match(emailPattern)),
		validation.Field(&in.Password, validation.Required, validation.Length(0, maxPasswordLength)),
	)
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

type AuthResult struct {
	User  *domain.Profile `json:"user"`
	Token string          `json:"token"`
}

// Register creates the account and signs the caller in. Uniqueness is left to
// the store, so concurrent registrations of one name yield exactly one user.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.normalize()
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)

	return s.issue(user.Profile())
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	// a username no account can have is answered like an unknown one
	if hasControlChars(input.Username) {
		s.hasher.Verify(input.Password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			s.hasher.Verify(input.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		s.log.Debug(ctx, "password mismatch", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	return s.issue(user.Profile())
}

// Authenticate resolves a bearer token to the user id it was issued for.
func (s *AuthService) Authenticate(token string) (uuid.UUID, error) {
	v := s.tokens.Verify(token)
	if !v.Valid() {
		return uuid.Nil, v.Err()
	}
	return v.Subject, nil
}

// CurrentUser loads the profile for an authenticated subject. A subject whose
// row is gone is treated as unauthenticated.
func (s *AuthService) CurrentUser(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	profile, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("current user: %w", err)
	}
	return profile, nil
}

func (s *AuthService) Me(ctx context.Context, token string) (*domain.Profile, error) {
	id, err := s.Authenticate(token)
	if err != nil {
		return nil, err
	}
	return s.CurrentUser(ctx, id)
}

func (s *AuthService) issue(profile *domain.Profile) (*AuthResult, error) {
	token, err := s.tokens.Issue(profile.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: profile, Token: token}, nil
}
