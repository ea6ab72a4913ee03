package repository

import (
	"context"

	"github.com/dom/authsvc/internal/domain"
	"github.com/google/uuid"
)

// UserRepository is the credential store. Lookups that miss return
// domain.ErrNotFound.
type UserRepository interface {
	// Create inserts the user. Duplicate usernames or emails fail with an
	// error matching domain.ErrConflict.
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetByID never loads the password hash.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

type Repositories struct {
	User UserRepository
}
