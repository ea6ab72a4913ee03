package testutil

import (
	"context"
	"sync"

	"github.com/dom/authsvc/internal/domain"
	"github.com/google/uuid"
)

// FakeUserRepository is an in-memory repository.UserRepository that enforces
// the same uniqueness rules as the users table.
type FakeUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]domain.User
	err   error
}

func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{users: make(map[uuid.UUID]domain.User)}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (r *FakeUserRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *FakeUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return domain.ErrUsernameTaken
		}
	}
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return domain.ErrEmailTaken
		}
	}
	if _, ok := r.users[user.ID]; ok {
		return domain.ErrConflict
	}

	r.users[user.ID] = *user
	return nil
}

func (r *FakeUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *FakeUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *FakeUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	user, err := r.find(func(u domain.User) bool { return u.ID == id })
	if err != nil {
		return nil, err
	}
	return user.Profile(), nil
}

// Delete removes a user, simulating an account vanishing under a live token.
func (r *FakeUserRepository) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

func (r *FakeUserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *FakeUserRepository) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if match(u) {
			user := u
			return &user, nil
		}
	}
	return nil, domain.ErrNotFound
}
