package client

import (
	"context"
	"errors"
	"sync"

	"github.com/dom/authsvc/internal/logging"
)

// State is where a Session is in its lifecycle.
type State int

const (
	StateUnknown State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "invalid"
	}
}

// Settled reports whether the state is final until the next transition.
func (s State) Settled() bool {
	return s == StateAuthenticated || s == StateAnonymous
}

var (
	ErrResolving        = errors.New("session is still resolving")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// AuthAPI is the part of the backend a Session talks to. *APIClient
// satisfies it.
type AuthAPI interface {
	Register(ctx context.Context, username, email, password string) (*AuthResponse, error)
	Login(ctx context.Context, username, password string) (*AuthResponse, error)
	Me(ctx context.Context, token string) (*User, error)
}

type SessionOption func(*Session)

// WithOnChange registers fn to be called after every state transition.
func WithOnChange(fn func(State, *User)) SessionOption {
	return func(s *Session) {
		s.onChange = fn
	}
}

func WithLogger(log logging.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// Session holds the client's token and resolved identity. The user is only
// ever set while the state is StateAuthenticated.
type Session struct {
	api      AuthAPI
	store    TokenStore
	log      logging.Logger
	onChange func(State, *User)

	mu      sync.Mutex
	state   State
	token   string
	user    *User
	gen     uint64
	pending *resolution
	changed chan struct{}
}

// resolution is one in-flight lookup of the stored token. err is written
// before done is closed.
type resolution struct {
	done chan struct{}
	err  error
}

func NewSession(api AuthAPI, store TokenStore, opts ...SessionOption) *Session {
	s := &Session{
		api:     api,
		store:   store,
		log:     logging.Nop(),
		state:   StateUnknown,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resolves the persisted token once. Concurrent calls share the
// in-flight resolution and its result; later calls return nil. A rejected
// token is discarded and leaves the session anonymous. Any other failure
// does the same and is returned to every caller sharing that resolution.
func (s *Session) Start(ctx context.Context) error {
	return s.resolve(ctx, false)
}

// Refresh re-resolves the persisted token regardless of the current state.
func (s *Session) Refresh(ctx context.Context) error {
	return s.resolve(ctx, true)
}

func (s *Session) resolve(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.pending != nil {
		pending := s.pending
		s.mu.Unlock()
		select {
		case <-pending.done:
			return pending.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !force && s.state != StateUnknown {
		s.mu.Unlock()
		return nil
	}

	token, err := s.store.Load()
	if err != nil {
		s.log.Warn(ctx, "failed to load stored token", "error", err)
	}
	if token == "" {
		notify := s.transition(StateAnonymous, "", nil)
		s.mu.Unlock()
		notify()
		return nil
	}

	pending := &resolution{done: make(chan struct{})}
	s.pending = pending
	gen := s.gen
	notify := s.transition(StateResolving, token, nil)
	s.mu.Unlock()
	notify()

	user, err := s.api.Me(ctx, token)

	pending.err = s.settle(ctx, gen, token, user, err)
	close(pending.done)
	return pending.err
}

// settle applies the outcome of a Me lookup started at generation gen.
func (s *Session) settle(ctx context.Context, gen uint64, token string, user *User, err error) error {
	s.mu.Lock()
	s.pending = nil

	if s.gen != gen {
		// login or logout happened meanwhile and owns the state now
		s.mu.Unlock()
		return nil
	}

	if err != nil {
		if clearErr := s.store.Clear(); clearErr != nil {
			s.log.Warn(ctx, "failed to discard rejected token", "error", clearErr)
		}
		notify := s.transition(StateAnonymous, "", nil)
		s.mu.Unlock()
		notify()

		if IsUnauthorized(err) {
			s.log.Info(ctx, "stored session rejected")
			return nil
		}
		s.log.Warn(ctx, "session resolution failed", "error", err)
		return err
	}

	notify := s.transition(StateAuthenticated, token, user)
	s.mu.Unlock()
	notify()
	return nil
}

// Wait blocks until the session is authenticated or anonymous.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		state, changed := s.state, s.changed
		s.mu.Unlock()

		if state.Settled() {
			return state, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

func (s *Session) Login(ctx context.Context, username, password string) (*User, error) {
	resp, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.establish(resp)
}

func (s *Session) Register(ctx context.Context, username, email, password string) (*User, error) {
	resp, err := s.api.Register(ctx, username, email, password)
	if err != nil {
		return nil, err
	}
	return s.establish(resp)
}

// establish persists and adopts a fresh token. Saving and bumping gen happen
// under one lock so an in-flight resolution can never clear the new token.
func (s *Session) establish(resp *AuthResponse) (*User, error) {
	user := resp.User

	s.mu.Lock()
	if err := s.store.Save(resp.Token); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.gen++
	notify := s.transition(StateAuthenticated, resp.Token, &user)
	s.mu.Unlock()
	notify()

	return copyUser(&user), nil
}

// Logout discards the token. The session is anonymous afterwards even if the
// stored token could not be removed.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.gen++
	err := s.store.Clear()
	notify := s.transition(StateAnonymous, "", nil)
	s.mu.Unlock()
	notify()
	return err
}

// Protected returns the user for content that requires authentication.
func (s *Session) Protected() (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAuthenticated:
		return copyUser(s.user), nil
	case StateAnonymous:
		return nil, ErrNotAuthenticated
	default:
		return nil, ErrResolving
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token is the bearer token for authenticated requests, or "".
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// transition must be called with s.mu held. The returned func runs the
// observer and must be called after unlocking.
func (s *Session) transition(state State, token string, user *User) func() {
	s.state = state
	s.token = token
	s.user = user

	close(s.changed)
	s.changed = make(chan struct{})

	fn := s.onChange
	if fn == nil {
		return func() {}
	}
	snapshot := copyUser(user)
	return func() { fn(state, snapshot) }
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
