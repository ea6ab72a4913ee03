package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	meCalls atomic.Int32
	release chan struct{}

	mu      sync.Mutex
	users   map[string]*User
	meErr   error
	authErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{users: make(map[string]*User)}
}

func (f *fakeAPI) addToken(token string, user *User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[token] = user
}

func (f *fakeAPI) Register(ctx context.Context, username, email, password string) (*AuthResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &AuthResponse{Token: "tok-" + username, User: User{ID: "id-" + username, Username: username, Email: email}}, nil
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &AuthResponse{Token: "tok-" + username, User: User{ID: "id-" + username, Username: username}}, nil
}

func (f *fakeAPI) Me(ctx context.Context, token string) (*User, error) {
	f.meCalls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return nil, f.meErr
	}
	user, ok := f.users[token]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "unauthorized"}
	}
	c := *user
	return &c, nil
}

func TestSession_StartWithoutToken(t *testing.T) {
	api := newFakeAPI()
	s := NewSession(api, NewMemoryTokenStore(""))

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateAnonymous, s.State())
	assert.Zero(t, api.meCalls.Load())

	_, err := s.Protected()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSession_StartResolvesStoredToken(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1", Username: "alice"})

	var states []State
	s := NewSession(api, NewMemoryTokenStore("good"), WithOnChange(func(state State, _ *User) {
		states = append(states, state)
	}))

	require.NoError(t, s.Start(context.Background()))

	user, err := s.Protected()
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "good", s.Token())
	assert.Equal(t, []State{StateResolving, StateAuthenticated}, states)
}

func TestSession_StartDiscardsRejectedToken(t *testing.T) {
	api := newFakeAPI()
	store := NewMemoryTokenStore("expired")
	s := NewSession(api, store)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateAnonymous, s.State())
	stored, _ := store.Load()
	assert.Empty(t, stored)
	assert.Empty(t, s.Token())
}

func TestSession_StartNetworkFailureIsAnonymous(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1"})
	api.meErr = errors.New("connection refused")
	store := NewMemoryTokenStore("good")
	s := NewSession(api, store)

	err := s.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateAnonymous, s.State())
	stored, _ := store.Load()
	assert.Empty(t, stored)
}

func TestSession_SingleInFlightResolution(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1", Username: "alice"})
	api.release = make(chan struct{})
	s := NewSession(api, NewMemoryTokenStore("good"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Start(context.Background()))
		}()
	}

	require.Eventually(t, func() bool { return s.State() == StateResolving }, time.Second, time.Millisecond)
	_, err := s.Protected()
	assert.ErrorIs(t, err, ErrResolving)

	close(api.release)
	wg.Wait()

	assert.Equal(t, int32(1), api.meCalls.Load())
	assert.Equal(t, StateAuthenticated, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int32(1), api.meCalls.Load())
}

func TestSession_Wait(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1"})
	api.release = make(chan struct{})
	s := NewSession(api, NewMemoryTokenStore("good"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateUnknown, state)

	go func() { _ = s.Start(context.Background()) }()
	time.AfterFunc(10*time.Millisecond, func() { close(api.release) })

	state, err = s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

func TestSession_LoginAndLogout(t *testing.T) {
	api := newFakeAPI()
	store := NewMemoryTokenStore("")
	s := NewSession(api, store)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateAnonymous, s.State())

	user, err := s.Login(ctx, "alice", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Zero(t, api.meCalls.Load())

	stored, _ := store.Load()
	assert.Equal(t, "tok-alice", stored)

	require.NoError(t, s.Logout())
	assert.Equal(t, StateAnonymous, s.State())
	stored, _ = store.Load()
	assert.Empty(t, stored)

	_, err = s.Protected()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSession_Register(t *testing.T) {
	api := newFakeAPI()
	store := NewMemoryTokenStore("")
	s := NewSession(api, store)

	user, err := s.Register(context.Background(), "bob", "b@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", user.Email)

	got, err := s.Protected()
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
}

func TestSession_FailedLoginKeepsState(t *testing.T) {
	api := newFakeAPI()
	api.authErr = &APIError{StatusCode: http.StatusUnauthorized, Message: "invalid credentials"}
	s := NewSession(api, NewMemoryTokenStore(""))
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Login(context.Background(), "alice", "wrong")
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, StateAnonymous, s.State())
}

func TestSession_LogoutDuringResolutionWins(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1"})
	api.release = make(chan struct{})
	s := NewSession(api, NewMemoryTokenStore("good"))

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateResolving }, time.Second, time.Millisecond)

	require.NoError(t, s.Logout())
	close(api.release)
	require.NoError(t, <-done)

	assert.Equal(t, StateAnonymous, s.State())
}

type savingStore struct {
	TokenStore
	afterSave func()
}

func (s *savingStore) Save(token string) error {
	if err := s.TokenStore.Save(token); err != nil {
		return err
	}
	if s.afterSave != nil {
		s.afterSave()
	}
	return nil
}

func TestSession_LoginDuringResolutionKeepsNewToken(t *testing.T) {
	api := newFakeAPI()
	api.release = make(chan struct{})
	store := &savingStore{TokenStore: NewMemoryTokenStore("stale")}
	s := NewSession(api, store)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateResolving }, time.Second, time.Millisecond)

	// the stale token is rejected right after the new one has been written
	store.afterSave = func() {
		close(api.release)
		time.Sleep(20 * time.Millisecond)
	}

	user, err := s.Login(context.Background(), "alice", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	require.NoError(t, <-done)

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "tok-alice", s.Token())
	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", stored)
}

func TestSession_SharedResolutionFailureReachesEveryCaller(t *testing.T) {
	api := newFakeAPI()
	api.meErr = errors.New("connection refused")
	api.release = make(chan struct{})
	s := NewSession(api, NewMemoryTokenStore("good"))

	errs := make(chan error, 3)
	go func() { errs <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateResolving }, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		go func() { errs <- s.Start(context.Background()) }()
	}
	time.Sleep(20 * time.Millisecond)
	close(api.release)

	for i := 0; i < 3; i++ {
		assert.EqualError(t, <-errs, "connection refused")
	}
	assert.Equal(t, int32(1), api.meCalls.Load())
	assert.Equal(t, StateAnonymous, s.State())
}

func TestSession_RefreshDropsRevokedSession(t *testing.T) {
	api := newFakeAPI()
	api.addToken("good", &User{ID: "1"})
	store := NewMemoryTokenStore("good")
	s := NewSession(api, store)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateAuthenticated, s.State())

	api.mu.Lock()
	delete(api.users, "good")
	api.mu.Unlock()

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	stored, _ := store.Load()
	assert.Empty(t, stored)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "invalid", State(9).String())
	assert.True(t, StateAnonymous.Settled())
	assert.False(t, StateUnknown.Settled())
}
