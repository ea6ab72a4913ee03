package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dom/authsvc/internal/api"
	"github.com/dom/authsvc/internal/config"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/repository"
	repoPostgres "github.com/dom/authsvc/internal/repository/postgres"
	"github.com/dom/authsvc/internal/service"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance with the schema applied
type TestDB struct {
	Container testcontainers.Container
	Store     *repoPostgres.Store
	DSN       string
}

// NewTestDB starts a PostgreSQL container and runs the migrations against it.
// It skips the test in -short mode.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_authsvc"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	testDB := &TestDB{Container: container}
	t.Cleanup(func() {
		testDB.Cleanup()
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	testDB.DSN = dsn

	store, err := repoPostgres.NewConnection(ctx, DatabaseConfig(dsn), logger.Silent)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	testDB.Store = store

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return testDB
}

// DatabaseConfig builds a pool config for a test DSN
func DatabaseConfig(dsn string) config.DatabaseConfig {
	return config.DatabaseConfig{
		URL:             dsn,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}
}

// Cleanup closes the pool and terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Store != nil {
		_ = tdb.Store.Close()
	}
	if tdb.Container != nil {
		_ = tdb.Container.Terminate(context.Background())
	}
}

// Repositories returns gorm-backed repositories over the test database
func (tdb *TestDB) Repositories() *repository.Repositories {
	return tdb.Store.Repositories()
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	for _, table := range []string{"users"} {
		if err := tdb.Store.DB().Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Host:          "127.0.0.1",
		Port:          "0",
		Environment:   config.EnvTest,
		JWTSecret:     "test-jwt-secret-key-for-testing-only",
		JWTExpiration: time.Hour,
		JWTIssuer:     "authsvc-test",
		LogLevel:      "debug",
		LogFormat:     "text",
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Repos    *repository.Repositories
	Services *service.Services
	Config   *config.Config
	Clock    *Clock
}

// NewTestServer creates a test server backed by a PostgreSQL container
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	testDB := NewTestDB(t)
	ts := newServer(t, testDB.Repositories())
	ts.DB = testDB
	return ts
}

// NewFakeServer creates a test server backed by an in-memory user repository
func NewFakeServer(t *testing.T) (*TestServer, *FakeUserRepository) {
	t.Helper()

	users := NewFakeUserRepository()
	ts := newServer(t, &repository.Repositories{User: users})
	return ts, users
}

func newServer(t *testing.T, repos *repository.Repositories) *TestServer {
	t.Helper()

	cfg := TestConfig()
	clock := NewClock(time.Now())
	services := service.NewServices(repos, cfg, logging.Nop(), service.WithClock(clock.Now))
	router := api.NewRouter(services, logging.Nop())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{
		Server:   server,
		Repos:    repos,
		Services: services,
		Config:   cfg,
		Clock:    clock,
	}
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// URL returns the full URL for an unversioned path
func (ts *TestServer) URL(path string) string {
	return ts.Server.URL + path
}

// APIURL returns the full versioned API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}
