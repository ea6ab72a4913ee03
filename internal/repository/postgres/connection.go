package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dom/authsvc/internal/config"
	"github.com/dom/authsvc/internal/domain"
	"github.com/dom/authsvc/internal/repository"
	"github.com/dom/authsvc/internal/repository/postgres/migrations"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectTimeout = 5 * time.Second

// Store owns the connection pool. It is created once at startup and closed
// on shutdown; repositories borrow its *gorm.DB.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewConnection opens a bounded pool and verifies that the database answers.
// An unreachable database yields domain.ErrStorageUnavailable.
func NewConnection(ctx context.Context, cfg config.DatabaseConfig, logLevel logger.LogLevel) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}

	store.sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	store.sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	store.sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}

// NewStore wraps an already opened gorm connection.
func NewStore(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return &Store{db: db, sqlDB: sqlDB}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// gooseUp is replaced in tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := gooseUp(ctx, s.sqlDB, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func (s *Store) Repositories() *repository.Repositories {
	return NewRepositories(s.db)
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		User: NewUserRepository(db),
	}
}
