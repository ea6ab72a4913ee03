package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/dom/authsvc/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "record not found", err: gorm.ErrRecordNotFound, want: domain.ErrNotFound},
		{
			name: "username unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"},
			want: domain.ErrUsernameTaken,
		},
		{
			name: "email unique violation wrapped",
			err:  fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}),
			want: domain.ErrEmailTaken,
		},
		{
			name: "other unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "users_pkey"},
			want: domain.ErrConflict,
		},
		{
			name: "refused connection",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			want: domain.ErrStorageUnavailable,
		},
		{name: "bad conn", err: driver.ErrBadConn, want: domain.ErrStorageUnavailable},
		{
			name: "invalid byte sequence",
			err:  &pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\": 0x00"},
			want: domain.ErrValidation,
		},
		{name: "value too long", err: &pgconn.PgError{Code: "22001"}, want: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestTranslateError_PassesThroughOthers(t *testing.T) {
	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}

	got := translateError(syntax)
	assert.ErrorIs(t, got, syntax)
	assert.NotErrorIs(t, got, domain.ErrConflict)
	assert.NotErrorIs(t, got, domain.ErrStorageUnavailable)
	assert.Contains(t, got.Error(), "db error")
}

func TestTranslateError_UsernameViolationIsNotEmail(t *testing.T) {
	got := translateError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	assert.NotErrorIs(t, got, domain.ErrEmailTaken)
}

func TestTranslateError_DataExceptionHidesDriverMessage(t *testing.T) {
	got := translateError(&pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\": 0x00"})
	assert.ErrorIs(t, got, domain.ErrValidation)
	assert.NotContains(t, got.Error(), "UTF8")
}
