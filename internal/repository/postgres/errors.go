package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dom/authsvc/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	uniqueViolation = "23505"
	// class 22: the value itself is unacceptable, e.g. NUL in a text column
	dataExceptionClass = "22"

	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// translateError maps driver errors onto the domain error set. Anything it
// does not recognise is wrapped and passed through.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, dataExceptionClass) {
		return fmt.Errorf("%w: invalid input value", domain.ErrValidation)
	}
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case usernameConstraint:
			return domain.ErrUsernameTaken
		case emailConstraint:
			return domain.ErrEmailTaken
		default:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		}
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("db error: %w", err)
}

func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || pgconn.Timeout(err)
}
