// Package storage holds the transient-failure category shared by every store
// adapter, so callers can tell "try again later" apart from business-rule
// violations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrUnavailable marks a failure of the backing store itself (network,
// timeouts, open circuit). Callers may retry it unchanged.
var ErrUnavailable = errors.New("storage unavailable")

// Wrap annotates err with op and, when err looks like a connectivity problem,
// with ErrUnavailable as well. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return true
	case pgconn.Timeout(err):
		return true
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
