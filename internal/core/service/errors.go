package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

// translate maps what comes back from a unit of work onto the domain taxonomy.
// Lock waits and commit conflicts become ErrContention; domain failures raised
// inside the unit of work pass through; anything else is an infrastructure failure.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, port.ErrLockTimeout),
		errors.Is(err, port.ErrConflict),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrContention, err)
	case domain.ErrorCode(err) != "internal":
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
