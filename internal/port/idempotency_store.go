package port

import "context"

type IdempotencyStore interface {
	// Claim reserves a request id, returns false if it was already claimed or completed.
	Claim(ctx context.Context, requestID string) (bool, error)

	// Complete records the order created for a claimed request id.
	Complete(ctx context.Context, requestID string, orderID int64) error

	// Release frees a claimed request id so the request may be retried.
	Release(ctx context.Context, requestID string) error
}
