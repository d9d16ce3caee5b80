package payout

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetLast returns the provider's most recent request, or nil, nil if none.
	GetLast(ctx context.Context, providerID uuid.UUID) (*Request, error)

	// CreateChecked re-reads the provider's last request under a write lock,
	// runs check against it and only then inserts r. This closes the race
	// between a stale eligibility read and the submit.
	CreateChecked(ctx context.Context, r *Request, check func(last *Request) error) error

	ListByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*Request, error)
}
