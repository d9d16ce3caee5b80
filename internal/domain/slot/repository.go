package slot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// ListByProviderDate returns the provider's slots for one calendar day,
	// ordered by time. An uninitialized day yields an empty slice.
	ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*Slot, error)

	// GetByID returns ErrSlotNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// FindByProviderDateTime returns ErrSlotNotFound if the slot was never materialized.
	FindByProviderDateTime(ctx context.Context, providerID uuid.UUID, date time.Time, hhmm string) (*Slot, error)

	// CreateBatch materializes slots. Rows that already exist for the same
	// provider/date/time are left untouched and the stored copy is returned in
	// their place, so concurrent initializers converge.
	CreateBatch(ctx context.Context, slots []*Slot) ([]*Slot, error)

	// Toggle locks the slot, runs guard against the stored row and writes next
	// only if guard passes. guard's error is returned unchanged, so a slot that
	// was booked after the caller read it is refused rather than overwritten.
	Toggle(ctx context.Context, id uuid.UUID, next Status, guard func(*Slot) error) error
}
