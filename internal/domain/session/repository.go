package session

import (
	"context"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/google/uuid"
)

type Repository interface {
	// ListByProvider returns the provider's sessions scheduled inside r.
	ListByProvider(ctx context.Context, providerID uuid.UUID, r DateRange) ([]*Session, error)

	// GetByID returns ErrSessionNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// Book reserves the slot and creates the session in one unit of work. It
	// fails with slot.ErrSlotNotAvailable if the slot is no longer Available.
	Book(ctx context.Context, s *Session, slotID uuid.UUID) error

	// Transition advances the session and, when slotStatus is non-empty and the
	// session has a slot, the slot, atomically. Both moves are checked against
	// the locked rows; a session cancelled or completed since the caller read it
	// fails with ErrInvalidStatusTransition and nothing is written.
	Transition(ctx context.Context, id uuid.UUID, status Status, slotStatus slot.Status) error
}

type CancellationRepository interface {
	// Cancel marks the session Cancelled, releases its slot and stores rec, atomically.
	Cancel(ctx context.Context, rec *CancellationRecord) error

	// GetBySession returns ErrCancellationNotFound if the session was never cancelled.
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*CancellationRecord, error)
}
