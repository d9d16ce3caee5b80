package slot

import "github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"

var (
	ErrSlotNotFound          = domain.NewError(domain.KindNotFound, "slot_not_found", "slot not found")
	ErrInvalidTransition     = domain.NewError(domain.KindInvalidTransition, "invalid_transition", "slot status cannot change that way")
	ErrSlotSessionBound      = domain.NewError(domain.KindInvalidTransition, "slot_session_bound", "slot belongs to a booked session and cannot be toggled")
	ErrSlotNotAvailable      = domain.NewError(domain.KindInvalidTransition, "slot_not_available", "slot is no longer available for booking")
	ErrOutsideBookingHorizon = domain.NewError(domain.KindPolicy, "outside_booking_horizon", "slot date is outside the booking horizon")
	ErrSlotInPast            = domain.NewError(domain.KindPolicy, "slot_in_past", "slot time has already passed")
	ErrInvalidSlotTime       = domain.NewError(domain.KindValidation, "invalid_slot_time", "slot time must be HH:MM")
)
