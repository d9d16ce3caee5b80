package session

import "github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"

var (
	ErrSessionNotFound           = domain.NewError(domain.KindNotFound, "session_not_found", "session not found")
	ErrCancellationNotFound      = domain.NewError(domain.KindNotFound, "cancellation_not_found", "session has no cancellation record")
	ErrInvalidStatusTransition   = domain.NewError(domain.KindInvalidTransition, "invalid_transition", "session status cannot change that way")
	ErrSessionNotStarted         = domain.NewError(domain.KindPolicy, "session_not_started", "session start time has not been reached")
	ErrSessionNotCancellable     = domain.NewError(domain.KindInvalidTransition, "session_not_cancellable", "session is already cancelled or completed")
	ErrCancellationWindowChanged = domain.NewError(domain.KindPolicy, "cancellation_window_changed", "the cancellation deadline passed while the request was open; review the new conditions and try again")
)
