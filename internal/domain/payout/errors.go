package payout

import (
	"errors"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
)

var (
	ErrRequestNotFound      = domain.NewError(domain.KindNotFound, "payout_request_not_found", "payout request not found")
	ErrOutsideMonthlyWindow = domain.NewError(domain.KindPolicy, "outside_monthly_window", "payout requests are available only between the 21st and 23rd of each month")
	ErrCooldownActive       = domain.NewError(domain.KindPolicy, "cooldown_active", "a payout was already requested; a new request opens on the 20th of the following month")
)

// ReasonCode maps a gate error to its client code.
func ReasonCode(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
