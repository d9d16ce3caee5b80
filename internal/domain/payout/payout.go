package payout

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/google/uuid"
)

// State transitions (back-office, outside this service):
//
//	under_review → approved → processing → paid
//	under_review → rejected
//	under_review|approved → cancelled
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusProcessing  Status = "processing"
	StatusPaid        Status = "paid"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
)

var aliases = map[string]Status{
	"underreview": StatusUnderReview,
	"emanalise":   StatusUnderReview,
	"analise":     StatusUnderReview,
	"pendente":    StatusUnderReview,
	"approved":    StatusApproved,
	"aprovado":    StatusApproved,
	"processing":  StatusProcessing,
	"processando": StatusProcessing,
	"paid":        StatusPaid,
	"pago":        StatusPaid,
	"rejected":    StatusRejected,
	"rejeitado":   StatusRejected,
	"recusado":    StatusRejected,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"cancelado":   StatusCancelled,
}

func ParseStatus(raw string) (Status, error) {
	if s, ok := aliases[domain.FoldStatus(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown payout status %q", raw)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsVoided reports requests that never paid out.
func (s Status) IsVoided() bool {
	return s == StatusRejected || s == StatusCancelled
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("payout status: unsupported scan type %T", src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

type Request struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_payouts_provider_created" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	ProviderID  uuid.UUID `gorm:"column:provider_id;type:uuid;not null;index:idx_payouts_provider_created" json:"provider_id"`
	PeriodLabel string    `gorm:"column:period_label;type:varchar(20);not null" json:"period_label"`
	// AmountCents avoids floating point money.
	AmountCents           int64  `gorm:"column:amount_cents;not null" json:"amount_cents"`
	SessionCount          int    `gorm:"column:session_count;not null" json:"session_count"`
	Status                Status `gorm:"column:status;type:varchar(30);not null;index" json:"status"`
	SupportingDocumentRef string `gorm:"column:supporting_document_ref;type:varchar(500)" json:"supporting_document_ref,omitempty"`
}

func (Request) TableName() string {
	return "finance.payout_requests"
}

type CreateRequestCommand struct {
	ProviderID            uuid.UUID
	PeriodLabel           string
	AmountCents           int64
	SessionCount          int
	SupportingDocumentRef string
}

func (c *CreateRequestCommand) Validate() error {
	verr := &domain.ValidationError{}
	if c.ProviderID == uuid.Nil {
		verr.Add("provider_id", "is required")
	}
	if c.AmountCents <= 0 {
		verr.Add("amount_cents", "must be positive")
	}
	if c.SessionCount < 0 {
		verr.Add("session_count", "must not be negative")
	}
	return verr.OrNil()
}

// PeriodLabelFor names the billing period a request made at t settles.
func PeriodLabelFor(t time.Time) string {
	return t.Format("2006-01")
}
