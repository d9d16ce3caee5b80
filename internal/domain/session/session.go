package session

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/google/uuid"
)

// State transitions:
//
//	scheduled|reserved|rescheduled → in_progress → completed
//	scheduled|reserved|rescheduled|in_progress → cancelled
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusReserved    Status = "reserved"
	StatusInProgress  Status = "in_progress"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
)

var aliases = map[string]Status{
	"scheduled":   StatusScheduled,
	"agendado":    StatusScheduled,
	"agendada":    StatusScheduled,
	"reserved":    StatusReserved,
	"reservado":   StatusReserved,
	"reservada":   StatusReserved,
	"inprogress":  StatusInProgress,
	"andamento":   StatusInProgress,
	"emandamento": StatusInProgress,
	"rescheduled": StatusRescheduled,
	"remarcado":   StatusRescheduled,
	"remarcada":   StatusRescheduled,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"cancelado":   StatusCancelled,
	"cancelada":   StatusCancelled,
	"completed":   StatusCompleted,
	"concluido":   StatusCompleted,
	"concluida":   StatusCompleted,
	"finalizado":  StatusCompleted,
	"finalizada":  StatusCompleted,
}

func ParseStatus(raw string) (Status, error) {
	if s, ok := aliases[domain.FoldStatus(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown session status %q", raw)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusReserved, StatusInProgress, StatusRescheduled, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports Cancelled and Completed.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// IsBooked reports the pre-start states a session can be started from.
func (s Status) IsBooked() bool {
	switch s {
	case StatusScheduled, StatusReserved, StatusRescheduled:
		return true
	}
	return false
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("session status: unsupported scan type %T", src)
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

// DefaultDurationMinutes is the fixed session length.
const DefaultDurationMinutes = 50

type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	ProviderID    uuid.UUID  `gorm:"column:provider_id;type:uuid;not null;index:idx_sessions_provider_date" json:"provider_id"`
	CounterpartID uuid.UUID  `gorm:"column:counterpart_id;type:uuid;not null;index" json:"counterpart_id"`
	SlotID        *uuid.UUID `gorm:"column:slot_id;type:uuid;index" json:"slot_id,omitempty"`

	ScheduledDate   time.Time `gorm:"column:scheduled_date;type:date;not null;index:idx_sessions_provider_date" json:"scheduled_date"`
	ScheduledTime   string    `gorm:"column:scheduled_time;type:varchar(5);not null" json:"scheduled_time"`
	DurationMinutes int       `gorm:"column:duration_minutes;not null;default:50" json:"duration_minutes"`
	Status          Status    `gorm:"column:status;type:varchar(30);not null;index" json:"status"`
}

func (Session) TableName() string {
	return "clinical.sessions"
}

func (s *Session) StartsAt(loc *time.Location) time.Time {
	t, err := window.At(s.ScheduledDate, s.ScheduledTime, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Session) EndsAt(loc *time.Location) time.Time {
	d := s.DurationMinutes
	if d <= 0 {
		d = DefaultDurationMinutes
	}
	return s.StartsAt(loc).Add(time.Duration(d) * time.Minute)
}

var transitions = map[Status][]Status{
	StatusScheduled:   {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusReserved:    {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusCancelled:   {},
	StatusCompleted:   {},
}

func (s *Session) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Advance applies next. A session completed without a recorded start passes
// through in_progress on the way.
func (s *Session) Advance(next Status) error {
	if next == StatusCompleted && s.CanTransitionTo(StatusInProgress) {
		s.Status = StatusInProgress
	}
	if !s.CanTransitionTo(next) {
		return ErrInvalidStatusTransition
	}
	s.Status = next
	return nil
}

type BookCommand struct {
	ProviderID    uuid.UUID
	CounterpartID uuid.UUID
	SlotID        uuid.UUID
}

type DateRange struct {
	From time.Time
	To   time.Time
}
