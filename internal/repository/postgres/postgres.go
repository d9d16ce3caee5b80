// Package postgres implements the store contracts on GORM. Multi-aggregate
// writes run in one transaction with the rows they depend on locked.
package postgres

import (
	"errors"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"gorm.io/gorm"
)

type Repositories struct {
	Slots         *SlotRepository
	Sessions      *SessionRepository
	Cancellations *CancellationRepository
	Payouts       *PayoutRepository
	Audit         *AuditRepository
}

func New(db *gorm.DB, m *metrics.Collector) *Repositories {
	b := base{db: db, metrics: m}
	return &Repositories{
		Slots:         &SlotRepository{b},
		Sessions:      &SessionRepository{b},
		Cancellations: &CancellationRepository{b},
		Payouts:       &PayoutRepository{b},
		Audit:         &AuditRepository{b},
	}
}

type base struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

// observe is deferred with the start time already evaluated.
func (b base) observe(operation, table string, start time.Time) {
	if b.metrics != nil {
		b.metrics.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// mapNotFound turns gorm's sentinel into the aggregate's own not-found error.
func mapNotFound(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// civilDate stores a calendar day as UTC midnight so the date column never
// shifts with the server's zone.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}
