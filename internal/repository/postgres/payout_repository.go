package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PayoutRepository struct{ base }

var _ payout.Repository = (*PayoutRepository)(nil)

func lastRequest(db *gorm.DB, providerID uuid.UUID) (*payout.Request, error) {
	var req payout.Request
	err := db.Where("provider_id = ?", providerID).Order("created_at DESC").First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *PayoutRepository) GetLast(ctx context.Context, providerID uuid.UUID) (*payout.Request, error) {
	defer r.observe("get_last", "payout_requests", time.Now())

	req, err := lastRequest(r.db.WithContext(ctx), providerID)
	if err != nil {
		return nil, fmt.Errorf("loading last payout request: %w", err)
	}
	return req, nil
}

// CreateChecked serializes a provider's submissions on a transaction-scoped
// advisory lock. A row lock would not do: the first request has no row to lock.
func (r *PayoutRepository) CreateChecked(ctx context.Context, req *payout.Request, check func(last *payout.Request) error) error {
	defer r.observe("create_checked", "payout_requests", time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", req.ProviderID.String()).Error; err != nil {
			return fmt.Errorf("locking provider payouts: %w", err)
		}
		last, err := lastRequest(tx, req.ProviderID)
		if err != nil {
			return fmt.Errorf("loading last payout request: %w", err)
		}
		if err := check(last); err != nil {
			return err
		}
		if req.ID == uuid.Nil {
			req.ID = uuid.New()
		}
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("creating payout request: %w", err)
		}
		return nil
	})
}

func (r *PayoutRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*payout.Request, error) {
	defer r.observe("list", "payout_requests", time.Now())

	var reqs []*payout.Request
	err := r.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("listing payout requests: %w", err)
	}
	return reqs, nil
}

type AuditRepository struct{ base }

func (r *AuditRepository) Append(ctx context.Context, entries []*domain.AuditLog) error {
	defer r.observe("append", "audit_logs", time.Now())

	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.Changes == "" {
			e.Changes = "{}"
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(entries, len(entries)).Error; err != nil {
		return fmt.Errorf("writing %d audit entries: %w", len(entries), err)
	}
	return nil
}
