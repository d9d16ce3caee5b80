package service

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPayoutListLimit = 24

type PayoutService struct {
	repo     payout.Repository
	gate     payout.Gate
	clock    window.Clock
	events   realtime.Publisher
	auditSvc *AuditService
	metrics  *metrics.Collector
	log      *zap.Logger
}

func NewPayoutService(
	repo payout.Repository,
	gate payout.Gate,
	clock window.Clock,
	events realtime.Publisher,
	auditSvc *AuditService,
	m *metrics.Collector,
	log *zap.Logger,
) *PayoutService {
	return &PayoutService{repo: repo, gate: gate, clock: clock, events: events, auditSvc: auditSvc, metrics: m, log: log}
}

func (s *PayoutService) now() time.Time {
	return s.clock.Now().In(s.gate.Location)
}

// Eligibility explains whether the provider may request a payout right now.
func (s *PayoutService) Eligibility(ctx context.Context, caller Caller, providerID uuid.UUID) (*payout.Eligibility, error) {
	if !caller.CanActFor(providerID) {
		return nil, ErrForbidden
	}
	last, err := s.repo.GetLast(ctx, providerID)
	if err != nil {
		return nil, passOrWrap(err, "loading last payout request")
	}
	e := s.gate.Evaluate(last, s.now())
	return &e, nil
}

// RequestPayout creates an UnderReview request. The gate runs twice: once
// against a plain read to fail fast and once inside the store's locked
// re-read, which is the check that counts.
func (s *PayoutService) RequestPayout(ctx context.Context, caller Caller, cmd *payout.CreateRequestCommand) (*payout.Request, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.RequestPayout")
	defer span.End()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !caller.CanActFor(cmd.ProviderID) {
		return nil, ErrForbidden
	}

	now := s.now()
	last, err := s.repo.GetLast(ctx, cmd.ProviderID)
	if err != nil {
		return nil, passOrWrap(err, "loading last payout request")
	}
	if err := s.gate.Check(last, now); err != nil {
		s.countAttempt(payout.ReasonCode(err))
		return nil, err
	}

	label := cmd.PeriodLabel
	if label == "" {
		label = payout.PeriodLabelFor(now)
	}
	req := &payout.Request{
		CreatedAt:             now,
		ProviderID:            cmd.ProviderID,
		PeriodLabel:           label,
		AmountCents:           cmd.AmountCents,
		SessionCount:          cmd.SessionCount,
		Status:                payout.StatusUnderReview,
		SupportingDocumentRef: cmd.SupportingDocumentRef,
	}
	err = s.repo.CreateChecked(ctx, req, func(latest *payout.Request) error {
		return s.gate.Check(latest, now)
	})
	if err != nil {
		if domain.KindOf(err) != "" {
			s.countAttempt(payout.ReasonCode(err))
			return nil, err
		}
		s.countAttempt("error")
		s.log.Error("failed to create payout request", zap.String("provider_id", cmd.ProviderID.String()), zap.Error(err))
		return nil, passOrWrap(err, "creating payout request")
	}
	s.countAttempt("created")

	notify(ctx, s.events, s.log, realtime.Event{
		Type:         realtime.TypePayoutChanged,
		Topic:        realtime.ProviderTopic(cmd.ProviderID),
		ResourceType: "payout_request",
		ResourceID:   req.ID.String(),
	})
	s.auditSvc.LogAsync(ctx, caller.auditEntry(domain.ActionCreate, "payout_request", req.ID.String(), map[string]any{
		"period_label":  req.PeriodLabel,
		"amount_cents":  req.AmountCents,
		"session_count": req.SessionCount,
	}))

	return req, nil
}

func (s *PayoutService) ListRequests(ctx context.Context, caller Caller, providerID uuid.UUID, limit int) ([]*payout.Request, error) {
	if !caller.CanActFor(providerID) {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = defaultPayoutListLimit
	}
	reqs, err := s.repo.ListByProvider(ctx, providerID, limit)
	if err != nil {
		return nil, passOrWrap(err, "listing payout requests")
	}
	return reqs, nil
}

func (s *PayoutService) countAttempt(outcome string) {
	if s.metrics != nil {
		s.metrics.PayoutAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}
