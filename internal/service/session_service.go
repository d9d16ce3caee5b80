package service

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type SessionOptions struct {
	Policy       session.CancellationPolicy
	HorizonDays  int
	PollInterval time.Duration
	Location     *time.Location
}

type SessionService struct {
	repo          session.Repository
	cancellations session.CancellationRepository
	tracker       *session.Tracker
	policy        session.CancellationPolicy
	horizonDays   int
	poll          time.Duration
	loc           *time.Location
	clock         window.Clock
	events        realtime.Publisher
	auditSvc      *AuditService
	metrics       *metrics.Collector
	log           *zap.Logger
}

func NewSessionService(
	repo session.Repository,
	cancellations session.CancellationRepository,
	opts SessionOptions,
	clock window.Clock,
	events realtime.Publisher,
	auditSvc *AuditService,
	m *metrics.Collector,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		repo:          repo,
		cancellations: cancellations,
		tracker:       session.NewTracker(opts.Location),
		policy:        opts.Policy,
		horizonDays:   opts.HorizonDays,
		poll:          opts.PollInterval,
		loc:           opts.Location,
		clock:         clock,
		events:        events,
		auditSvc:      auditSvc,
		metrics:       m,
		log:           log,
	}
}

// Tracker exposes the service's tracker so the realtime watcher derives
// statuses exactly as reads do.
func (s *SessionService) Tracker() *session.Tracker {
	return s.tracker
}

// SessionView is a session with its read-time derivation. It is valid until
// ValidUntil; callers must refetch after that.
type SessionView struct {
	*session.Session
	EffectiveStatus session.Status `json:"effective_status"`
	IsActiveNow     bool           `json:"is_active_now"`
	IsUpcoming      bool           `json:"is_upcoming"`
	StartsAt        time.Time      `json:"starts_at"`
	EndsAt          time.Time      `json:"ends_at"`
	ValidUntil      *time.Time     `json:"valid_until,omitempty"`
}

func (s *SessionService) view(sess *session.Session, now time.Time) *SessionView {
	if sess == nil {
		return nil
	}
	v := &SessionView{
		Session:         sess,
		EffectiveStatus: s.tracker.EffectiveStatus(sess, now),
		IsActiveNow:     s.tracker.IsActiveNow(sess, now),
		IsUpcoming:      s.tracker.IsUpcoming(sess, now),
		StartsAt:        sess.StartsAt(s.loc),
		EndsAt:          sess.EndsAt(s.loc),
	}
	if until := s.tracker.ValidUntil(sess, now); !until.IsZero() {
		v.ValidUntil = &until
	}
	return v
}

type Dashboard struct {
	ProviderID   uuid.UUID    `json:"provider_id"`
	Active       *SessionView `json:"active,omitempty"`
	NextUpcoming *SessionView `json:"next_upcoming,omitempty"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
	// RefreshAt is when the client must re-read at the latest: the earliest
	// validity boundary, capped by the poll interval.
	RefreshAt time.Time `json:"refresh_at"`
}

// Dashboard returns the provider's active session and the next one after it.
func (s *SessionService) Dashboard(ctx context.Context, caller Caller, providerID uuid.UUID) (*Dashboard, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Dashboard")
	defer span.End()

	if !caller.CanActFor(providerID) {
		return nil, ErrForbidden
	}

	now := s.clock.Now().In(s.loc)
	today := window.Day(now)
	sessions, err := s.repo.ListByProvider(ctx, providerID, session.DateRange{
		From: today.AddDate(0, 0, -1),
		To:   today.AddDate(0, 0, s.horizonDays),
	})
	if err != nil {
		return nil, passOrWrap(err, "listing sessions")
	}

	active := s.tracker.SelectActiveSession(sessions, now)
	rest := sessions
	if active != nil {
		rest = make([]*session.Session, 0, len(sessions))
		for _, sess := range sessions {
			if sess.ID != active.ID {
				rest = append(rest, sess)
			}
		}
	}
	next := s.tracker.SelectNextUpcoming(rest, now)

	d := &Dashboard{
		ProviderID:   providerID,
		Active:       s.view(active, now),
		NextUpcoming: s.view(next, now),
		EvaluatedAt:  now,
		RefreshAt:    now.Add(s.poll),
	}
	for _, v := range []*SessionView{d.Active, d.NextUpcoming} {
		if v != nil && v.ValidUntil != nil && v.ValidUntil.Before(d.RefreshAt) {
			d.RefreshAt = *v.ValidUntil
		}
	}
	return d, nil
}

func (s *SessionService) GetSession(ctx context.Context, caller Caller, id uuid.UUID) (*SessionView, error) {
	sess, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.view(sess, s.clock.Now().In(s.loc)), nil
}

// GetByID reads a session without a caller check. It backs the realtime
// watcher, which authorizes at subscribe time.
func (s *SessionService) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	return sess, passOrWrap(err, "loading session")
}

func (s *SessionService) load(ctx context.Context, caller Caller, id uuid.UUID) (*session.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, passOrWrap(err, "loading session")
	}
	if !caller.CanActFor(sess.ProviderID) {
		return nil, ErrForbidden
	}
	return sess, nil
}

// StartSession records that the session began. It is accepted only inside the
// session's window.
func (s *SessionService) StartSession(ctx context.Context, caller Caller, id uuid.UUID) (*SessionView, error) {
	ctx, span := tracer.Start(ctx, "SessionService.StartSession")
	defer span.End()

	sess, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !sess.CanTransitionTo(session.StatusInProgress) {
		return nil, session.ErrInvalidStatusTransition
	}

	now := s.clock.Now().In(s.loc)
	if now.Before(sess.StartsAt(s.loc)) {
		return nil, session.ErrSessionNotStarted
	}
	if !now.Before(sess.EndsAt(s.loc)) {
		return nil, session.ErrInvalidStatusTransition
	}

	return s.transition(ctx, caller, sess, session.StatusInProgress, slot.StatusInProgress, now)
}

// CompleteSession closes a session that started, whether or not the start was
// ever recorded.
func (s *SessionService) CompleteSession(ctx context.Context, caller Caller, id uuid.UUID) (*SessionView, error) {
	ctx, span := tracer.Start(ctx, "SessionService.CompleteSession")
	defer span.End()

	sess, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, session.ErrInvalidStatusTransition
	}

	now := s.clock.Now().In(s.loc)
	if now.Before(sess.StartsAt(s.loc)) {
		return nil, session.ErrSessionNotStarted
	}

	return s.transition(ctx, caller, sess, session.StatusCompleted, slot.StatusCompleted, now)
}

func (s *SessionService) transition(ctx context.Context, caller Caller, sess *session.Session, next session.Status, slotNext slot.Status, now time.Time) (*SessionView, error) {
	prev := sess.Status
	if err := s.repo.Transition(ctx, sess.ID, next, slotNext); err != nil {
		if domain.KindOf(err) == "" {
			s.log.Error("failed to write session status",
				zap.String("session_id", sess.ID.String()),
				zap.String("status", string(next)),
				zap.Error(err),
			)
		}
		return nil, passOrWrap(err, "updating session status")
	}
	sess.Status = next
	if s.metrics != nil {
		s.metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	}

	s.publishSessionChange(ctx, sess)
	s.auditSvc.LogAsync(ctx, caller.auditEntry(domain.ActionUpdate, "session", sess.ID.String(), map[string]any{
		"from": prev,
		"to":   next,
	}))

	return s.view(sess, now), nil
}

// AuthorizeCancellation opens the cancellation flow and tells the caller what
// the submission must carry.
func (s *SessionService) AuthorizeCancellation(ctx context.Context, caller Caller, id uuid.UUID) (*session.Authorization, error) {
	sess, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().In(s.loc)
	if s.tracker.EffectiveStatus(sess, now).IsTerminal() {
		return nil, session.ErrSessionNotCancellable
	}
	auth := s.policy.Authorize(sess, now)
	return &auth, nil
}

// SubmitCancellation re-evaluates the category at submit time. If the
// deadline passed while the flow was open the submission is refused so the
// caller can collect what a late cancellation needs.
func (s *SessionService) SubmitCancellation(ctx context.Context, caller Caller, cmd *session.CancelCommand) (*session.CancellationRecord, error) {
	ctx, span := tracer.Start(ctx, "SessionService.SubmitCancellation")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", cmd.SessionID.String()))

	if !cmd.Category.IsValid() {
		verr := &domain.ValidationError{}
		verr.Add("category", "must be early or late")
		return nil, verr
	}

	sess, err := s.load(ctx, caller, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().In(s.loc)
	if s.tracker.EffectiveStatus(sess, now).IsTerminal() {
		return nil, session.ErrSessionNotCancellable
	}

	auth := s.policy.Authorize(sess, now)
	if auth.Category != cmd.Category {
		s.log.Info("cancellation category changed while flow was open",
			zap.String("session_id", sess.ID.String()),
			zap.String("opened_as", string(cmd.Category)),
			zap.String("now", string(auth.Category)),
		)
		return nil, session.ErrCancellationWindowChanged
	}
	if err := cmd.Validate(auth); err != nil {
		return nil, err
	}

	if cmd.CancelledBy == uuid.Nil {
		cmd.CancelledBy = caller.UserID
	}
	rec := session.NewCancellationRecord(sess, auth, cmd, now)
	if err := s.cancellations.Cancel(ctx, rec); err != nil {
		if domain.KindOf(err) == "" {
			s.log.Error("failed to store cancellation", zap.String("session_id", sess.ID.String()), zap.Error(err))
		}
		return nil, passOrWrap(err, "cancelling session")
	}
	if s.metrics != nil {
		s.metrics.CancellationsTotal.WithLabelValues(string(rec.Category)).Inc()
	}

	sess.Status = session.StatusCancelled
	s.publishSessionChange(ctx, sess)
	if sess.SlotID != nil {
		notify(ctx, s.events, s.log, realtime.Event{
			Type:         realtime.TypeSlotsChanged,
			Topic:        realtime.ProviderTopic(sess.ProviderID),
			ResourceType: "slot",
			ResourceID:   sess.SlotID.String(),
			Date:         dayLabel(sess.ScheduledDate),
		})
	}

	s.auditSvc.LogAsync(ctx, caller.auditEntry(domain.ActionCancel, "session", sess.ID.String(), map[string]any{
		"category":               rec.Category,
		"requires_justification": rec.RequiresJustification,
		"minutes_until_start":    auth.MinutesUntilStart,
	}))

	return rec, nil
}

// GetCancellation returns the immutable record written when the session was
// cancelled.
func (s *SessionService) GetCancellation(ctx context.Context, caller Caller, id uuid.UUID) (*session.CancellationRecord, error) {
	if _, err := s.load(ctx, caller, id); err != nil {
		return nil, err
	}
	rec, err := s.cancellations.GetBySession(ctx, id)
	return rec, passOrWrap(err, "loading cancellation")
}

func (s *SessionService) publishSessionChange(ctx context.Context, sess *session.Session) {
	e := realtime.Event{Type: realtime.TypeSessionChanged, ResourceType: "session", ResourceID: sess.ID.String()}
	e.Topic = realtime.SessionTopic(sess.ID)
	notify(ctx, s.events, s.log, e)
	e.Topic = realtime.ProviderTopic(sess.ProviderID)
	notify(ctx, s.events, s.log, e)
}
