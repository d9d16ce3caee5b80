package service

import (
	"context"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"go.uber.org/zap"
)

// AuditRepository persists a batch of audit rows in one write.
type AuditRepository interface {
	Append(ctx context.Context, entries []*domain.AuditLog) error
}

const (
	auditQueueSize     = 10_000
	auditBatchSize     = 100
	auditFlushInterval = time.Second
	auditWriteTimeout  = 5 * time.Second
	auditDrainTimeout  = 10 * time.Second
)

// AuditService records who changed what off the request path. Entries are
// queued, grouped into batches and written by a single worker; a full queue
// drops the entry rather than slowing the caller.
type AuditService struct {
	repo    AuditRepository
	log     *zap.Logger
	metrics *metrics.Collector

	queue    chan *domain.AuditLog
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewAuditService(repo AuditRepository, m *metrics.Collector, log *zap.Logger) *AuditService {
	svc := &AuditService{
		repo:    repo,
		log:     log.Named("audit"),
		metrics: m,
		queue:   make(chan *domain.AuditLog, auditQueueSize),
		stopped: make(chan struct{}),
	}
	go svc.run()
	return svc
}

func (s *AuditService) LogAsync(_ context.Context, entry AuditEntry) {
	row := &domain.AuditLog{
		OccurredAt:   time.Now().UTC(),
		UserID:       entry.UserID,
		UserRole:     entry.UserRole,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		Changes:      entry.Changes,
	}

	select {
	case s.queue <- row:
	default:
		if s.metrics != nil {
			s.metrics.AuditBufferDropped.Inc()
		}
		s.log.Warn("audit queue full, entry dropped",
			zap.String("action", string(entry.Action)),
			zap.String("resource_type", entry.ResourceType),
			zap.String("resource_id", entry.ResourceID),
			zap.String("request_id", entry.RequestID),
		)
	}
}

// Shutdown flushes whatever is queued and stops the worker. It is safe to call
// more than once; LogAsync must not be called afterwards.
func (s *AuditService) Shutdown() {
	s.stopOnce.Do(func() { close(s.queue) })
	select {
	case <-s.stopped:
	case <-time.After(auditDrainTimeout):
		s.log.Warn("audit drain timed out; queued entries may be lost", zap.Int("queued", len(s.queue)))
	}
}

func (s *AuditService) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.AuditLog, 0, auditBatchSize)
	for {
		select {
		case row, ok := <-s.queue:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, row)
			if len(batch) == auditBatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *AuditService) flush(batch []*domain.AuditLog) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.repo.Append(ctx, batch); err != nil {
		s.log.Error("audit batch not persisted", zap.Int("entries", len(batch)), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.AuditEntriesTotal.Add(float64(len(batch)))
	}
}
