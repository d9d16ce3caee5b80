package realtime

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionSource re-reads a session from the authoritative store.
type SessionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

// Snapshot is the freshly derived view handed to watchers.
type Snapshot struct {
	Session    *session.Session
	Effective  session.Status
	ValidUntil time.Time
}

// SessionWatcher keeps one observer's view of a session converged. It
// refetches on every push event, on every poll tick and at the instant the
// derived status is due to change, so a lost notification costs at most one
// poll interval.
type SessionWatcher struct {
	bus     *Bus
	source  SessionSource
	tracker *session.Tracker
	clock   window.Clock
	poll    time.Duration
	log     *zap.Logger
}

func NewSessionWatcher(
	bus *Bus,
	source SessionSource,
	tracker *session.Tracker,
	clock window.Clock,
	poll time.Duration,
	log *zap.Logger,
) *SessionWatcher {
	return &SessionWatcher{bus: bus, source: source, tracker: tracker, clock: clock, poll: poll, log: log}
}

// Watch calls onChange with the initial snapshot and then whenever the stored
// or effective status changes. It returns when ctx ends or the session reaches
// a terminal effective status. Only the initial read error is returned; later
// read failures are logged and retried on the next tick.
func (w *SessionWatcher) Watch(ctx context.Context, sessionID uuid.UUID, onChange func(Snapshot)) error {
	sub := w.bus.Subscribe(SessionTopic(sessionID))
	defer sub.Close()

	last, err := w.refresh(ctx, sessionID)
	if err != nil {
		return err
	}
	onChange(last)
	if last.Effective.IsTerminal() {
		return nil
	}

	timer := time.NewTimer(w.nextWake(last))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.Events():
			if !ok {
				return nil
			}
		case <-timer.C:
		}

		snap, err := w.refresh(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("session watcher refetch failed",
				zap.String("session_id", sessionID.String()),
				zap.Error(err),
			)
			resetTimer(timer, w.poll)
			continue
		}

		if snap.Effective != last.Effective || snap.Session.Status != last.Session.Status {
			onChange(snap)
		}
		last = snap
		if last.Effective.IsTerminal() {
			return nil
		}
		resetTimer(timer, w.nextWake(last))
	}
}

func (w *SessionWatcher) refresh(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	s, err := w.source.GetByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	now := w.clock.Now()
	return Snapshot{
		Session:    s,
		Effective:  w.tracker.EffectiveStatus(s, now),
		ValidUntil: w.tracker.ValidUntil(s, now),
	}, nil
}

// nextWake is the poll interval, shortened so the watcher never sleeps past
// the snapshot's validity boundary.
func (w *SessionWatcher) nextWake(snap Snapshot) time.Duration {
	wait := w.poll
	if !snap.ValidUntil.IsZero() {
		if until := snap.ValidUntil.Sub(w.clock.Now()); until < wait {
			wait = until
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
