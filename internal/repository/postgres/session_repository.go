package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct{ base }

var _ session.Repository = (*SessionRepository)(nil)

func (r *SessionRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, dr session.DateRange) ([]*session.Session, error) {
	defer r.observe("list", "sessions", time.Now())

	var sessions []*session.Session
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND scheduled_date BETWEEN ? AND ?", providerID, dateParam(dr.From), dateParam(dr.To)).
		Order("scheduled_date ASC, scheduled_time ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	defer r.observe("get", "sessions", time.Now())

	var s session.Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err, session.ErrSessionNotFound)
	}
	return &s, nil
}

// Book locks the slot row, reserves it and inserts the session. Two callers
// racing for the same slot serialize on the lock and the loser sees Reserved.
func (r *SessionRepository) Book(ctx context.Context, s *session.Session, slotID uuid.UUID) error {
	defer r.observe("book", "sessions", time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sl slot.Slot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sl, "id = ?", slotID).Error; err != nil {
			return mapNotFound(err, slot.ErrSlotNotFound)
		}
		if err := sl.Reserve(); err != nil {
			return err
		}
		if err := tx.Model(&slot.Slot{}).Where("id = ?", slotID).Update("status", sl.Status).Error; err != nil {
			return fmt.Errorf("reserving slot: %w", err)
		}

		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		id := slotID
		s.SlotID = &id
		s.ScheduledDate = civilDate(s.ScheduledDate)
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		return nil
	})
}

func (r *SessionRepository) Transition(ctx context.Context, id uuid.UUID, status session.Status, slotStatus slot.Status) error {
	defer r.observe("transition", "sessions", time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s session.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error; err != nil {
			return mapNotFound(err, session.ErrSessionNotFound)
		}
		if err := s.Advance(status); err != nil {
			return err
		}

		if slotStatus != "" && s.SlotID != nil {
			var sl slot.Slot
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sl, "id = ?", *s.SlotID).Error; err != nil {
				return mapNotFound(err, slot.ErrSlotNotFound)
			}
			if err := sl.Advance(slotStatus); err != nil {
				return err
			}
			if err := tx.Model(&slot.Slot{}).Where("id = ?", sl.ID).Update("status", sl.Status).Error; err != nil {
				return fmt.Errorf("updating slot status: %w", err)
			}
		}

		if err := tx.Model(&session.Session{}).Where("id = ?", id).Update("status", s.Status).Error; err != nil {
			return fmt.Errorf("updating session status: %w", err)
		}
		return nil
	})
}

type CancellationRepository struct{ base }

var _ session.CancellationRepository = (*CancellationRepository)(nil)

func (r *CancellationRepository) Cancel(ctx context.Context, rec *session.CancellationRecord) error {
	defer r.observe("cancel", "sessions", time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s session.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", rec.SessionID).Error; err != nil {
			return mapNotFound(err, session.ErrSessionNotFound)
		}
		if s.Status.IsTerminal() {
			return session.ErrSessionNotCancellable
		}
		if err := tx.Model(&session.Session{}).Where("id = ?", s.ID).Update("status", session.StatusCancelled).Error; err != nil {
			return fmt.Errorf("cancelling session: %w", err)
		}
		if s.SlotID != nil {
			err := tx.Model(&slot.Slot{}).
				Where("id = ? AND status IN ?", *s.SlotID, []slot.Status{slot.StatusReserved, slot.StatusInProgress}).
				Update("status", slot.StatusAvailable).Error
			if err != nil {
				return fmt.Errorf("releasing slot: %w", err)
			}
		}

		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("storing cancellation: %w", err)
		}
		return nil
	})
}

func (r *CancellationRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*session.CancellationRecord, error) {
	defer r.observe("get", "cancellations", time.Now())

	var rec session.CancellationRecord
	err := r.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrCancellationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading cancellation: %w", err)
	}
	return &rec, nil
}
