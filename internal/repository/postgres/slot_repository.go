package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SlotRepository struct{ base }

var _ slot.Repository = (*SlotRepository)(nil)

func (r *SlotRepository) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*slot.Slot, error) {
	defer r.observe("list", "slots", time.Now())

	var slots []*slot.Slot
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND date = ?", providerID, dateParam(date)).
		Order("time ASC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	return slots, nil
}

func (r *SlotRepository) GetByID(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	defer r.observe("get", "slots", time.Now())

	var sl slot.Slot
	if err := r.db.WithContext(ctx).First(&sl, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err, slot.ErrSlotNotFound)
	}
	return &sl, nil
}

func (r *SlotRepository) FindByProviderDateTime(ctx context.Context, providerID uuid.UUID, date time.Time, hhmm string) (*slot.Slot, error) {
	defer r.observe("find", "slots", time.Now())

	var sl slot.Slot
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND date = ? AND time = ?", providerID, dateParam(date), hhmm).
		First(&sl).Error
	if err != nil {
		return nil, mapNotFound(err, slot.ErrSlotNotFound)
	}
	return &sl, nil
}

// CreateBatch inserts with ON CONFLICT DO NOTHING on the provider/day/time
// key, then reads the stored rows back so every caller sees the winner.
func (r *SlotRepository) CreateBatch(ctx context.Context, slots []*slot.Slot) ([]*slot.Slot, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	defer r.observe("create_batch", "slots", time.Now())

	for _, sl := range slots {
		if sl.ID == uuid.Nil {
			sl.ID = uuid.New()
		}
		sl.Date = civilDate(sl.Date)
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}, {Name: "date"}, {Name: "time"}},
		DoNothing: true,
	}).Create(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("inserting slots: %w", err)
	}

	type dayKey struct {
		provider uuid.UUID
		date     string
	}
	stored := make(map[dayKey]map[string]*slot.Slot)
	out := make([]*slot.Slot, 0, len(slots))
	for _, sl := range slots {
		k := dayKey{sl.ProviderID, dateParam(sl.Date)}
		byTime, ok := stored[k]
		if !ok {
			var rows []*slot.Slot
			if err := db.Where("provider_id = ? AND date = ?", k.provider, k.date).Find(&rows).Error; err != nil {
				return nil, fmt.Errorf("reading back slots: %w", err)
			}
			byTime = make(map[string]*slot.Slot, len(rows))
			for _, row := range rows {
				byTime[row.Time] = row
			}
			stored[k] = byTime
		}
		if row, ok := byTime[sl.Time]; ok {
			out = append(out, row)
		} else {
			out = append(out, sl)
		}
	}
	return out, nil
}

// Toggle holds the row lock across guard and write, so a booking that commits
// first is seen by guard instead of being overwritten.
func (r *SlotRepository) Toggle(ctx context.Context, id uuid.UUID, next slot.Status, guard func(*slot.Slot) error) error {
	defer r.observe("toggle", "slots", time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sl slot.Slot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sl, "id = ?", id).Error; err != nil {
			return mapNotFound(err, slot.ErrSlotNotFound)
		}
		if err := guard(&sl); err != nil {
			return err
		}
		if sl.Status == next {
			return nil
		}
		if err := tx.Model(&slot.Slot{}).Where("id = ?", id).Update("status", next).Error; err != nil {
			return fmt.Errorf("updating slot status: %w", err)
		}
		return nil
	})
}
