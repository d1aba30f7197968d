package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

// ConsumerRepo backs the event worker: profile upserts plus the consumed-event
// ledger that keeps redelivered messages from applying twice.
type ConsumerRepo struct{ db *gorm.DB }

func NewConsumerRepo(db *gorm.DB) *ConsumerRepo {
	return &ConsumerRepo{db: db}
}

func (r *ConsumerRepo) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.EventConsumed{}).Where("id = ?", eventID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ConsumerRepo) MarkSeen(ctx context.Context, eventID, eventKey string) error {
	rec := domain.EventConsumed{ID: eventID, EventKey: eventKey, ProcessedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// EnsureDoctor inserts the doctor profile unless one already exists for the
// user id. Returns false on the duplicate path.
func (r *ConsumerRepo) EnsureDoctor(ctx context.Context, d *domain.Doctor) (bool, error) {
	var existing domain.Doctor
	err := r.db.WithContext(ctx).First(&existing, "user_id = ?", d.UserID).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return true, r.db.WithContext(ctx).Create(d).Error
}

func (r *ConsumerRepo) EnsurePatient(ctx context.Context, p *domain.Patient) (bool, error) {
	var existing domain.Patient
	err := r.db.WithContext(ctx).First(&existing, "user_id = ?", p.UserID).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return true, r.db.WithContext(ctx).Create(p).Error
}
