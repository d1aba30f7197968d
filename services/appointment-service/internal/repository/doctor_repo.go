package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

type DoctorRepo struct{ db *gorm.DB }

func NewDoctorRepo(db *gorm.DB) *DoctorRepo {
	return &DoctorRepo{db: db}
}

func (r *DoctorRepo) All(ctx context.Context) ([]domain.Doctor, error) {
	var out []domain.Doctor
	if err := r.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DoctorRepo) ByID(ctx context.Context, id uint) (*domain.Doctor, error) {
	var d domain.Doctor
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DoctorRepo) ByUserID(ctx context.Context, userID uint) (*domain.Doctor, error) {
	var d domain.Doctor
	if err := r.db.WithContext(ctx).First(&d, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DoctorRepo) Search(ctx context.Context, specialization, name string) ([]domain.Doctor, error) {
	qb := r.db.WithContext(ctx).Model(&domain.Doctor{})
	if specialization != "" {
		qb = qb.Where("specialization LIKE ?", "%"+specialization+"%")
	}
	if name != "" {
		qb = qb.Where("name LIKE ?", "%"+name+"%")
	}
	var out []domain.Doctor
	if err := qb.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DoctorRepo) Specializations(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&domain.Doctor{}).
		Distinct("specialization").
		Where("specialization <> ''").
		Pluck("specialization", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceSlots is the owning doctor's unconditional overwrite; authorization,
// not locking, guards this path.
func (r *DoctorRepo) ReplaceSlots(ctx context.Context, doctorID uint, slots []string) (*domain.Doctor, error) {
	var d domain.Doctor
	if err := r.db.WithContext(ctx).First(&d, "id = ?", doctorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDoctorNotFound
		}
		return nil, err
	}
	d.AvailableSlots = slots
	if err := r.db.WithContext(ctx).Save(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Reset restores one doctor to the given template with zero booked slots.
func (r *DoctorRepo) Reset(ctx context.Context, doctorID uint, slots []string) error {
	return r.db.WithContext(ctx).Model(&domain.Doctor{}).
		Where("id = ?", doctorID).
		Select("available_slots", "booked_slots").
		Updates(domain.Doctor{AvailableSlots: slots, BookedSlots: 0}).Error
}
