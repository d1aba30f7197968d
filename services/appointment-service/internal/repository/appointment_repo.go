package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

type AppointmentRepo struct{ db *gorm.DB }

func NewAppointmentRepo(db *gorm.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

func (r *AppointmentRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Doctor{}, &domain.Patient{}, &domain.Appointment{}, &domain.EventConsumed{})
}

// Book runs the check-and-update against the slot ledger as one transaction:
// remove the slot, bump the booked count, insert the appointment row. The
// caller must hold the per-(doctor,slot) lock; the transaction only prevents
// the multi-row write from being observed half-done.
func (r *AppointmentRepo) Book(ctx context.Context, doctorID uint, slot string, patientID uint) (*domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doctor domain.Doctor
		if err := tx.First(&doctor, "id = ?", doctorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrDoctorNotFound
			}
			return err
		}

		remaining := make([]string, 0, len(doctor.AvailableSlots))
		found := false
		for _, s := range doctor.AvailableSlots {
			if s == slot {
				found = true
				continue
			}
			remaining = append(remaining, s)
		}
		if !found {
			return domain.ErrSlotUnavailable
		}

		doctor.AvailableSlots = remaining
		doctor.BookedSlots++
		if err := tx.Save(&doctor).Error; err != nil {
			return err
		}

		appt = domain.Appointment{
			DoctorID:  doctorID,
			PatientID: patientID,
			Time:      slotTimeToday(slot),
			Status:    domain.StatusScheduled,
		}
		return tx.Create(&appt).Error
	})
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

func (r *AppointmentRepo) ByID(ctx context.Context, id uint) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// slotTimeToday anchors an HH:MM slot on today's date, as the scheduler has
// no notion of future days.
func slotTimeToday(slot string) time.Time {
	t, err := time.Parse("15:04", slot)
	if err != nil {
		return time.Time{}
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
}
