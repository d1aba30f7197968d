package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/services/appointment-service/internal/authclient"
	"github.com/you/mediqueue/services/appointment-service/internal/domain"
	"github.com/you/mediqueue/services/appointment-service/internal/repository"
)

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, bearer string) (*authclient.Claims, error)
}

// BookingService coordinates a booking request: authenticate, acquire the
// per-(doctor,slot) lease, validate, commit, publish. The lease is never
// released; its expiry is the release.
type BookingService struct {
	doctors  *repository.DoctorRepo
	patients *repository.PatientRepo
	appts    *repository.AppointmentRepo
	verifier TokenVerifier
	locker   kv.Locker
	pub      Publisher
	lockTTL  time.Duration
	log      *logrus.Logger
}

func NewBookingService(
	doctors *repository.DoctorRepo,
	patients *repository.PatientRepo,
	appts *repository.AppointmentRepo,
	verifier TokenVerifier,
	locker kv.Locker,
	pub Publisher,
	lockTTL time.Duration,
	log *logrus.Logger,
) *BookingService {
	if lockTTL <= 0 {
		lockTTL = 60 * time.Second
	}
	return &BookingService{doctors: doctors, patients: patients, appts: appts, verifier: verifier, locker: locker, pub: pub, lockTTL: lockTTL, log: log}
}

type BookingResult struct {
	Appointment *domain.Appointment
	// Published is false when the commit succeeded but the event publish did
	// not; the booking stands either way.
	Published bool
}

func (s *BookingService) Book(ctx context.Context, bearer string, doctorID uint, slot string) (*BookingResult, error) {
	claims, userID, err := s.authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if claims.Role != domain.RolePatient {
		s.log.WithFields(logrus.Fields{"user_id": userID, "role": claims.Role}).Warn("booking rejected: role is not patient")
		return nil, domain.ErrForbidden
	}
	if _, err := time.Parse("15:04", slot); err != nil {
		return nil, domain.ErrSlotUnavailable
	}

	key := kv.DoctorSlotKey(doctorID, slot)
	lease, ok, err := s.locker.TryAcquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	if !ok {
		s.log.WithFields(logrus.Fields{"doctor_id": doctorID, "slot": slot}).Warn("booking rejected: slot lock contested")
		return nil, domain.ErrSlotContested
	}
	s.log.WithFields(logrus.Fields{"key": lease.Key, "deadline": lease.Deadline}).Debug("slot lease acquired")

	patient, err := s.patients.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	appt, err := s.appts.Book(ctx, doctorID, slot, patient.ID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"appointment_id": appt.ID, "doctor_id": doctorID, "patient_id": patient.ID, "slot": slot}).Info("appointment created")

	evt := events.AppointmentCreated{
		EventID:       uuid.NewString(),
		AppointmentID: appt.ID,
		DoctorID:      doctorID,
		PatientID:     patient.ID,
		Time:          slot,
	}
	if err := s.pub.PublishJSON(ctx, events.RKAppointmentCreated, evt); err != nil {
		// Committed already; never rolled back for a messaging fault.
		s.log.WithFields(logrus.Fields{"appointment_id": appt.ID, "event_id": evt.EventID}).WithError(err).Error("appointment.created publish failed")
		return &BookingResult{Appointment: appt, Published: false}, nil
	}
	return &BookingResult{Appointment: appt, Published: true}, nil
}

// UpdateSlots is the owning doctor's full replacement of availability.
// Last write wins; authorization, not the lock, guards this path.
func (s *BookingService) UpdateSlots(ctx context.Context, bearer string, slots []string) (*domain.Doctor, error) {
	claims, userID, err := s.authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if claims.Role != domain.RoleDoctor {
		s.log.WithFields(logrus.Fields{"user_id": userID, "role": claims.Role}).Warn("slot update rejected: role is not doctor")
		return nil, domain.ErrForbidden
	}
	for _, slot := range slots {
		if _, err := time.Parse("15:04", slot); err != nil {
			return nil, fmt.Errorf("%w: bad slot %q", domain.ErrSlotUnavailable, slot)
		}
	}
	doctor, err := s.doctors.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated, err := s.doctors.ReplaceSlots(ctx, doctor.ID, slots)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"doctor_id": doctor.ID, "old": doctor.AvailableSlots, "new": updated.AvailableSlots}).Info("doctor slots updated")
	return updated, nil
}

// ResetAll restores every doctor to the canonical daily template. Each doctor
// is reset only after leasing all of their contended keys, so a booking that
// is mid-commit cannot be clobbered; contended doctors are skipped and
// reported.
func (s *BookingService) ResetAll(ctx context.Context) (reset, skipped int, err error) {
	doctors, err := s.doctors.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	template := domain.DefaultSlots()
	for _, doc := range doctors {
		if !s.leaseAllSlots(ctx, doc, template) {
			s.log.WithField("doctor_id", doc.ID).Warn("reset skipped: booking in flight")
			skipped++
			continue
		}
		if err := s.doctors.Reset(ctx, doc.ID, template); err != nil {
			return reset, skipped, err
		}
		reset++
	}
	s.log.WithFields(logrus.Fields{"reset": reset, "skipped": skipped}).Info("daily slot reset finished")
	return reset, skipped, nil
}

// leaseAllSlots takes short leases on the template slots plus the doctor's
// current ones. Any contended key means a booking holds that slot right now.
func (s *BookingService) leaseAllSlots(ctx context.Context, doc domain.Doctor, template []string) bool {
	seen := map[string]struct{}{}
	for _, slot := range append(append([]string{}, template...), doc.AvailableSlots...) {
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		_, ok, err := s.locker.TryAcquire(ctx, kv.DoctorSlotKey(doc.ID, slot), 5*time.Second)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (s *BookingService) authenticate(ctx context.Context, bearer string) (*authclient.Claims, uint, error) {
	claims, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, 0, err
	}
	userID, err := strconv.ParseUint(claims.Sub, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: non-numeric subject", domain.ErrUnauthorized)
	}
	return claims, uint(userID), nil
}

// IsAuthFailure reports whether err means the credential was rejected, as
// opposed to the verifier being unreachable.
func IsAuthFailure(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
