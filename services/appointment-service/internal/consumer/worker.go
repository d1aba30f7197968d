package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/services/appointment-service/internal/domain"
	"github.com/you/mediqueue/services/appointment-service/internal/notify"
	"github.com/you/mediqueue/services/appointment-service/internal/repository"
)

// ErrPoison marks a payload that can never be processed; retrying is useless
// and the message goes straight to the dead-letter queue.
var ErrPoison = errors.New("unprocessable payload")

type Deliverer interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Worker drains the event bus and applies idempotent side effects. Delivery
// is at-least-once, so duplicates are expected, not exceptional.
type Worker struct {
	repo     *repository.ConsumerRepo
	doctors  *repository.DoctorRepo
	patients *repository.PatientRepo
	cons     Deliverer
	notifier notify.Notifier
	log      *logrus.Logger
}

func NewWorker(repo *repository.ConsumerRepo, doctors *repository.DoctorRepo, patients *repository.PatientRepo, cons Deliverer, notifier notify.Notifier, log *logrus.Logger) *Worker {
	return &Worker{repo: repo, doctors: doctors, patients: patients, cons: cons, notifier: notifier, log: log}
}

// Run blocks until ctx is cancelled or the delivery channel closes. A first
// handler failure requeues the message; a failure on a redelivery parks it on
// the dead-letter exchange instead of looping forever.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.cons.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := w.HandleDelivery(ctx, d); err != nil {
				if errors.Is(err, ErrPoison) || d.Redelivered {
					w.log.WithFields(logrus.Fields{"key": d.RoutingKey}).WithError(err).Error("dead-lettering message")
					_ = d.Nack(false, false)
				} else {
					w.log.WithFields(logrus.Fields{"key": d.RoutingKey}).WithError(err).Warn("handler failed, requeueing once")
					_ = d.Nack(false, true)
				}
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (w *Worker) HandleDelivery(ctx context.Context, d amqp.Delivery) error {
	switch d.RoutingKey {
	case events.RKUserCreated:
		evt, err := events.Unmarshal[events.UserCreated](d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return w.withDedup(ctx, evt.EventID, events.RKUserCreated, func() error {
			return w.handleUserCreated(ctx, evt)
		})

	case events.RKAppointmentCreated:
		evt, err := events.Unmarshal[events.AppointmentCreated](d.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return w.withDedup(ctx, evt.EventID, events.RKAppointmentCreated, func() error {
			return w.handleAppointmentCreated(ctx, evt)
		})

	default:
		w.log.WithField("key", d.RoutingKey).Warn("skipping unknown routing key")
		return nil
	}
}

// withDedup skips events already applied. Publishers without ids fall through
// to the handler-level existence checks.
func (w *Worker) withDedup(ctx context.Context, eventID, eventKey string, fn func() error) error {
	if eventID != "" {
		seen, err := w.repo.SeenEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if seen {
			w.log.WithFields(logrus.Fields{"event_id": eventID, "key": eventKey}).Warn("duplicate event, skipping")
			return nil
		}
	}
	if err := fn(); err != nil {
		return err
	}
	if eventID != "" {
		return w.repo.MarkSeen(ctx, eventID, eventKey)
	}
	return nil
}

func (w *Worker) handleUserCreated(ctx context.Context, evt events.UserCreated) error {
	switch evt.Role {
	case domain.RoleDoctor:
		name := evt.Profile.Name
		if name == "" {
			name = nameFromEmail(evt.Email)
		}
		specialization := evt.Profile.Specialization
		if specialization == "" {
			specialization = "General"
		}
		created, err := w.repo.EnsureDoctor(ctx, &domain.Doctor{
			UserID:         evt.UserID,
			Name:           name,
			Specialization: specialization,
			AvailableSlots: domain.DefaultSlots(),
			DailyLimit:     5,
			BookedSlots:    0,
		})
		if err != nil {
			return fmt.Errorf("create doctor profile user_id=%d: %w", evt.UserID, err)
		}
		if !created {
			w.log.WithField("user_id", evt.UserID).Warn("doctor profile already exists")
			return nil
		}
		w.log.WithFields(logrus.Fields{"user_id": evt.UserID, "specialization": specialization}).Info("doctor profile created")
		return nil

	case domain.RolePatient:
		name := evt.Profile.Name
		if name == "" {
			name = nameFromEmail(evt.Email)
		}
		phone := evt.Profile.Phone
		if phone == "" {
			phone = "N/A"
		}
		created, err := w.repo.EnsurePatient(ctx, &domain.Patient{
			UserID: evt.UserID,
			Name:   name,
			Email:  evt.Email,
			Phone:  phone,
		})
		if err != nil {
			return fmt.Errorf("create patient profile user_id=%d: %w", evt.UserID, err)
		}
		if !created {
			w.log.WithField("user_id", evt.UserID).Warn("patient profile already exists")
			return nil
		}
		w.log.WithField("user_id", evt.UserID).Info("patient profile created")
		return nil

	default:
		w.log.WithFields(logrus.Fields{"user_id": evt.UserID, "role": evt.Role}).Info("role not handled, skipping")
		return nil
	}
}

// handleAppointmentCreated is a read-only confirmation hook: resolve both
// parties and hand a summary to the notifier stub.
func (w *Worker) handleAppointmentCreated(ctx context.Context, evt events.AppointmentCreated) error {
	doctor, err := w.doctors.ByID(ctx, evt.DoctorID)
	if err != nil {
		w.log.WithFields(logrus.Fields{"doctor_id": evt.DoctorID, "patient_id": evt.PatientID}).Warn("doctor not found for appointment event")
		return nil
	}
	patient, err := w.patients.ByID(ctx, evt.PatientID)
	if err != nil {
		w.log.WithFields(logrus.Fields{"doctor_id": evt.DoctorID, "patient_id": evt.PatientID}).Warn("patient not found for appointment event")
		return nil
	}
	return w.notifier.Notify("Appointment confirmed",
		fmt.Sprintf("Dr. %s sees %s at %s", doctor.Name, patient.Name, evt.Time))
}

// nameFromEmail mirrors the registration fallback: capitalized local part.
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return strings.ToUpper(local[:1]) + local[1:]
}
