package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

// Read-side and registration endpoints. Reads take no lock and may observe a
// slot mid-transition; that is acceptable for listing.

func (s *BookingService) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	return s.doctors.All(ctx)
}

func (s *BookingService) SearchDoctors(ctx context.Context, specialization, name string) ([]domain.Doctor, error) {
	return s.doctors.Search(ctx, specialization, name)
}

func (s *BookingService) Specializations(ctx context.Context) ([]string, error) {
	return s.doctors.Specializations(ctx)
}

func (s *BookingService) RegisterPatient(ctx context.Context, bearer, name, email, phone string) (*domain.Patient, error) {
	claims, userID, err := s.authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if claims.Role != domain.RolePatient {
		s.log.WithFields(logrus.Fields{"user_id": userID, "role": claims.Role}).Warn("patient registration rejected: wrong role")
		return nil, domain.ErrForbidden
	}
	exists, err := s.patients.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		s.log.WithField("email", email).Warn("patient registration rejected: email taken")
		return nil, domain.ErrEmailTaken
	}
	p := &domain.Patient{UserID: userID, Name: name, Email: email, Phone: phone}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"patient_id": p.ID, "user_id": userID}).Info("patient registered")
	return p, nil
}

func (s *BookingService) CurrentPatient(ctx context.Context, bearer string) (*domain.Patient, error) {
	claims, userID, err := s.authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if claims.Role != domain.RolePatient {
		return nil, domain.ErrForbidden
	}
	return s.patients.ByUserID(ctx, userID)
}
