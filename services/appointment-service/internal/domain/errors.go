package domain

import "errors"

var (
	ErrUnauthorized    = errors.New("invalid or expired token")
	ErrForbidden       = errors.New("operation not allowed for this role")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient record not found")
	ErrSlotUnavailable = errors.New("slot not available")
	ErrSlotContested   = errors.New("slot already being booked, try another time")
	ErrAlreadyExpired  = errors.New("token already expired")
	ErrEmailTaken      = errors.New("email already registered")
)
