// Package events defines the payloads exchanged between the identity and
// appointment services. The broker owns durability; these are plain wire
// structs.
package events

import (
	"encoding/json"
	"fmt"
)

const (
	UsersExchange        = "users"
	AppointmentsExchange = "appointments"

	RKUserCreated        = "user.created"
	RKAppointmentCreated = "appointment.created"
)

// Profile carries the role-specific registration fields. Which fields are
// meaningful depends on Role; the consumer resolves it per role.
type Profile struct {
	Name           string `json:"name,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

type UserCreated struct {
	EventID   string  `json:"event_id"`
	Event     string  `json:"event"`
	UserID    uint    `json:"user_id"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	Profile   Profile `json:"profile"`
	Timestamp string  `json:"timestamp"`
}

type AppointmentCreated struct {
	EventID       string `json:"event_id"`
	AppointmentID uint   `json:"appointment_id"`
	DoctorID      uint   `json:"doctor_id"`
	PatientID     uint   `json:"patient_id"`
	Time          string `json:"time"`
}

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
