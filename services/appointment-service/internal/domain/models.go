package domain

import "time"

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"

	StatusScheduled = "scheduled"
)

// DefaultSlots is the canonical daily availability template restored by the
// reset operation and granted to newly created doctors.
func DefaultSlots() []string {
	return []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
}

type Doctor struct {
	ID             uint `gorm:"primaryKey"`
	UserID         uint `gorm:"uniqueIndex"`
	Name           string
	Specialization string
	AvailableSlots []string `gorm:"serializer:json"`
	DailyLimit     int      `gorm:"default:5"`
	BookedSlots    int
}

type Patient struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"uniqueIndex"`
	Name   string
	Email  string `gorm:"uniqueIndex"`
	Phone  string
}

type Appointment struct {
	ID        uint `gorm:"primaryKey"`
	DoctorID  uint `gorm:"index"`
	PatientID uint `gorm:"index"`
	Time      time.Time
	Status    string `gorm:"default:scheduled"`
	CreatedAt time.Time
}

// EventConsumed records event ids the worker has already applied, so
// at-least-once redelivery stays a no-op.
type EventConsumed struct {
	ID          string `gorm:"primaryKey"`
	EventKey    string `gorm:"index"`
	ProcessedAt time.Time
}
