package domain

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

type User struct {
	ID             uint   `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex"`
	HashedPassword string
	Role           string
}
