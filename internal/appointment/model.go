package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further lifecycle transition is defined.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated identity supplied by the auth boundary.
// The service trusts it for authorization decisions.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	About     *string
	Available bool
	Fee       float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment rows are never deleted; cancellation is a status change so
// the audit trail survives. Display fields are snapshotted at booking time
// so listing does not fan out into joins.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Range           TimeRange
	Status          Status
	Notes           *string
	PatientName     string
	DoctorName      string
	DoctorSpecialty string
	AmountDue       float64

	// PaymentConfirmed is flipped by the billing boundary, never by booking.
	PaymentConfirmed bool

	// AcknowledgedAt is set once the booking coordinator has observed the
	// reservation commit. Rows left unacknowledged past the hold TTL are
	// released by the reconciler.
	AcknowledgedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
