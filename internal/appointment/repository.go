package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrRangeConflict is the storage layer's conflict outcome: the
	// conditional write found an overlapping scheduled appointment. It is
	// an expected result under contention, not a fault.
	ErrRangeConflict = errors.New("time range conflicts with a scheduled appointment")
)

// Repository contains all DB interactions needed by the service.
//
// InsertScheduledIfFree and RescheduleIfFree are the atomic conditional
// writes: each commits only if no overlapping scheduled appointment exists
// for the doctor at commit time, as one indivisible storage operation.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	// Calendar queries
	HasOverlappingScheduled(ctx context.Context, doctorID uuid.UUID, r TimeRange, exclude uuid.UUID) (bool, error)
	ListScheduledInWindow(ctx context.Context, doctorID uuid.UUID, window TimeRange) ([]TimeRange, error)

	// Atomic conditional writes
	InsertScheduledIfFree(ctx context.Context, appt *Appointment) (*Appointment, error)
	RescheduleIfFree(ctx context.Context, id uuid.UUID, newRange TimeRange) (*Appointment, error)

	// Lifecycle and bookkeeping
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error)
	SetPaymentConfirmed(ctx context.Context, id uuid.UUID, confirmed bool) (*Appointment, error)
	AcknowledgeBooking(ctx context.Context, id uuid.UUID, at time.Time) error

	// Listings
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAll(ctx context.Context, limit, offset int) ([]Appointment, error)

	// Reconciler
	FindUnacknowledged(ctx context.Context, olderThan time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
