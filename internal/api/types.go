package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/quickcare/hospital-ops-api/internal/appointment"
)

// CreateAppointmentRequest accepts the legacy slot pair (date + time) or
// an explicit range (start_time, optional end_time).
type CreateAppointmentRequest struct {
	DoctorID  string     `json:"doctor_id" validate:"required,uuid"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Notes     string     `json:"notes" validate:"max=2000"`
}

// UpdateAppointmentRequest drives every PATCH operation: reschedule
// (date/time or start_time/end_time), completion (status), notes, and the
// admin-only payment confirmation.
type UpdateAppointmentRequest struct {
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Status           *string    `json:"status" validate:"omitempty,oneof=completed"`
	Notes            *string    `json:"notes" validate:"omitempty,max=2000"`
	PaymentConfirmed *bool      `json:"payment_confirmed"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	Status           string     `json:"status"`
	Notes            *string    `json:"notes,omitempty"`
	PatientName      string     `json:"patient_name"`
	DoctorName       string     `json:"doctor_name"`
	DoctorSpecialty  string     `json:"doctor_specialty,omitempty"`
	AmountDue        float64    `json:"amount_due"`
	PaymentConfirmed bool       `json:"payment_confirmed"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		StartTime:        a.Range.Start,
		EndTime:          a.Range.End,
		Status:           string(a.Status),
		Notes:            a.Notes,
		PatientName:      a.PatientName,
		DoctorName:       a.DoctorName,
		DoctorSpecialty:  a.DoctorSpecialty,
		AmountDue:        a.AmountDue,
		PaymentConfirmed: a.PaymentConfirmed,
		CreatedAt:        a.CreatedAt,
	}
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	About     *string   `json:"about,omitempty"`
	Available bool      `json:"available"`
	Fee       float64   `json:"fee"`
}

func newDoctorResponse(d *appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:        d.ID,
		Name:      d.Name,
		Specialty: d.Specialty,
		About:     d.About,
		Available: d.Available,
		Fee:       d.Fee,
	}
}

type SlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type CancelResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
