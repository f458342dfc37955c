package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, start_time, end_time, status, notes,
	patient_name, doctor_name, doctor_specialty, amount_due, payment_confirmed,
	acknowledged_at, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty, about *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&about,
		&d.Available,
		&d.Fee,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	d.About = about
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string
	var acknowledgedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Range.Start,
		&a.Range.End,
		&a.Status,
		&notes,
		&a.PatientName,
		&a.DoctorName,
		&a.DoctorSpecialty,
		&a.AmountDue,
		&a.PaymentConfirmed,
		&acknowledgedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Notes = notes
	a.AcknowledgedAt = acknowledgedAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, about, available, fee, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, about, available, fee, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) HasOverlappingScheduled(ctx context.Context, doctorID uuid.UUID, tr TimeRange, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND status = 'scheduled'
			  AND id <> $2
			  AND start_time < $4
			  AND $3 < end_time
		)
	`, doctorID, exclude, tr.Start, tr.End).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("overlap query: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListScheduledInWindow(ctx context.Context, doctorID uuid.UUID, window TimeRange) ([]TimeRange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND start_time < $3
		  AND $2 < end_time
		ORDER BY start_time
	`, doctorID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeRange
	for rows.Next() {
		var tr TimeRange
		if err := rows.Scan(&tr.Start, &tr.End); err != nil {
			return nil, err
		}
		result = append(result, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertScheduledIfFree commits the reservation and the appointment record
// as one statement: the row is inserted only if the overlap guard finds
// nothing. The gist exclusion constraint backs this up across processes,
// so an exclusion violation is reported as the same conflict.
func (r *PgRepository) InsertScheduledIfFree(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, start_time, end_time, status, notes,
			patient_name, doctor_name, doctor_specialty, amount_due,
			payment_confirmed, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, 'scheduled', $6, $7, $8, $9, $10, false, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $3
			  AND status = 'scheduled'
			  AND start_time < $5
			  AND $4 < end_time
		)
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.Range.Start, appt.Range.End,
		appt.Notes, appt.PatientName, appt.DoctorName, appt.DoctorSpecialty, appt.AmountDue)

	created, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrRangeConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, ErrRangeConflict
		}
		return nil, err
	}
	return created, nil
}

// RescheduleIfFree swaps the range in place, guarded by the same overlap
// condition excluding the appointment itself. When the guard fails the row
// is untouched, so the original reservation survives.
func (r *PgRepository) RescheduleIfFree(ctx context.Context, id uuid.UUID, newRange TimeRange) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		  AND NOT EXISTS (
			SELECT 1 FROM appointments other
			WHERE other.doctor_id = appointments.doctor_id
			  AND other.status = 'scheduled'
			  AND other.id <> $1
			  AND other.start_time < $3
			  AND $2 < other.end_time
		  )
		RETURNING `+appointmentColumns+`
	`, id, newRange.Start, newRange.End)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// No row matched: either the appointment is gone/terminal or
			// the guard failed. Callers disambiguate with a follow-up read.
			return nil, ErrRangeConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, ErrRangeConflict
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, notes)

	return scanAppointment(row)
}

func (r *PgRepository) SetPaymentConfirmed(ctx context.Context, id uuid.UUID, confirmed bool) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_confirmed = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, confirmed)

	return scanAppointment(row)
}

func (r *PgRepository) AcknowledgeBooking(ctx context.Context, id uuid.UUID, at time.Time) error {
	// Touching zero rows is fine: already acknowledged, or released.
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET acknowledged_at = $2
		WHERE id = $1
		  AND acknowledged_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("acknowledge booking: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_time
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY start_time
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindUnacknowledged(ctx context.Context, olderThan time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND acknowledged_at IS NULL
		  AND created_at < $1
	`, olderThan)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
