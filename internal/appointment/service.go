package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/events"
	"github.com/quickcare/hospital-ops-api/internal/notify"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventPaymentConfirmed       = "APPOINTMENT_PAYMENT_CONFIRMED"
	EventHoldReleased           = "APPOINTMENT_HOLD_RELEASED"
)

var (
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrUnauthorizedActor = errors.New("actor may not perform this action")
	ErrAlreadyTerminal   = errors.New("appointment is already completed or cancelled")
)

// BookingInput carries both historical request shapes: the legacy
// date + clock-time slot pair and the explicit start/end range. Exactly
// one must be filled in; the slot form gets the calendar's fixed duration.
type BookingInput struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
	Start    *time.Time
	End      *time.Time
	Notes    string
}

type RescheduleInput struct {
	Date  string
	Time  string
	Start *time.Time
	End   *time.Time
}

// Service is the booking coordinator: it validates and normalizes
// requests, consults the doctor directory, drives the calendar's atomic
// reserve/release, and owns every lifecycle transition thereafter.
type Service struct {
	repo       Repository
	cal        *Calendar
	notifier   notify.Notifier
	publisher  events.Publisher
	logger     *zap.Logger
	holdAckTTL time.Duration
}

func NewService(repo Repository, cal *Calendar, notifier notify.Notifier, publisher events.Publisher, logger *zap.Logger, holdAckTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		cal:        cal,
		notifier:   notifier,
		publisher:  publisher,
		logger:     logger,
		holdAckTTL: holdAckTTL,
	}
}

func (s *Service) normalizeBookingRange(in BookingInput) (TimeRange, error) {
	hasSlotForm := in.Date != "" || in.Time != ""
	hasRangeForm := in.Start != nil

	switch {
	case hasSlotForm && hasRangeForm:
		return TimeRange{}, invalidField("request", "provide either date+time or start_time, not both")
	case hasSlotForm:
		if in.Date == "" {
			return TimeRange{}, invalidField("date", "required with time")
		}
		if in.Time == "" {
			return TimeRange{}, invalidField("time", "required with date")
		}
		return NormalizeSlot(in.Date, in.Time, s.cal.SlotDuration())
	case hasRangeForm:
		end := in.Start.Add(s.cal.SlotDuration())
		if in.End != nil {
			end = *in.End
		}
		return NewTimeRange(*in.Start, end)
	default:
		return TimeRange{}, invalidField("request", "date+time or start_time is required")
	}
}

// Book runs the coordinator sequence: validate, normalize, check the
// doctor directory, atomically reserve, then acknowledge. A reservation
// whose outcome the coordinator could not observe is verified and, if
// present but unacknowledged, released — never left as a phantom hold.
func (s *Service) Book(ctx context.Context, actor Actor, in BookingInput) (*Appointment, error) {
	if actor.Role != RolePatient {
		return nil, ErrUnauthorizedActor
	}
	if in.DoctorID == uuid.Nil {
		return nil, invalidField("doctor_id", "required")
	}

	tr, err := s.normalizeBookingRange(in)
	if err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatientByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       patient.ID,
		DoctorID:        doctor.ID,
		Range:           tr,
		Status:          StatusScheduled,
		PatientName:     patient.Name,
		DoctorName:      doctor.Name,
		DoctorSpecialty: derefOr(doctor.Specialty, ""),
		AmountDue:       doctor.Fee,
	}
	if in.Notes != "" {
		notes := in.Notes
		appt.Notes = &notes
	}

	created, err := s.cal.Reserve(ctx, appt)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrCalendarBusy) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Ambiguous completion: the insert may or may not have
			// committed. Assume failed, verify, release if held.
			s.reconcileAmbiguousHold(appt.ID)
			return nil, fmt.Errorf("reserve timed out: %w", err)
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	if err := s.repo.AcknowledgeBooking(ctx, created.ID, time.Now().UTC()); err != nil {
		// The reservation is durable; failing to stamp the ack would let
		// the reconciler release a real booking. Undo instead of risking
		// that, and tell the caller to retry.
		if relErr := s.cal.Release(context.WithoutCancel(ctx), created.ID); relErr != nil {
			s.logger.Error("rollback after ack failure",
				zap.String("appointment_id", created.ID.String()),
				zap.Error(relErr))
		}
		return nil, fmt.Errorf("acknowledge booking: %w", err)
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"start_time": created.Range.Start,
		"end_time":   created.Range.End,
		"amount_due": created.AmountDue,
	})

	if patient.Email != nil {
		s.notifyDetached(notify.Message{
			To:      *patient.Email,
			Subject: "Appointment booked",
			Body: fmt.Sprintf("Your appointment with Dr. %s on %s at %s has been booked.",
				created.DoctorName,
				created.Range.Start.Format("2006-01-02"),
				SlotLabel(created.Range.Start)),
		})
	}

	return created, nil
}

// reconcileAmbiguousHold runs detached from the request context: the
// request is already lost, this is cleanup.
func (s *Service) reconcileAmbiguousHold(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			s.logger.Error("verify ambiguous hold", zap.String("appointment_id", id.String()), zap.Error(err))
		}
		return
	}
	if appt.AcknowledgedAt != nil || appt.Status != StatusScheduled {
		return
	}

	if err := s.cal.Release(ctx, id); err != nil {
		s.logger.Error("release ambiguous hold", zap.String("appointment_id", id.String()), zap.Error(err))
		return
	}
	s.logEvent(ctx, id, EventHoldReleased, map[string]any{"reason": "ambiguous_booking"})
	s.logger.Warn("released ambiguous booking hold", zap.String("appointment_id", id.String()))
}

// Cancel transitions scheduled -> cancelled and thereby releases the held
// range. Only the booking patient may cancel.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != RolePatient || actor.ID != appt.PatientID {
		return nil, ErrUnauthorizedActor
	}

	cancelled, err := s.repo.UpdateStatus(ctx, id, StatusScheduled, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row exists but is no longer in scheduled state.
			return nil, ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{
		"by": actor.ID.String(),
	})

	if patient, perr := s.repo.GetPatientByID(ctx, appt.PatientID); perr == nil && patient.Email != nil {
		s.notifyDetached(notify.Message{
			To:      *patient.Email,
			Subject: "Appointment cancelled",
			Body: fmt.Sprintf("Your appointment with Dr. %s on %s at %s has been cancelled.",
				appt.DoctorName,
				appt.Range.Start.Format("2006-01-02"),
				SlotLabel(appt.Range.Start)),
		})
	}

	return cancelled, nil
}

// Complete marks the visit done. Owning doctor or admin only; the calendar
// is untouched, the range simply ages out of relevance.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	isOwnDoctor := actor.Role == RoleDoctor && actor.ID == appt.DoctorID
	if !isOwnDoctor && actor.Role != RoleAdmin {
		return nil, ErrUnauthorizedActor
	}

	completed, err := s.repo.UpdateStatus(ctx, id, StatusScheduled, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentCompleted, map[string]any{
		"by": actor.ID.String(),
	})

	return completed, nil
}

// Reschedule swaps the appointment's range for a new one as a single
// atomic release+reserve. On conflict the original hold stays intact.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	isOwnPatient := actor.Role == RolePatient && actor.ID == appt.PatientID
	if !isOwnPatient && actor.Role != RoleAdmin {
		return nil, ErrUnauthorizedActor
	}
	if appt.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	newRange, err := s.normalizeBookingRange(BookingInput{
		DoctorID: appt.DoctorID,
		Date:     in.Date,
		Time:     in.Time,
		Start:    in.Start,
		End:      in.End,
	})
	if err != nil {
		return nil, err
	}

	moved, err := s.cal.Reschedule(ctx, appt, newRange)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			// Distinguish "new range taken" from "appointment went
			// terminal while we looked": the conditional update reports
			// both as no row.
			current, gerr := s.repo.GetAppointmentByID(ctx, id)
			if gerr == nil && current.Status.Terminal() {
				return nil, ErrAlreadyTerminal
			}
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
		"by":        actor.ID.String(),
		"old_start": appt.Range.Start,
		"new_start": moved.Range.Start,
		"new_end":   moved.Range.End,
	})

	return moved, nil
}

// UpdateNotes lets any participant (or an admin) amend the notes.
func (s *Service) UpdateNotes(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(actor, appt) {
		return nil, ErrUnauthorizedActor
	}
	return s.repo.UpdateNotes(ctx, id, notes)
}

// ConfirmPayment is the billing boundary's entry point; admin only.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, id uuid.UUID, confirmed bool) (*Appointment, error) {
	if actor.Role != RoleAdmin {
		return nil, ErrUnauthorizedActor
	}

	appt, err := s.repo.SetPaymentConfirmed(ctx, id, confirmed)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventPaymentConfirmed, map[string]any{
		"confirmed": confirmed,
	})

	return appt, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(actor, appt) {
		return nil, ErrUnauthorizedActor
	}
	return appt, nil
}

// List is scoped to the caller: patients and doctors see their own
// appointments, admins see everything, ordered by start time.
func (s *Service) List(ctx context.Context, actor Actor, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	switch actor.Role {
	case RolePatient:
		return s.repo.ListByPatient(ctx, actor.ID, limit, offset)
	case RoleDoctor:
		return s.repo.ListByDoctor(ctx, actor.ID, limit, offset)
	case RoleAdmin:
		return s.repo.ListAll(ctx, limit, offset)
	default:
		return nil, ErrUnauthorizedActor
	}
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, id)
}

// DoctorSlots returns the free discrete slot labels for a calendar date.
func (s *Service) DoctorSlots(ctx context.Context, doctorID uuid.UUID, rawDate string) ([]string, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	day, err := ParseSlotDate(rawDate)
	if err != nil {
		return nil, err
	}
	return s.cal.FreeSlots(ctx, doctorID, day)
}

// ReconcileHolds releases scheduled appointments whose booking was never
// acknowledged within the hold TTL. Run periodically by the reconciler.
func (s *Service) ReconcileHolds(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.holdAckTTL)
	stale, err := s.repo.FindUnacknowledged(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find unacknowledged holds: %w", err)
	}

	released := 0
	for _, appt := range stale {
		if err := s.cal.Release(ctx, appt.ID); err != nil {
			s.logger.Error("release stale hold",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		released++
		s.logEvent(ctx, appt.ID, EventHoldReleased, map[string]any{"reason": "reconciler"})
	}

	return released, nil
}

func actorParticipates(actor Actor, appt *Appointment) bool {
	switch actor.Role {
	case RolePatient:
		return actor.ID == appt.PatientID
	case RoleDoctor:
		return actor.ID == appt.DoctorID
	case RoleAdmin:
		return true
	default:
		return false
	}
}

func (s *Service) notifyDetached(msg notify.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("notification failed",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	}()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, routingKey(eventType), data); err != nil {
		s.logger.Warn("publish event",
			zap.String("event", eventType),
			zap.Error(err))
	}
}

func routingKey(eventType string) string {
	switch eventType {
	case EventAppointmentBooked:
		return "appointment.booked"
	case EventAppointmentCancelled:
		return "appointment.cancelled"
	case EventAppointmentCompleted:
		return "appointment.completed"
	case EventAppointmentRescheduled:
		return "appointment.rescheduled"
	case EventPaymentConfirmed:
		return "appointment.payment_confirmed"
	case EventHoldReleased:
		return "appointment.hold_released"
	default:
		return "appointment.unknown"
	}
}

func derefOr(s *string, def string) string {
	if s != nil {
		return *s
	}
	return def
}
