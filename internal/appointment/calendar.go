package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/quickcare/hospital-ops-api/internal/redis"
)

var (
	// ErrSlotConflict is the calendar's expected contention outcome: the
	// requested range overlaps a scheduled appointment. Clients retry with
	// a different time; nothing is broken.
	ErrSlotConflict = errors.New("requested time range is already booked")

	// ErrCalendarBusy means the doctor lock could not be acquired; another
	// booking for the same doctor is mid-flight.
	ErrCalendarBusy = errors.New("doctor calendar is busy, please retry")
)

// Calendar is the per-doctor reservation view. It is derived from the
// scheduled appointments in storage, not kept as a separate structure, so
// releasing a range is just the status transition that removes the row
// from the view.
//
// Reserve and Reschedule serialize per doctor through the distributed lock
// and additionally rely on the repository's conditional writes, so the
// no-overlap invariant holds even if two processes race past the lock.
type Calendar struct {
	repo   Repository
	locker redisclient.Locker

	slotDuration time.Duration
	workdayStart int
	workdayEnd   int
}

func NewCalendar(repo Repository, locker redisclient.Locker, slotDuration time.Duration, workdayStart, workdayEnd int) *Calendar {
	return &Calendar{
		repo:         repo,
		locker:       locker,
		slotDuration: slotDuration,
		workdayStart: workdayStart,
		workdayEnd:   workdayEnd,
	}
}

func (c *Calendar) SlotDuration() time.Duration {
	return c.slotDuration
}

// IsAvailable reports whether no scheduled appointment for the doctor
// overlaps the range. Advisory only: Reserve re-checks atomically.
func (c *Calendar) IsAvailable(ctx context.Context, doctorID uuid.UUID, tr TimeRange) (bool, error) {
	taken, err := c.repo.HasOverlappingScheduled(ctx, doctorID, tr, uuid.Nil)
	if err != nil {
		return false, fmt.Errorf("availability check: %w", err)
	}
	return !taken, nil
}

// Reserve commits the appointment in scheduled state iff the doctor is
// free for its range. The check and the commit are one storage operation;
// the lock only narrows the window in which contending requests burn a
// round trip to lose the conditional write.
func (c *Calendar) Reserve(ctx context.Context, appt *Appointment) (*Appointment, error) {
	var created *Appointment

	err := c.locker.WithDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		inserted, err := c.repo.InsertScheduledIfFree(lockCtx, appt)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		if errors.Is(err, ErrRangeConflict) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	return created, nil
}

// Reschedule atomically releases the old range and reserves the new one.
// On conflict with a different appointment the row is untouched, so the
// original hold survives.
func (c *Calendar) Reschedule(ctx context.Context, appt *Appointment, newRange TimeRange) (*Appointment, error) {
	var updated *Appointment

	err := c.locker.WithDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		moved, err := c.repo.RescheduleIfFree(lockCtx, appt.ID, newRange)
		if err != nil {
			return err
		}
		updated = moved
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrCalendarBusy
		}
		if errors.Is(err, ErrRangeConflict) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	return updated, nil
}

// Release removes an appointment's range from the reservation view by
// cancelling it. Idempotent: releasing an appointment that is already
// terminal (or missing) is a no-op.
func (c *Calendar) Release(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := c.repo.UpdateStatus(ctx, appointmentID, StatusScheduled, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// FreeSlots renders the legacy discrete-slot view of a day: the 24-hour
// labels of every grid slot inside working hours not overlapped by a
// scheduled appointment. day must be midnight UTC of the calendar date.
func (c *Calendar) FreeSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]string, error) {
	window := TimeRange{
		Start: day.Add(time.Duration(c.workdayStart) * time.Hour),
		End:   day.Add(time.Duration(c.workdayEnd) * time.Hour),
	}

	booked, err := c.repo.ListScheduledInWindow(ctx, doctorID, window)
	if err != nil {
		return nil, fmt.Errorf("list booked ranges: %w", err)
	}

	slots := make([]string, 0)
	for start := window.Start; !start.Add(c.slotDuration).After(window.End); start = start.Add(c.slotDuration) {
		candidate := TimeRange{Start: start, End: start.Add(c.slotDuration)}
		free := true
		for _, b := range booked {
			if candidate.Overlaps(b) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, SlotLabel(start))
		}
	}

	return slots, nil
}
