package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/quickcare/hospital-ops-api/internal/redis"
)

type heldLocker struct{}

func (heldLocker) WithDoctorLock(context.Context, uuid.UUID, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestCalendar(repo Repository) *Calendar {
	return NewCalendar(repo, redisclient.NewInProcessLocker(), 30*time.Minute, 9, 17)
}

func seededRepo(t *testing.T) (*MemoryRepository, Doctor) {
	t.Helper()
	repo := NewMemoryRepository()
	doctor := Doctor{ID: uuid.New(), Name: "Kim Lee", Available: true}
	repo.AddDoctor(doctor)
	return repo, doctor
}

func scheduled(doctorID uuid.UUID, tr TimeRange) *Appointment {
	return &Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		Range:     tr,
		Status:    StatusScheduled,
	}
}

func TestCalendar_ReserveConflict(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := newTestCalendar(repo)
	ctx := context.Background()

	first := scheduled(doctor.ID, mustRange(t, at(10, 0), at(10, 30)))
	if _, err := cal.Reserve(ctx, first); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	overlap := scheduled(doctor.ID, mustRange(t, at(10, 15), at(10, 45)))
	if _, err := cal.Reserve(ctx, overlap); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	adjacent := scheduled(doctor.ID, mustRange(t, at(10, 30), at(11, 0)))
	if _, err := cal.Reserve(ctx, adjacent); err != nil {
		t.Fatalf("adjacent reserve: %v", err)
	}
}

func TestCalendar_BusyWhenLockHeld(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := NewCalendar(repo, heldLocker{}, 30*time.Minute, 9, 17)

	appt := scheduled(doctor.ID, mustRange(t, at(10, 0), at(10, 30)))
	if _, err := cal.Reserve(context.Background(), appt); !errors.Is(err, ErrCalendarBusy) {
		t.Fatalf("expected ErrCalendarBusy, got %v", err)
	}
}

func TestCalendar_IsAvailable(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := newTestCalendar(repo)
	ctx := context.Background()

	tr := mustRange(t, at(10, 0), at(10, 30))

	free, err := cal.IsAvailable(ctx, doctor.ID, tr)
	if err != nil || !free {
		t.Fatalf("empty calendar: free=%v err=%v", free, err)
	}

	if _, err := cal.Reserve(ctx, scheduled(doctor.ID, tr)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	free, err = cal.IsAvailable(ctx, doctor.ID, mustRange(t, at(10, 15), at(10, 45)))
	if err != nil || free {
		t.Fatalf("booked calendar: free=%v err=%v", free, err)
	}
}

func TestCalendar_ReleaseIdempotent(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := newTestCalendar(repo)
	ctx := context.Background()

	appt := scheduled(doctor.ID, mustRange(t, at(10, 0), at(10, 30)))
	if _, err := cal.Reserve(ctx, appt); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := cal.Release(ctx, appt.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := cal.Release(ctx, appt.ID); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	if err := cal.Release(ctx, uuid.New()); err != nil {
		t.Fatalf("releasing an unknown id must be a no-op: %v", err)
	}

	got, err := repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestCalendar_FreeSlotsFullDay(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := newTestCalendar(repo)

	day := time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC)
	slots, err := cal.FreeSlots(context.Background(), doctor.ID, day)
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}

	// 9:00 through 16:30 on a 30 minute grid.
	if len(slots) != 16 {
		t.Fatalf("got %d slots, want 16: %v", len(slots), slots)
	}
	if slots[0] != "09:00" || slots[len(slots)-1] != "16:30" {
		t.Fatalf("grid edges wrong: first=%s last=%s", slots[0], slots[len(slots)-1])
	}
}

func TestCalendar_FreeSlotsExcludesOverlapped(t *testing.T) {
	repo, doctor := seededRepo(t)
	cal := newTestCalendar(repo)
	ctx := context.Background()

	// An off-grid booking shadows both grid slots it touches.
	appt := scheduled(doctor.ID, mustRange(t, at(10, 15), at(10, 45)))
	if _, err := cal.Reserve(ctx, appt); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	day := time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC)
	slots, err := cal.FreeSlots(ctx, doctor.ID, day)
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}

	if len(slots) != 14 {
		t.Fatalf("got %d slots, want 14: %v", len(slots), slots)
	}
	for _, s := range slots {
		if s == "10:00" || s == "10:30" {
			t.Fatalf("shadowed slot %s listed as free", s)
		}
	}
}
