package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/events"
	"github.com/quickcare/hospital-ops-api/internal/notify"
	redisclient "github.com/quickcare/hospital-ops-api/internal/redis"
)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	patient Patient
	doctor  Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()

	email := "pat@example.com"
	patient := Patient{ID: uuid.New(), Name: "Pat Jones", Email: &email}
	repo.AddPatient(patient)

	spec := "Cardiology"
	doctor := Doctor{ID: uuid.New(), Name: "Kim Lee", Specialty: &spec, Available: true, Fee: 120}
	repo.AddDoctor(doctor)

	cal := NewCalendar(repo, redisclient.NewInProcessLocker(), 30*time.Minute, 9, 17)
	svc := NewService(repo, cal, notify.Nop{}, events.Nop{}, zap.NewNop(), 2*time.Minute)

	return &fixture{svc: svc, repo: repo, patient: patient, doctor: doctor}
}

func (f *fixture) patientActor() Actor { return Actor{ID: f.patient.ID, Role: RolePatient} }
func (f *fixture) doctorActor() Actor  { return Actor{ID: f.doctor.ID, Role: RoleDoctor} }

func (f *fixture) book(t *testing.T, date, clock string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.patientActor(), BookingInput{
		DoctorID: f.doctor.ID,
		Date:     date,
		Time:     clock,
	})
	if err != nil {
		t.Fatalf("book %s %s: %v", date, clock, err)
	}
	return appt
}

func TestBook_SlotForm(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "2025-11-12", "10:00")

	if appt.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
	if appt.AmountDue != 120 {
		t.Fatalf("amount due = %v, want doctor fee 120", appt.AmountDue)
	}
	if appt.DoctorName != "Kim Lee" || appt.PatientName != "Pat Jones" {
		t.Fatalf("snapshot fields not populated: %+v", appt)
	}
	want := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	if !appt.Range.Start.Equal(want) || !appt.Range.End.Equal(want.Add(30*time.Minute)) {
		t.Fatalf("range = %s, want [10:00, 10:30)", appt.Range)
	}

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.AcknowledgedAt == nil {
		t.Fatal("booking was not acknowledged")
	}
}

func TestBook_RangeForm(t *testing.T) {
	f := newFixture(t)

	start := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)

	appt, err := f.svc.Book(context.Background(), f.patientActor(), BookingInput{
		DoctorID: f.doctor.ID,
		Start:    &start,
		End:      &end,
	})
	if err != nil {
		t.Fatalf("book range form: %v", err)
	}
	if appt.Range.Duration() != 45*time.Minute {
		t.Fatalf("duration = %s, want 45m", appt.Range.Duration())
	}
}

func TestBook_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []BookingInput{
		{},                                   // nothing at all
		{DoctorID: f.doctor.ID},              // no time info
		{DoctorID: f.doctor.ID, Date: "2025-11-12"},                 // date without time
		{DoctorID: f.doctor.ID, Date: "bogus", Time: "10:00"},       // bad date
		{DoctorID: f.doctor.ID, Date: "2025-11-12", Time: "27:00"},  // bad time
	}

	for i, in := range cases {
		_, err := f.svc.Book(ctx, f.patientActor(), in)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestBook_OverlapConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "2025-11-12", "10:00")

	// Overlapping attempt must yield the conflict outcome.
	_, err := f.svc.Book(ctx, f.patientActor(), BookingInput{
		DoctorID: f.doctor.ID,
		Date:     "2025-11-12",
		Time:     "10:15",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// Adjacent slot must succeed: half-open semantics.
	f.book(t, "2025-11-12", "10:30")
}

func TestBook_IndependentDoctors(t *testing.T) {
	f := newFixture(t)

	other := Doctor{ID: uuid.New(), Name: "Ada Wong", Available: true, Fee: 80}
	f.repo.AddDoctor(other)

	f.book(t, "2025-11-12", "10:00")

	if _, err := f.svc.Book(context.Background(), f.patientActor(), BookingInput{
		DoctorID: other.ID,
		Date:     "2025-11-12",
		Time:     "10:00",
	}); err != nil {
		t.Fatalf("same range on another doctor must succeed: %v", err)
	}
}

func TestBook_DoctorUnavailable(t *testing.T) {
	f := newFixture(t)

	off := Doctor{ID: uuid.New(), Name: "Out Sick", Available: false, Fee: 50}
	f.repo.AddDoctor(off)

	_, err := f.svc.Book(context.Background(), f.patientActor(), BookingInput{
		DoctorID: off.ID,
		Date:     "2025-11-12",
		Time:     "10:00",
	})
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("expected ErrDoctorUnavailable, got %v", err)
	}
}

func TestBook_NonPatientForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.doctorActor(), BookingInput{
		DoctorID: f.doctor.ID,
		Date:     "2025-11-12",
		Time:     "10:00",
	})
	if !errors.Is(err, ErrUnauthorizedActor) {
		t.Fatalf("expected ErrUnauthorizedActor, got %v", err)
	}
}

func TestBook_ConcurrentSameRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 16

	// All contenders need to exist as patients.
	patients := make([]Patient, attempts)
	for i := range patients {
		patients[i] = Patient{ID: uuid.New(), Name: "Contender"}
		f.repo.AddPatient(patients[i])
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(ctx, Actor{ID: patients[i].ID, Role: RolePatient}, BookingInput{
				DoctorID: f.doctor.ID,
				Date:     "2025-11-12",
				Time:     "10:00",
			})
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrCalendarBusy):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Fatalf("exactly one concurrent booking must win, got %d", successes)
	}
	if conflicts != attempts-1 {
		t.Fatalf("losers must observe conflict, got %d of %d", conflicts, attempts-1)
	}
}

func TestCancel_ReleasesRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")

	cancelled, err := f.svc.Cancel(ctx, f.patientActor(), appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// The identical range is bookable again.
	f.book(t, "2025-11-12", "10:00")
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")

	// The doctor on the appointment may not cancel; only the booking
	// patient can.
	if _, err := f.svc.Cancel(ctx, f.doctorActor(), appt.ID); !errors.Is(err, ErrUnauthorizedActor) {
		t.Fatalf("doctor cancel: expected ErrUnauthorizedActor, got %v", err)
	}

	stranger := Actor{ID: uuid.New(), Role: RolePatient}
	if _, err := f.svc.Cancel(ctx, stranger, appt.ID); !errors.Is(err, ErrUnauthorizedActor) {
		t.Fatalf("stranger cancel: expected ErrUnauthorizedActor, got %v", err)
	}
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")
	if _, err := f.svc.Cancel(ctx, f.patientActor(), appt.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, f.patientActor(), appt.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second cancel: expected ErrAlreadyTerminal, got %v", err)
	}

	// No calendar side effect from the failed cancel: the range is free
	// exactly once.
	f.book(t, "2025-11-12", "10:00")
	_, err := f.svc.Book(ctx, f.patientActor(), BookingInput{
		DoctorID: f.doctor.ID, Date: "2025-11-12", Time: "10:00",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected conflict on rebooked slot, got %v", err)
	}
}

func TestComplete_DoctorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")

	if _, err := f.svc.Complete(ctx, f.patientActor(), appt.ID); !errors.Is(err, ErrUnauthorizedActor) {
		t.Fatalf("patient complete: expected ErrUnauthorizedActor, got %v", err)
	}

	done, err := f.svc.Complete(ctx, f.doctorActor(), appt.ID)
	if err != nil {
		t.Fatalf("doctor complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	// Completing again is terminal.
	if _, err := f.svc.Complete(ctx, f.doctorActor(), appt.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestReschedule_MovesRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")

	moved, err := f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleInput{
		Date: "2025-11-12", Time: "11:00",
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	want := time.Date(2025, 11, 12, 11, 0, 0, 0, time.UTC)
	if !moved.Range.Start.Equal(want) {
		t.Fatalf("new start = %s, want 11:00", moved.Range.Start)
	}

	// Old range released by the same atomic step.
	f.book(t, "2025-11-12", "10:00")
}

func TestReschedule_ConflictKeepsOriginalHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")
	f.book(t, "2025-11-12", "11:00") // the blocker

	_, err := f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleInput{
		Date: "2025-11-12", Time: "11:00",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// The original hold must survive: booking 10:00 still conflicts.
	_, err = f.svc.Book(ctx, f.patientActor(), BookingInput{
		DoctorID: f.doctor.ID, Date: "2025-11-12", Time: "10:00",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("original range was lost: %v", err)
	}

	current, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !current.Range.Start.Equal(appt.Range.Start) || current.Status != StatusScheduled {
		t.Fatalf("appointment mutated on failed reschedule: %+v", current)
	}
}

func TestReschedule_Terminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")
	if _, err := f.svc.Cancel(ctx, f.patientActor(), appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleInput{
		Date: "2025-11-12", Time: "12:00",
	})
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestList_RoleScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherPatient := Patient{ID: uuid.New(), Name: "Sam Bo"}
	f.repo.AddPatient(otherPatient)

	f.book(t, "2025-11-12", "10:00")
	if _, err := f.svc.Book(ctx, Actor{ID: otherPatient.ID, Role: RolePatient}, BookingInput{
		DoctorID: f.doctor.ID, Date: "2025-11-12", Time: "11:00",
	}); err != nil {
		t.Fatalf("second booking: %v", err)
	}

	mine, err := f.svc.List(ctx, f.patientActor(), 0, 0)
	if err != nil {
		t.Fatalf("patient list: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("patient sees %d appointments, want 1", len(mine))
	}

	docs, err := f.svc.List(ctx, f.doctorActor(), 0, 0)
	if err != nil {
		t.Fatalf("doctor list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("doctor sees %d appointments, want 2", len(docs))
	}

	all, err := f.svc.List(ctx, Actor{ID: uuid.New(), Role: RoleAdmin}, 0, 0)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d appointments, want 2", len(all))
	}
}

func TestConfirmPayment_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "2025-11-12", "10:00")

	if _, err := f.svc.ConfirmPayment(ctx, f.patientActor(), appt.ID, true); !errors.Is(err, ErrUnauthorizedActor) {
		t.Fatalf("patient confirm: expected ErrUnauthorizedActor, got %v", err)
	}

	updated, err := f.svc.ConfirmPayment(ctx, Actor{ID: uuid.New(), Role: RoleAdmin}, appt.ID, true)
	if err != nil {
		t.Fatalf("admin confirm: %v", err)
	}
	if !updated.PaymentConfirmed {
		t.Fatal("payment_confirmed not set")
	}
}

func TestDoctorSlots_ExcludesBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "2025-11-12", "10:00")

	slots, err := f.svc.DoctorSlots(ctx, f.doctor.ID, "2025-11-12")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}

	// 9-17 workday with a 30m grid gives 16 slots; one is taken.
	if len(slots) != 15 {
		t.Fatalf("got %d free slots, want 15: %v", len(slots), slots)
	}
	for _, s := range slots {
		if s == "10:00" {
			t.Fatal("booked slot still listed as free")
		}
	}
}

func TestReconcileHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A hold whose coordinator vanished: inserted directly, never
	// acknowledged, older than the TTL.
	stale := &Appointment{
		ID:        uuid.New(),
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Range:     mustRange(t, at(10, 0), at(10, 30)),
		Status:    StatusScheduled,
	}
	if _, err := f.repo.InsertScheduledIfFree(ctx, stale); err != nil {
		t.Fatalf("insert stale hold: %v", err)
	}

	// A healthy acknowledged booking must be left alone.
	healthy := f.book(t, "2025-11-12", "11:00")

	// Make the stale row old enough.
	f.repo.mu.Lock()
	a := f.repo.appointments[stale.ID]
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)
	f.repo.appointments[stale.ID] = a
	f.repo.mu.Unlock()

	released, err := f.svc.ReconcileHolds(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if released != 1 {
		t.Fatalf("released %d holds, want 1", released)
	}

	got, _ := f.repo.GetAppointmentByID(ctx, stale.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("stale hold status = %s, want cancelled", got.Status)
	}
	kept, _ := f.repo.GetAppointmentByID(ctx, healthy.ID)
	if kept.Status != StatusScheduled {
		t.Fatalf("healthy booking status = %s, want scheduled", kept.Status)
	}

	// The released range is bookable again.
	f.book(t, "2025-11-12", "10:00")
}
