package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local
// experiments. Its conditional writes hold the same contract as the
// Postgres ones: the overlap check and the commit happen under one lock,
// so concurrency properties can be exercised without a database.
type MemoryRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.patients[p.ID] = p
}

func (m *MemoryRepository) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.doctors[d.ID] = d
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) hasOverlapLocked(doctorID uuid.UUID, tr TimeRange, exclude uuid.UUID) bool {
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && a.ID != exclude && a.Range.Overlaps(tr) {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) HasOverlappingScheduled(_ context.Context, doctorID uuid.UUID, tr TimeRange, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasOverlapLocked(doctorID, tr, exclude), nil
}

func (m *MemoryRepository) ListScheduledInWindow(_ context.Context, doctorID uuid.UUID, window TimeRange) ([]TimeRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimeRange
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && a.Range.Overlaps(window) {
			out = append(out, a.Range)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryRepository) InsertScheduledIfFree(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasOverlapLocked(appt.DoctorID, appt.Range, uuid.Nil) {
		return nil, ErrRangeConflict
	}

	now := time.Now().UTC()
	stored := *appt
	stored.Status = StatusScheduled
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.appointments[stored.ID] = stored

	out := stored
	return &out, nil
}

func (m *MemoryRepository) RescheduleIfFree(_ context.Context, id uuid.UUID, newRange TimeRange) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrRangeConflict
	}
	if m.hasOverlapLocked(a.DoctorID, newRange, id) {
		return nil, ErrRangeConflict
	}

	a.Range = newRange
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a

	out := a
	return &out, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := a
	return &out, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a

	out := a
	return &out, nil
}

func (m *MemoryRepository) UpdateNotes(_ context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	a.Notes = &notes
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a

	out := a
	return &out, nil
}

func (m *MemoryRepository) SetPaymentConfirmed(_ context.Context, id uuid.UUID, confirmed bool) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	a.PaymentConfirmed = confirmed
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a

	out := a
	return &out, nil
}

func (m *MemoryRepository) AcknowledgeBooking(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.AcknowledgedAt != nil {
		return nil
	}

	a.AcknowledgedAt = &at
	m.appointments[id] = a
	return nil
}

func (m *MemoryRepository) listFiltered(match func(Appointment) bool, limit, offset int) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Range.Start.Before(out[j].Range.Start) })

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listFiltered(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (m *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listFiltered(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (m *MemoryRepository) ListAll(_ context.Context, limit, offset int) ([]Appointment, error) {
	return m.listFiltered(func(Appointment) bool { return true }, limit, offset), nil
}

func (m *MemoryRepository) FindUnacknowledged(_ context.Context, olderThan time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && a.AcknowledgedAt == nil && a.CreatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}
