package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
)

// MemoryRepository backs the lifecycle service in tests.
type MemoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	records      map[uuid.UUID][]eligibility.DoseRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		records:      make(map[uuid.UUID][]eligibility.DoseRecord),
	}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.appointments[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].TimeRange < result[j].TimeRange
	})
	return result, nil
}

func (r *MemoryRepository) AppendRecord(_ context.Context, rec eligibility.DoseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.PatientID] = append(r.records[rec.PatientID], rec)
	return nil
}

func (r *MemoryRepository) ListRecords(_ context.Context, patientID uuid.UUID) ([]eligibility.DoseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eligibility.DoseRecord(nil), r.records[patientID]...), nil
}
