package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid appointment status transition")
	ErrOutOfHorizon        = errors.New("slot date outside the booking horizon")
)

// Repository contains all DB interactions needed by the lifecycle service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus is a compare-and-set: it only transitions when the
	// current status equals from, otherwise ErrAppointmentNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// Vaccination history, append-only.
	AppendRecord(ctx context.Context, rec eligibility.DoseRecord) error
	ListRecords(ctx context.Context, patientID uuid.UUID) ([]eligibility.DoseRecord, error)
}
