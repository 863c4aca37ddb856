package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
)

// Service owns the post-booking appointment state machine and reconciles
// every transition back into the capacity ledger.
type Service struct {
	repo        Repository
	ledger      ledger.Ledger
	catalog     catalog.Repository
	horizonDays int
	now         func() time.Time
}

func NewService(repo Repository, led ledger.Ledger, catalogRepo catalog.Repository, horizonDays int) *Service {
	return &Service{
		repo:        repo,
		ledger:      led,
		catalog:     catalogRepo,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	PatientID     uuid.UUID
	VaccineID     string
	DoseNumber    int
	CenterID      string
	Date          string
	TimeRange     string
	ReservationID uuid.UUID
}

// Create persists a freshly committed appointment. The reservation must
// already be held; the booking workflow calls this inside its confirm
// step.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	a := &Appointment{
		ID:            uuid.New(),
		PatientID:     p.PatientID,
		VaccineID:     p.VaccineID,
		DoseNumber:    p.DoseNumber,
		CenterID:      p.CenterID,
		Date:          p.Date,
		TimeRange:     p.TimeRange,
		Status:        StatusUpcoming,
		ReservationID: p.ReservationID,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return a, nil
}

// Cancel moves an upcoming appointment to cancelled and returns its
// capacity and stock units. Cancelling anything else reports
// ErrInvalidTransition without side effects.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusUpcoming {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusUpcoming, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if err := s.ledger.Release(ctx, updated.ReservationID); err != nil && !errors.Is(err, ledger.ErrAlreadyReleased) {
		log.Printf("failed to release reservation %s for cancelled appointment %s: %v",
			updated.ReservationID, updated.ID, err)
	}

	return updated, nil
}

// Complete marks a past appointment as administered and appends the dose
// to the patient's vaccination record. This is the only path by which
// eligibility state advances. The consumed stock stays allocated.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusUpcoming {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusUpcoming, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	administered, err := time.ParseInLocation("2006-01-02", updated.Date, time.UTC)
	if err != nil {
		administered = s.now()
	}

	rec := eligibility.DoseRecord{
		PatientID:        updated.PatientID,
		VaccineID:        updated.VaccineID,
		DoseNumber:       updated.DoseNumber,
		AdministeredDate: administered,
	}
	if err := s.repo.AppendRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("append vaccination record: %w", err)
	}

	return updated, nil
}

// Reschedule moves an upcoming appointment to a new slot. The new slot is
// reserved before anything is touched, so a capacity failure leaves the
// original appointment and its reservation unchanged. On success the
// original is marked rescheduled and a fresh upcoming appointment is
// returned.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newTimeRange string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusUpcoming {
		return nil, ErrInvalidTransition
	}

	// Same horizon the booking workflow enforces when the slot is first
	// picked.
	day, err := time.ParseInLocation("2006-01-02", newDate, time.UTC)
	if err != nil {
		return nil, ErrOutOfHorizon
	}
	offset := daysFrom(s.now(), day)
	if offset < 0 || offset >= s.horizonDays {
		return nil, ErrOutOfHorizon
	}

	newKey := ledger.SlotKey{CenterID: appt.CenterID, Date: newDate, TimeRange: newTimeRange}

	newReservation, err := s.ledger.Reserve(ctx, newKey, appt.VaccineID)
	if errors.Is(err, ledger.ErrSlotContended) {
		newReservation, err = s.ledger.Reserve(ctx, newKey, appt.VaccineID)
	}
	if err != nil {
		return nil, err
	}

	replacement, err := s.Create(ctx, CreateParams{
		PatientID:     appt.PatientID,
		VaccineID:     appt.VaccineID,
		DoseNumber:    appt.DoseNumber,
		CenterID:      appt.CenterID,
		Date:          newDate,
		TimeRange:     newTimeRange,
		ReservationID: newReservation,
	})
	if err != nil {
		s.releaseQuietly(ctx, newReservation)
		return nil, err
	}

	if _, err := s.repo.UpdateStatus(ctx, id, StatusUpcoming, StatusRescheduled); err != nil {
		// The original changed under us; undo the replacement.
		if _, cErr := s.repo.UpdateStatus(ctx, replacement.ID, StatusUpcoming, StatusCancelled); cErr != nil {
			log.Printf("failed to cancel replacement appointment %s: %v", replacement.ID, cErr)
		}
		s.releaseQuietly(ctx, newReservation)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("mark appointment rescheduled: %w", err)
	}

	s.releaseQuietly(ctx, appt.ReservationID)

	return replacement, nil
}

func daysFrom(now, day time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	target := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return int(target.Sub(today).Hours() / 24)
}

func (s *Service) releaseQuietly(ctx context.Context, reservationID uuid.UUID) {
	if err := s.ledger.Release(ctx, reservationID); err != nil && !errors.Is(err, ledger.ErrAlreadyReleased) {
		log.Printf("failed to release reservation %s: %v", reservationID, err)
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// Records returns the patient's vaccination history snapshot used by the
// eligibility engine.
func (s *Service) Records(ctx context.Context, patientID uuid.UUID) ([]eligibility.DoseRecord, error) {
	return s.repo.ListRecords(ctx, patientID)
}

// VaccinationStatus reports doses received per catalog vaccine for the
// dashboard progress view.
func (s *Service) VaccinationStatus(ctx context.Context, patientID uuid.UUID) ([]VaccineStatus, error) {
	vaccines, err := s.catalog.ListVaccines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vaccines: %w", err)
	}

	records, err := s.repo.ListRecords(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	received := make(map[string]int)
	for _, rec := range records {
		received[rec.VaccineID]++
	}

	result := make([]VaccineStatus, 0, len(vaccines))
	for _, v := range vaccines {
		result = append(result, VaccineStatus{
			VaccineID:     v.ID,
			VaccineName:   v.Name,
			TotalDoses:    v.TotalDoses,
			DosesReceived: received[v.ID],
		})
	}

	return result, nil
}
