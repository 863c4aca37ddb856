package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

const dateLayout = "2006-01-02"

// Service drives booking workflows. Every step before Confirm is local to
// the workflow; Confirm is the single point that touches the capacity
// ledger.
type Service struct {
	store        *Store
	catalog      catalog.Repository
	ledger       ledger.Ledger
	matcher      *matcher.Matcher
	engine       *eligibility.Engine
	appointments *appointment.Service
	horizonDays  int
	now          func() time.Time
}

func NewService(
	catalogRepo catalog.Repository,
	led ledger.Ledger,
	m *matcher.Matcher,
	engine *eligibility.Engine,
	appointments *appointment.Service,
	horizonDays int,
) *Service {
	return &Service{
		store:        NewStore(),
		catalog:      catalogRepo,
		ledger:       led,
		matcher:      m,
		engine:       engine,
		appointments: appointments,
		horizonDays:  horizonDays,
		now:          time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start opens a workflow for one patient session at the given location.
func (s *Service) Start(_ context.Context, patientID uuid.UUID, lat, lng float64) (*Workflow, error) {
	if patientID == uuid.Nil {
		return nil, &GuardError{State: StateChooseVaccine, Reason: ReasonMissingSelection, Detail: "patient id required"}
	}

	now := s.now()
	wf := &Workflow{
		ID:           uuid.New(),
		PatientID:    patientID,
		Latitude:     lat,
		Longitude:    lng,
		State:        StateChooseVaccine,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.store.Put(wf)

	cp := *wf
	return &cp, nil
}

func (s *Service) Get(id uuid.UUID) (*Workflow, error) {
	return s.store.Get(id)
}

// SelectVaccine resolves the next eligible dose for the chosen vaccine and
// advances to center choice.
func (s *Service) SelectVaccine(ctx context.Context, id uuid.UUID, vaccineID string) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		if wf.State != StateChooseVaccine {
			return ErrInvalidState
		}
		wf.LastActivity = s.now()

		if vaccineID == "" {
			return &GuardError{State: wf.State, Reason: ReasonMissingSelection, Detail: "vaccine required"}
		}

		vaccine, err := s.catalog.GetVaccine(ctx, vaccineID)
		if err != nil {
			if errors.Is(err, catalog.ErrVaccineNotFound) {
				return &GuardError{State: wf.State, Reason: ReasonMissingSelection, Detail: "unknown vaccine"}
			}
			return fmt.Errorf("load vaccine: %w", err)
		}

		decision, err := s.evaluate(ctx, wf.PatientID, *vaccine)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return &GuardError{State: wf.State, Reason: ReasonIneligible, Detail: ineligibleDetail(decision)}
		}

		wf.VaccineID = vaccine.ID
		wf.DoseNumber = decision.DoseNumber
		wf.Booster = decision.Booster
		wf.State = StateChooseCenter
		return nil
	})
}

// SelectCenter validates the center against the current matcher result so
// stale or stock-exhausted centers are rejected, then advances.
func (s *Service) SelectCenter(ctx context.Context, id uuid.UUID, centerID string) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		if wf.State != StateChooseCenter {
			return ErrInvalidState
		}
		wf.LastActivity = s.now()

		if centerID == "" {
			return &GuardError{State: wf.State, Reason: ReasonMissingSelection, Detail: "center required"}
		}

		ranked, err := s.matcher.Find(ctx, matcher.Query{
			VaccineID: wf.VaccineID,
			Latitude:  wf.Latitude,
			Longitude: wf.Longitude,
		})
		if err != nil {
			return fmt.Errorf("match centers: %w", err)
		}

		found := false
		for _, rc := range ranked {
			if rc.ID == centerID {
				found = true
				break
			}
		}
		if !found {
			return &GuardError{State: wf.State, Reason: ReasonUnknownCenter, Detail: "center not in current results"}
		}

		wf.CenterID = centerID
		wf.State = StateChooseSlot
		return nil
	})
}

// SelectSlot checks the booking horizon and that the slot is one the
// center actually publishes for the date, then advances to confirmation.
func (s *Service) SelectSlot(ctx context.Context, id uuid.UUID, date, timeRange string) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		if wf.State != StateChooseSlot {
			return ErrInvalidState
		}
		wf.LastActivity = s.now()

		if date == "" || timeRange == "" {
			return &GuardError{State: wf.State, Reason: ReasonMissingSelection, Detail: "date and time slot required"}
		}

		day, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return &GuardError{State: wf.State, Reason: ReasonMissingSelection, Detail: "invalid date"}
		}

		offset := daysFrom(s.now(), day)
		if offset < 0 || offset >= s.horizonDays {
			return &GuardError{
				State:  wf.State,
				Reason: ReasonOutOfHorizon,
				Detail: fmt.Sprintf("date must be within the next %d days", s.horizonDays),
			}
		}

		slots, err := s.ledger.ListSlots(ctx, wf.CenterID, date)
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		published := false
		for _, slot := range slots {
			if slot.Key.TimeRange == timeRange {
				published = true
				break
			}
		}
		if !published {
			return &GuardError{State: wf.State, Reason: ReasonSlotUnavailable, Detail: "slot not published for this date"}
		}

		wf.Date = date
		wf.TimeRange = timeRange
		wf.State = StateConfirm
		return nil
	})
}

// Confirm is the commit point. It re-validates eligibility against the
// live record, reserves capacity and stock, and creates the appointment.
// Losing the slot lock race is retried once; any validation failure moves
// the workflow back to the failing step with a typed reason.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		if wf.State != StateConfirm {
			return ErrInvalidState
		}
		wf.LastActivity = s.now()

		vaccine, err := s.catalog.GetVaccine(ctx, wf.VaccineID)
		if err != nil {
			return fmt.Errorf("load vaccine: %w", err)
		}

		decision, err := s.evaluate(ctx, wf.PatientID, *vaccine)
		if err != nil {
			return err
		}
		if !decision.Eligible || decision.DoseNumber != wf.DoseNumber {
			// The record advanced since step 1; send the user back to the
			// vaccine step to re-resolve the dose.
			wf.State = StateChooseVaccine
			return &GuardError{State: StateChooseVaccine, Reason: ReasonIneligible, Detail: "eligibility changed since selection"}
		}

		key := ledger.SlotKey{CenterID: wf.CenterID, Date: wf.Date, TimeRange: wf.TimeRange}

		reservationID, err := s.ledger.Reserve(ctx, key, wf.VaccineID)
		if errors.Is(err, ledger.ErrSlotContended) {
			reservationID, err = s.ledger.Reserve(ctx, key, wf.VaccineID)
		}
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrSlotFull),
				errors.Is(err, ledger.ErrStockExhausted),
				errors.Is(err, ledger.ErrUnknownSlot),
				errors.Is(err, ledger.ErrSlotContended):
				wf.State = StateChooseSlot
				return &GuardError{State: StateChooseSlot, Reason: ReasonSlotUnavailable, Detail: err.Error()}
			default:
				return fmt.Errorf("reserve slot: %w", err)
			}
		}

		appt, err := s.appointments.Create(ctx, appointment.CreateParams{
			PatientID:     wf.PatientID,
			VaccineID:     wf.VaccineID,
			DoseNumber:    wf.DoseNumber,
			CenterID:      wf.CenterID,
			Date:          wf.Date,
			TimeRange:     wf.TimeRange,
			ReservationID: reservationID,
		})
		if err != nil {
			if rErr := s.ledger.Release(ctx, reservationID); rErr != nil && !errors.Is(rErr, ledger.ErrAlreadyReleased) {
				log.Printf("failed to release reservation %s after create failure: %v", reservationID, rErr)
			}
			return err
		}

		wf.Appointment = appt
		wf.State = StateCommitted
		return nil
	})
}

// Previous steps the workflow back one screen. Never touches the ledger.
func (s *Service) Previous(_ context.Context, id uuid.UUID) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		prev := wf.State.previous()
		if prev == "" {
			return ErrInvalidState
		}
		wf.LastActivity = s.now()
		wf.State = prev
		return nil
	})
}

// Abandon terminates a workflow. Nothing is reserved before Confirm, so
// there is nothing to clean up in the ledger.
func (s *Service) Abandon(_ context.Context, id uuid.UUID) (*Workflow, error) {
	return s.store.Update(id, func(wf *Workflow) error {
		if wf.State.Terminal() {
			return ErrInvalidState
		}
		wf.State = StateAbandoned
		return nil
	})
}

// SweepStale abandons workflows idle past ttl and reports how many.
func (s *Service) SweepStale(ttl time.Duration) int {
	swept := s.store.SweepStale(ttl, s.now())
	if len(swept) > 0 {
		log.Printf("abandoned %d stale booking workflows", len(swept))
	}
	return len(swept)
}

func (s *Service) evaluate(ctx context.Context, patientID uuid.UUID, vaccine catalog.Vaccine) (eligibility.Decision, error) {
	records, err := s.appointments.Records(ctx, patientID)
	if err != nil {
		return eligibility.Decision{}, fmt.Errorf("load vaccination records: %w", err)
	}
	return s.engine.NextDose(records, vaccine, s.now()), nil
}

func ineligibleDetail(d eligibility.Decision) string {
	switch d.Reason {
	case eligibility.ReasonTooSoon:
		return fmt.Sprintf("next dose due in %d days", d.DaysRemaining)
	case eligibility.ReasonNotYetDue:
		return fmt.Sprintf("booster due in %d days", d.DaysRemaining)
	case eligibility.ReasonAlreadyComplete:
		return "vaccination series already complete"
	default:
		return string(d.Reason)
	}
}

// daysFrom counts whole calendar days from now's date to day.
func daysFrom(now, day time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	target := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return int(target.Sub(today).Hours() / 24)
}
