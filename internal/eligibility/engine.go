package eligibility

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
)

// DoseRecord is one administered dose in a patient's vaccination history.
// Records are append-only; completion of an appointment is the only path
// that creates one.
type DoseRecord struct {
	PatientID        uuid.UUID
	VaccineID        string
	DoseNumber       int
	AdministeredDate time.Time
}

type Reason string

const (
	// ReasonTooSoon: the minimum interval since the last primary dose has
	// not elapsed yet.
	ReasonTooSoon Reason = "too_soon"
	// ReasonNotYetDue: the primary series is complete and the booster
	// interval has not elapsed yet.
	ReasonNotYetDue Reason = "not_yet_due"
	// ReasonAlreadyComplete: the series is complete and the vaccine has no
	// booster.
	ReasonAlreadyComplete Reason = "already_complete"
)

// Decision is the outcome of an eligibility evaluation. When Eligible is
// true, DoseNumber is the next dose in sequence (TotalDoses+n for the n-th
// booster) and Booster marks doses beyond the primary series. When
// Eligible is false, Reason is set and DaysRemaining carries the wait for
// the time-gated reasons.
type Decision struct {
	Eligible      bool
	DoseNumber    int
	Booster       bool
	Reason        Reason
	DaysRemaining int
}

// Engine decides dose sequencing. It is pure: the caller supplies the
// history snapshot and the evaluation date, so the same inputs always
// produce the same decision.
type Engine struct {
	boosterIntervalDays int
}

func NewEngine(boosterIntervalDays int) *Engine {
	return &Engine{boosterIntervalDays: boosterIntervalDays}
}

// NextDose computes the next permissible dose of vaccine for the patient
// history in record. Records for other vaccines are ignored.
func (e *Engine) NextDose(record []DoseRecord, vaccine catalog.Vaccine, today time.Time) Decision {
	highest := 0
	var lastDose time.Time

	for _, r := range record {
		if r.VaccineID != vaccine.ID {
			continue
		}
		if r.DoseNumber > highest {
			highest = r.DoseNumber
		}
		if r.AdministeredDate.After(lastDose) {
			lastDose = r.AdministeredDate
		}
	}

	if highest == 0 {
		return Decision{Eligible: true, DoseNumber: 1}
	}

	elapsed := daysBetween(lastDose, today)

	if highest < vaccine.TotalDoses {
		if elapsed < vaccine.MinIntervalDays {
			return Decision{
				Reason:        ReasonTooSoon,
				DaysRemaining: vaccine.MinIntervalDays - elapsed,
			}
		}
		return Decision{Eligible: true, DoseNumber: highest + 1}
	}

	if !vaccine.BoosterEligible {
		return Decision{Reason: ReasonAlreadyComplete}
	}

	if elapsed < e.boosterIntervalDays {
		return Decision{
			Reason:        ReasonNotYetDue,
			DaysRemaining: e.boosterIntervalDays - elapsed,
		}
	}

	return Decision{Eligible: true, DoseNumber: highest + 1, Booster: true}
}

// daysBetween counts whole calendar days from a to b in UTC.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
