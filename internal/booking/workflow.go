package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
)

// State is the named position of a booking workflow. The wizard walks
// ChooseVaccine -> ChooseCenter -> ChooseSlot -> Confirm -> Committed;
// Abandoned is the other terminal.
type State string

const (
	StateChooseVaccine State = "choose_vaccine"
	StateChooseCenter  State = "choose_center"
	StateChooseSlot    State = "choose_slot"
	StateConfirm       State = "confirm"
	StateCommitted     State = "committed"
	StateAbandoned     State = "abandoned"
)

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAbandoned
}

// previous returns the step before s in the wizard, or "" when none.
func (s State) previous() State {
	switch s {
	case StateChooseCenter:
		return StateChooseVaccine
	case StateChooseSlot:
		return StateChooseCenter
	case StateConfirm:
		return StateChooseSlot
	default:
		return ""
	}
}

type GuardReason string

const (
	ReasonMissingSelection GuardReason = "missing_selection"
	ReasonSlotUnavailable  GuardReason = "slot_unavailable"
	ReasonIneligible       GuardReason = "ineligible"
	ReasonOutOfHorizon     GuardReason = "out_of_horizon"
	ReasonUnknownCenter    GuardReason = "unknown_center"
)

// GuardError is a failed transition guard. State is where the workflow
// stays (or returns to) so the caller can redisplay that exact step.
type GuardError struct {
	State  State
	Reason GuardReason
	Detail string
}

func (e *GuardError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("booking guard failed at %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("booking guard failed at %s: %s (%s)", e.State, e.Reason, e.Detail)
}

var (
	ErrWorkflowNotFound = errors.New("booking workflow not found")
	// ErrInvalidState: the requested operation does not apply to the
	// workflow's current state. Caller misuse, not a guard failure.
	ErrInvalidState = errors.New("operation not valid in current workflow state")
)

// Workflow is one user's in-flight booking. It is session-scoped and holds
// no shared state; nothing touches the capacity ledger until Confirm.
type Workflow struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Latitude  float64
	Longitude float64

	State State

	VaccineID  string
	DoseNumber int
	Booster    bool
	CenterID   string
	Date       string
	TimeRange  string

	// Set once State is StateCommitted.
	Appointment *appointment.Appointment

	CreatedAt    time.Time
	LastActivity time.Time
}
