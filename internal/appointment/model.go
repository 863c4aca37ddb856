package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
)

type Status string

const (
	StatusUpcoming    Status = "upcoming"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Appointment is a committed booking. It references its capacity ledger
// reservation and is mutated only through the lifecycle service.
type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	VaccineID     string
	DoseNumber    int
	CenterID      string
	Date          string // ISO "2006-01-02"
	TimeRange     string // "09:00-09:30"
	Status        Status
	ReservationID uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Appointment) SlotKey() ledger.SlotKey {
	return ledger.SlotKey{
		CenterID:  a.CenterID,
		Date:      a.Date,
		TimeRange: a.TimeRange,
	}
}

// VaccineStatus summarizes a patient's progress through one vaccine's
// series, for the dashboard view.
type VaccineStatus struct {
	VaccineID     string
	VaccineName   string
	TotalDoses    int
	DosesReceived int
}
