package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSlotFull        = errors.New("slot capacity exhausted")
	ErrStockExhausted  = errors.New("vaccine stock exhausted at center")
	ErrUnknownSlot     = errors.New("unknown slot")
	ErrAlreadyReleased = errors.New("reservation already released")
	ErrWouldUnderflow  = errors.New("new limit is below current usage")
	// ErrSlotContended: lost the per-slot lock to a concurrent caller.
	// Callers retry once before surfacing a capacity failure.
	ErrSlotContended = errors.New("slot is being reserved concurrently, retry")
)

// SlotKey identifies the unit of reservation: one time range at one center
// on one date. Date is ISO "2006-01-02", TimeRange "09:00-09:30".
type SlotKey struct {
	CenterID  string
	Date      string
	TimeRange string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.CenterID, k.Date, k.TimeRange)
}

// Slot is a published slot with its current usage.
type Slot struct {
	Key      SlotKey
	Capacity int
	Reserved int
}

func (s Slot) Remaining() int {
	return s.Capacity - s.Reserved
}

// Availability is a point-in-time read of one slot/vaccine pair.
type Availability struct {
	Capacity       int
	Reserved       int
	StockRemaining int
}

// Ledger is the only component allowed to mutate slot and stock usage.
// Reserve and Release are atomic with respect to concurrent callers
// targeting the same SlotKey: reserved counts never exceed capacity and
// allocated stock never exceeds totals, regardless of interleaving.
type Ledger interface {
	// Reserve takes one unit of slot capacity and one unit of center stock
	// for the vaccine, returning a reservation id.
	Reserve(ctx context.Context, key SlotKey, vaccineID string) (uuid.UUID, error)

	// Release returns the reservation's capacity and stock units. Releasing
	// an unknown or already-released reservation is a no-op reported as
	// ErrAlreadyReleased.
	Release(ctx context.Context, reservationID uuid.UUID) error

	Availability(ctx context.Context, key SlotKey, vaccineID string) (*Availability, error)

	// ListSlots returns the published slots for a center on a date, ordered
	// by time range.
	ListSlots(ctx context.Context, centerID, date string) ([]Slot, error)

	// SetSlotCapacity publishes a slot or changes its capacity. Reducing
	// capacity below the current reserved count fails with
	// ErrWouldUnderflow.
	SetSlotCapacity(ctx context.Context, key SlotKey, capacity int) error

	// SetStockTotal sets a center's total units for a vaccine. Reducing the
	// total below currently allocated units fails with ErrWouldUnderflow.
	SetStockTotal(ctx context.Context, centerID, vaccineID string, totalUnits int) error
}
