package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memorySlot struct {
	capacity int
	reserved int
}

type memoryStock struct {
	total     int
	allocated int
}

type memoryReservation struct {
	key       SlotKey
	vaccineID string
	released  bool
}

// MemoryLedger implements Ledger with in-process state. One mutex guards
// all mutations, which trivially satisfies the per-SlotKey atomicity the
// contract requires. Used by unit tests and local tooling.
type MemoryLedger struct {
	mu           sync.Mutex
	slots        map[SlotKey]*memorySlot
	stock        map[string]*memoryStock // centerID|vaccineID
	reservations map[uuid.UUID]*memoryReservation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		slots:        make(map[SlotKey]*memorySlot),
		stock:        make(map[string]*memoryStock),
		reservations: make(map[uuid.UUID]*memoryReservation),
	}
}

func stockKey(centerID, vaccineID string) string {
	return centerID + "|" + vaccineID
}

func (l *MemoryLedger) Reserve(_ context.Context, key SlotKey, vaccineID string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		return uuid.Nil, ErrUnknownSlot
	}
	if slot.reserved >= slot.capacity {
		return uuid.Nil, ErrSlotFull
	}

	stock, ok := l.stock[stockKey(key.CenterID, vaccineID)]
	if !ok || stock.allocated >= stock.total {
		return uuid.Nil, ErrStockExhausted
	}

	slot.reserved++
	stock.allocated++

	id := uuid.New()
	l.reservations[id] = &memoryReservation{key: key, vaccineID: vaccineID}
	return id, nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok || res.released {
		return ErrAlreadyReleased
	}
	res.released = true

	if slot, ok := l.slots[res.key]; ok && slot.reserved > 0 {
		slot.reserved--
	}
	if stock, ok := l.stock[stockKey(res.key.CenterID, res.vaccineID)]; ok && stock.allocated > 0 {
		stock.allocated--
	}
	return nil
}

func (l *MemoryLedger) Availability(_ context.Context, key SlotKey, vaccineID string) (*Availability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		return nil, ErrUnknownSlot
	}

	remaining := 0
	if stock, ok := l.stock[stockKey(key.CenterID, vaccineID)]; ok {
		remaining = stock.total - stock.allocated
	}

	return &Availability{
		Capacity:       slot.capacity,
		Reserved:       slot.reserved,
		StockRemaining: remaining,
	}, nil
}

func (l *MemoryLedger) ListSlots(_ context.Context, centerID, date string) ([]Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []Slot
	for key, slot := range l.slots {
		if key.CenterID == centerID && key.Date == date {
			result = append(result, Slot{Key: key, Capacity: slot.capacity, Reserved: slot.reserved})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.TimeRange < result[j].Key.TimeRange
	})

	return result, nil
}

func (l *MemoryLedger) SetSlotCapacity(_ context.Context, key SlotKey, capacity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		l.slots[key] = &memorySlot{capacity: capacity}
		return nil
	}
	if slot.reserved > capacity {
		return ErrWouldUnderflow
	}
	slot.capacity = capacity
	return nil
}

func (l *MemoryLedger) SetStockTotal(_ context.Context, centerID, vaccineID string, totalUnits int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := stockKey(centerID, vaccineID)
	stock, ok := l.stock[key]
	if !ok {
		l.stock[key] = &memoryStock{total: totalUnits}
		return nil
	}
	if stock.allocated > totalUnits {
		return ErrWouldUnderflow
	}
	stock.total = totalUnits
	return nil
}
