package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
)

// stalledLedger parks Reserve until released, standing in for a slow
// slot lock plus database transaction during Confirm.
type stalledLedger struct {
	ledger.Ledger
	entered chan struct{}
	release chan struct{}
}

func (l *stalledLedger) Reserve(ctx context.Context, key ledger.SlotKey, vaccineID string) (uuid.UUID, error) {
	close(l.entered)
	<-l.release
	return l.Ledger.Reserve(ctx, key, vaccineID)
}

func TestConfirm_DoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()

	mem := ledger.NewMemoryLedger()
	key := ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}
	require.NoError(t, mem.SetSlotCapacity(ctx, key, 2))
	require.NoError(t, mem.SetStockTotal(ctx, "C1", "covid19", 10))

	led := &stalledLedger{
		Ledger:  mem,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, led)

	id := f.atConfirm(t)

	confirmed := make(chan error, 1)
	go func() {
		_, err := f.booking.Confirm(ctx, id)
		confirmed <- err
	}()
	<-led.entered

	// With the confirm parked inside the ledger, a different patient's
	// session must still be able to start and step.
	done := make(chan struct{})
	go func() {
		defer close(done)
		wf, err := f.booking.Start(ctx, uuid.New(), 19.01, 72.85)
		assert.NoError(t, err)
		_, err = f.booking.SelectVaccine(ctx, wf.ID, "covid19")
		assert.NoError(t, err)
		_, err = f.booking.Get(wf.ID)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated session stuck behind an in-flight confirm")
	}

	close(led.release)
	require.NoError(t, <-confirmed)
}

func TestUpdate_SameWorkflowSerialized(t *testing.T) {
	store := NewStore()
	wf := &Workflow{ID: uuid.New(), State: StateChooseVaccine}
	store.Put(wf)

	const writers = 20
	done := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := store.Update(wf.ID, func(w *Workflow) error {
				w.DoseNumber++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < writers; i++ {
		<-done
	}

	got, err := store.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.DoseNumber)
}
