package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

var fixedNow = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

const slotDate = "2026-09-05"

type fixture struct {
	booking      *Service
	appointments *appointment.Service
	apptRepo     *appointment.MemoryRepository
	catalog      *catalog.MemoryRepository
	ledger       ledger.Ledger
}

// flakyLedger loses the slot lock a configured number of times before
// delegating.
type flakyLedger struct {
	ledger.Ledger
	contentions int
}

func (l *flakyLedger) Reserve(ctx context.Context, key ledger.SlotKey, vaccineID string) (uuid.UUID, error) {
	if l.contentions > 0 {
		l.contentions--
		return uuid.Nil, ledger.ErrSlotContended
	}
	return l.Ledger.Reserve(ctx, key, vaccineID)
}

func newFixture(t *testing.T, led ledger.Ledger) *fixture {
	t.Helper()

	repo := catalog.NewMemoryRepository()
	repo.AddVaccine(catalog.Vaccine{
		ID: "covid19", Name: "COVID-19 Vaccine",
		TotalDoses: 2, MinIntervalDays: 21, BoosterEligible: true,
	})
	repo.AddCenter(catalog.Center{
		ID: "C1", Name: "City General Hospital", City: "Mumbai", State: "Maharashtra",
		Pincode: "400001", Latitude: 18.9702, Longitude: 72.8311,
	})
	repo.AddCenter(catalog.Center{
		ID: "C2", Name: "Public Health Center", City: "Mumbai", State: "Maharashtra",
		Pincode: "400002", Latitude: 19.0176, Longitude: 72.8562,
	})
	repo.SetStock("C1", "covid19", 10, 0)
	repo.SetStock("C2", "covid19", 5, 5) // exhausted

	if led == nil {
		mem := ledger.NewMemoryLedger()
		ctx := context.Background()
		key := ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}
		require.NoError(t, mem.SetSlotCapacity(ctx, key, 2))
		require.NoError(t, mem.SetStockTotal(ctx, "C1", "covid19", 10))
		led = mem
	}

	apptRepo := appointment.NewMemoryRepository()
	appointments := appointment.NewService(apptRepo, led, repo, 14).
		WithClock(func() time.Time { return fixedNow })

	svc := NewService(repo, led, matcher.New(repo), eligibility.NewEngine(180), appointments, 14).
		WithClock(func() time.Time { return fixedNow })

	return &fixture{
		booking:      svc,
		appointments: appointments,
		apptRepo:     apptRepo,
		catalog:      repo,
		ledger:       led,
	}
}

func (f *fixture) startedWorkflow(t *testing.T) uuid.UUID {
	t.Helper()
	wf, err := f.booking.Start(context.Background(), uuid.New(), 18.97, 72.83)
	require.NoError(t, err)
	return wf.ID
}

// walk advances a fresh workflow to the confirm step.
func (f *fixture) atConfirm(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := f.startedWorkflow(t)

	_, err := f.booking.SelectVaccine(ctx, id, "covid19")
	require.NoError(t, err)
	_, err = f.booking.SelectCenter(ctx, id, "C1")
	require.NoError(t, err)
	_, err = f.booking.SelectSlot(ctx, id, slotDate, "09:00-09:30")
	require.NoError(t, err)
	return id
}

func guardReason(t *testing.T, err error) *GuardError {
	t.Helper()
	var ge *GuardError
	require.ErrorAs(t, err, &ge)
	return ge
}

func TestStart_OpensAtVaccineStep(t *testing.T) {
	f := newFixture(t, nil)

	wf, err := f.booking.Start(context.Background(), uuid.New(), 18.97, 72.83)
	require.NoError(t, err)
	assert.Equal(t, StateChooseVaccine, wf.State)

	got, err := f.booking.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
}

func TestSelectVaccine_AdvancesWithResolvedDose(t *testing.T) {
	f := newFixture(t, nil)
	id := f.startedWorkflow(t)

	wf, err := f.booking.SelectVaccine(context.Background(), id, "covid19")
	require.NoError(t, err)

	assert.Equal(t, StateChooseCenter, wf.State)
	assert.Equal(t, "covid19", wf.VaccineID)
	assert.Equal(t, 1, wf.DoseNumber)
	assert.False(t, wf.Booster)
}

func TestSelectVaccine_UnknownVaccineStays(t *testing.T) {
	f := newFixture(t, nil)
	id := f.startedWorkflow(t)

	wf, err := f.booking.SelectVaccine(context.Background(), id, "smallpox")
	ge := guardReason(t, err)

	assert.Equal(t, ReasonMissingSelection, ge.Reason)
	assert.Equal(t, StateChooseVaccine, wf.State)
}

func TestSelectVaccine_IneligiblePatientBlocked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	patientID := uuid.New()
	require.NoError(t, f.apptRepo.AppendRecord(ctx, eligibility.DoseRecord{
		PatientID: patientID, VaccineID: "covid19", DoseNumber: 1,
		AdministeredDate: fixedNow.AddDate(0, 0, -10),
	}))

	wf, err := f.booking.Start(ctx, patientID, 18.97, 72.83)
	require.NoError(t, err)

	got, err := f.booking.SelectVaccine(ctx, wf.ID, "covid19")
	ge := guardReason(t, err)

	assert.Equal(t, ReasonIneligible, ge.Reason)
	assert.Contains(t, ge.Detail, "11 days")
	assert.Equal(t, StateChooseVaccine, got.State)
}

func TestSelectCenter_RejectsExhaustedCenter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startedWorkflow(t)

	_, err := f.booking.SelectVaccine(ctx, id, "covid19")
	require.NoError(t, err)

	wf, err := f.booking.SelectCenter(ctx, id, "C2")
	ge := guardReason(t, err)

	assert.Equal(t, ReasonUnknownCenter, ge.Reason)
	assert.Equal(t, StateChooseCenter, wf.State)
}

func TestSelectSlot_OutOfHorizon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startedWorkflow(t)

	_, err := f.booking.SelectVaccine(ctx, id, "covid19")
	require.NoError(t, err)
	_, err = f.booking.SelectCenter(ctx, id, "C1")
	require.NoError(t, err)

	for _, date := range []string{"2026-09-20", "2026-08-30"} {
		wf, err := f.booking.SelectSlot(ctx, id, date, "09:00-09:30")
		ge := guardReason(t, err)
		assert.Equal(t, ReasonOutOfHorizon, ge.Reason)
		assert.Equal(t, StateChooseSlot, wf.State)
	}
}

func TestSelectSlot_UnpublishedSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startedWorkflow(t)

	_, err := f.booking.SelectVaccine(ctx, id, "covid19")
	require.NoError(t, err)
	_, err = f.booking.SelectCenter(ctx, id, "C1")
	require.NoError(t, err)

	_, err = f.booking.SelectSlot(ctx, id, slotDate, "23:00-23:30")
	ge := guardReason(t, err)
	assert.Equal(t, ReasonSlotUnavailable, ge.Reason)
}

func TestConfirm_CommitsAppointmentAndReservation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.atConfirm(t)

	wf, err := f.booking.Confirm(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, wf.State)
	require.NotNil(t, wf.Appointment)
	assert.Equal(t, appointment.StatusUpcoming, wf.Appointment.Status)
	assert.Equal(t, 1, wf.Appointment.DoseNumber)
	assert.Equal(t, slotDate, wf.Appointment.Date)

	avail, err := f.ledger.Availability(ctx, ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}, "covid19")
	require.NoError(t, err)
	assert.Equal(t, 1, avail.Reserved)
	assert.Equal(t, 9, avail.StockRemaining)

	// Committed workflows are dropped from the store.
	_, err = f.booking.Get(id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestConfirm_RetriesOnceOnContention(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	ctx := context.Background()
	key := ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}
	require.NoError(t, mem.SetSlotCapacity(ctx, key, 2))
	require.NoError(t, mem.SetStockTotal(ctx, "C1", "covid19", 10))

	f := newFixture(t, &flakyLedger{Ledger: mem, contentions: 1})
	id := f.atConfirm(t)

	wf, err := f.booking.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, wf.State)
}

func TestConfirm_PersistentContentionReturnsToSlotStep(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	ctx := context.Background()
	key := ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}
	require.NoError(t, mem.SetSlotCapacity(ctx, key, 2))
	require.NoError(t, mem.SetStockTotal(ctx, "C1", "covid19", 10))

	f := newFixture(t, &flakyLedger{Ledger: mem, contentions: 2})
	id := f.atConfirm(t)

	wf, err := f.booking.Confirm(ctx, id)
	ge := guardReason(t, err)

	assert.Equal(t, ReasonSlotUnavailable, ge.Reason)
	assert.Equal(t, StateChooseSlot, wf.State)
}

func TestConfirm_FullSlotReturnsToSlotStep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Fill the slot's two seats.
	for i := 0; i < 2; i++ {
		id := f.atConfirm(t)
		_, err := f.booking.Confirm(ctx, id)
		require.NoError(t, err)
	}

	id := f.atConfirm(t)
	wf, err := f.booking.Confirm(ctx, id)
	ge := guardReason(t, err)

	assert.Equal(t, ReasonSlotUnavailable, ge.Reason)
	assert.Equal(t, StateChooseSlot, wf.State)

	// The workflow survives for another slot choice.
	got, err := f.booking.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateChooseSlot, got.State)
}

func TestConfirm_EligibilityChangedSinceSelection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	patientID := uuid.New()
	wf, err := f.booking.Start(ctx, patientID, 18.97, 72.83)
	require.NoError(t, err)
	id := wf.ID

	_, err = f.booking.SelectVaccine(ctx, id, "covid19")
	require.NoError(t, err)
	_, err = f.booking.SelectCenter(ctx, id, "C1")
	require.NoError(t, err)
	_, err = f.booking.SelectSlot(ctx, id, slotDate, "09:00-09:30")
	require.NoError(t, err)

	// Dose 1 lands on the record while the workflow sits at confirm.
	require.NoError(t, f.apptRepo.AppendRecord(ctx, eligibility.DoseRecord{
		PatientID: patientID, VaccineID: "covid19", DoseNumber: 1,
		AdministeredDate: fixedNow,
	}))

	got, err := f.booking.Confirm(ctx, id)
	ge := guardReason(t, err)

	assert.Equal(t, ReasonIneligible, ge.Reason)
	assert.Equal(t, StateChooseVaccine, got.State)

	// Nothing was reserved.
	avail, err := f.ledger.Availability(ctx, ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}, "covid19")
	require.NoError(t, err)
	assert.Zero(t, avail.Reserved)
}

func TestPrevious_WalksBackwards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.atConfirm(t)

	for _, want := range []State{StateChooseSlot, StateChooseCenter, StateChooseVaccine} {
		wf, err := f.booking.Previous(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, wf.State)
	}

	_, err := f.booking.Previous(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStepsOutOfOrderRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startedWorkflow(t)

	_, err := f.booking.SelectCenter(ctx, id, "C1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.booking.SelectSlot(ctx, id, slotDate, "09:00-09:30")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.booking.Confirm(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAbandon_DropsWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startedWorkflow(t)

	wf, err := f.booking.Abandon(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, wf.State)

	_, err = f.booking.Get(id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestSweepStale_AbandonsIdleWorkflows(t *testing.T) {
	f := newFixture(t, nil)

	stale := f.startedWorkflow(t)

	// A later workflow with fresh activity survives the sweep.
	later := fixedNow.Add(25 * time.Minute)
	f.booking.WithClock(func() time.Time { return later })
	fresh := f.startedWorkflow(t)

	f.booking.WithClock(func() time.Time { return fixedNow.Add(31 * time.Minute) })
	swept := f.booking.SweepStale(30 * time.Minute)
	assert.Equal(t, 1, swept)

	_, err := f.booking.Get(stale)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = f.booking.Get(fresh)
	assert.NoError(t, err)
}

func TestGuardError_Message(t *testing.T) {
	err := &GuardError{State: StateChooseSlot, Reason: ReasonOutOfHorizon, Detail: "date must be within the next 14 days"}
	assert.Contains(t, err.Error(), "choose_slot")
	assert.Contains(t, err.Error(), "out_of_horizon")
	assert.False(t, errors.Is(err, ErrInvalidState))
}
