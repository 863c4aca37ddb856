package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedWorkflow(s *Store, at time.Time) *Workflow {
	wf := &Workflow{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		State:        StateChooseVaccine,
		CreatedAt:    at,
		LastActivity: at,
	}
	s.Put(wf)
	return wf
}

func TestStoreGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	wf := storedWorkflow(s, time.Now())

	got, err := s.Get(wf.ID)
	require.NoError(t, err)

	got.State = StateConfirm

	again, err := s.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StateChooseVaccine, again.State)
}

func TestStoreUpdate_DropsTerminalWorkflows(t *testing.T) {
	s := NewStore()
	wf := storedWorkflow(s, time.Now())

	_, err := s.Update(wf.ID, func(wf *Workflow) error {
		wf.State = StateAbandoned
		return nil
	})
	require.NoError(t, err)

	_, err = s.Get(wf.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Zero(t, s.Len())
}

func TestStoreUpdate_KeepsWorkflowOnGuardFailure(t *testing.T) {
	s := NewStore()
	wf := storedWorkflow(s, time.Now())

	guard := &GuardError{State: StateChooseVaccine, Reason: ReasonMissingSelection}
	got, err := s.Update(wf.ID, func(wf *Workflow) error {
		return guard
	})

	assert.Equal(t, guard, err)
	assert.NotNil(t, got)
	assert.Equal(t, 1, s.Len())
}

func TestStoreSweepStale(t *testing.T) {
	s := NewStore()
	now := time.Now()

	stale := storedWorkflow(s, now.Add(-time.Hour))
	fresh := storedWorkflow(s, now.Add(-time.Minute))

	swept := s.SweepStale(30*time.Minute, now)
	require.Len(t, swept, 1)
	assert.Equal(t, stale.ID, swept[0])

	_, err := s.Get(stale.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
}
