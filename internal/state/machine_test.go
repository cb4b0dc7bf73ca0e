package state

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

type transition struct {
	from, to string
}

func TestMachineLifecycle(t *testing.T) {
	var seen []transition
	m := NewMachine(uuid.New(), "", func(_ uuid.UUID, from, to string) {
		seen = append(seen, transition{from, to})
	})

	assert.Equal(t, models.TripIdle, m.CurrentState())
	assert.False(t, m.CanTransition(EventEnd))

	require.NoError(t, m.Trigger(EventStart))
	assert.True(t, m.Is(models.TripActive))

	err := m.Trigger(EventStart)
	require.ErrorIs(t, err, ErrTripStateConflict)

	require.NoError(t, m.Trigger(EventEnd))
	assert.Equal(t, models.TripEnded, m.CurrentState())

	// ended 为终态
	require.ErrorIs(t, m.Trigger(EventEnd), ErrTripStateConflict)
	require.ErrorIs(t, m.Trigger(EventStart), ErrTripStateConflict)

	assert.Equal(t, []transition{
		{models.TripIdle, models.TripActive},
		{models.TripActive, models.TripEnded},
	}, seen)
}

func TestManagerSingleActiveTrip(t *testing.T) {
	mgr := NewManager(nil)
	first := uuid.New()

	_, err := mgr.Begin(first)
	require.NoError(t, err)

	_, err = mgr.Begin(uuid.New())
	require.ErrorIs(t, err, ErrTripStateConflict)

	active, ok := mgr.Active()
	require.True(t, ok)
	assert.Equal(t, first, active.TripID())
}

func TestManagerFinishConflicts(t *testing.T) {
	mgr := NewManager(nil)
	tripID := uuid.New()

	// idle
	require.ErrorIs(t, mgr.Finish(tripID), ErrTripStateConflict)

	_, err := mgr.Begin(tripID)
	require.NoError(t, err)
	require.NoError(t, mgr.Finish(tripID))
	assert.True(t, mgr.IsEnded(tripID))

	// ended
	require.ErrorIs(t, mgr.Finish(tripID), ErrTripStateConflict)

	_, ok := mgr.Active()
	assert.False(t, ok)

	// 已结束的行程不能重新开始
	_, err = mgr.Begin(tripID)
	require.ErrorIs(t, err, ErrTripStateConflict)
}

func TestManagerResume(t *testing.T) {
	mgr := NewManager(nil)
	tripID := uuid.New()

	m, err := mgr.Resume(tripID)
	require.NoError(t, err)
	assert.Equal(t, models.TripActive, m.CurrentState())
	require.NoError(t, mgr.Finish(tripID))
}

func TestManagerForgetsOldEndedTrips(t *testing.T) {
	mgr := NewManager(nil)
	first := uuid.New()
	_, err := mgr.Begin(first)
	require.NoError(t, err)
	require.NoError(t, mgr.Finish(first))

	for i := 0; i < maxEndedTrips; i++ {
		id := uuid.New()
		_, err := mgr.Begin(id)
		require.NoError(t, err)
		require.NoError(t, mgr.Finish(id))
	}

	assert.False(t, mgr.IsEnded(first))
}
