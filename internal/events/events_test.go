package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuilders(t *testing.T) {
	e := New(JobStarted, "job-1").WithIteration(3).WithPayload("p").WithError(errors.New("boom"))

	assert.Equal(t, "job-1", e.JobID)
	require.NotNil(t, e.Iteration)
	assert.Equal(t, 3, *e.Iteration)
	assert.Equal(t, "p", e.Payload)
	assert.Equal(t, "boom", e.Error)

	// Builders copy; the original is untouched.
	orig := New(JobQueued, "job-2")
	_ = orig.WithIteration(1)
	assert.Nil(t, orig.Iteration)
}

func TestIsFailure(t *testing.T) {
	assert.True(t, New(JobFailed, "j").IsFailure())
	assert.True(t, New(IterationFailed, "j").IsFailure())
	assert.False(t, New(JobCompleted, "j").IsFailure())
}

func TestBus_EmitDelivery(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	bus.Emit(New(JobQueued, "a"))
	bus.Emit(New(JobStarted, "a"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, JobQueued, got[0].Type)
	assert.False(t, got[0].Time.IsZero(), "bus stamps event time")
}

func TestBus_CloseDropsEvents(t *testing.T) {
	bus := NewBus()
	delivered := 0
	bus.Subscribe(func(Event) { delivered++ })

	bus.Close()
	bus.Emit(New(JobQueued, "a"))
	assert.Zero(t, delivered)
}

func TestString(t *testing.T) {
	e := New(IterationStarted, "job-9").WithIteration(2)
	s := e.String()
	assert.Contains(t, s, "iteration.started")
	assert.Contains(t, s, "job-9")
	assert.Contains(t, s, "iter=2")
}
