package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cfg := testConfig("era.generated")
	cfg.OnStateChange = func(name string, from, to State) {
		assert.Equal(t, "era.generated", name)
		transitions = append(transitions, to)
	}

	cb, err := New(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	boom := errors.New("broker unavailable")
	fail := func(context.Context) (any, error) { return nil, boom }

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, fail)
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, cb.IsOpen())
	assert.Equal(t, []State{StateOpen}, transitions)

	called := false
	_, err = cb.Execute(ctx, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.True(t, IsOpenError(err))
	assert.False(t, called)
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	cb, err := New(testConfig("pg"), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
			return nil, context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCall(t *testing.T) {
	cb, err := New(testConfig("typed"), nil)
	require.NoError(t, err)

	n, err := Call(context.Background(), cb, func(context.Context) (int64, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestStateLevel(t *testing.T) {
	assert.Equal(t, int64(0), StateClosed.Level())
	assert.Equal(t, int64(1), StateHalfOpen.Level())
	assert.Equal(t, int64(2), StateOpen.Level())
}

func TestManager(t *testing.T) {
	m := NewManager(testConfig(""), nil)

	a, err := m.Get("era.generated")
	require.NoError(t, err)
	b, err := m.Get("era.generated")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "era.generated", a.Name())

	_, err = m.Get("era.events")
	require.NoError(t, err)

	statuses := m.GetHealthStatus()
	assert.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.True(t, s.Healthy)
		assert.Equal(t, StateClosed, s.State)
	}
}
