package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange_PickStaysInBounds(t *testing.T) {
	r, err := NewRange(3*time.Second, 5*time.Second)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		d := r.Pick()
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestRange_FixedWhenMinEqualsMax(t *testing.T) {
	r := Range{Min: time.Minute, Max: time.Minute}
	assert.Equal(t, time.Minute, r.Pick())
}

func TestNewRange_RejectsInverted(t *testing.T) {
	_, err := NewRange(2*time.Second, time.Second)
	require.Error(t, err)

	_, err = NewRange(-time.Second, time.Second)
	require.Error(t, err)
}

func TestRange_WaitUsesSleeper(t *testing.T) {
	var got time.Duration
	r := Range{Min: time.Second, Max: time.Second}

	err := r.Wait(context.Background(), func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, time.Second, got)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
