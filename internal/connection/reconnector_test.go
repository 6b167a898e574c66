package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnector_CappedExponentialBackoff(t *testing.T) {
	r := require.New(t)

	rc := newReconnector(time.Second, 5*time.Second, 5)
	rc.jitter = func() float64 { return 0 }

	var delays []time.Duration
	for rc.shouldReconnect() {
		delays = append(delays, rc.nextDelay())
	}

	r.Equal([]time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, delays)
	r.False(rc.shouldReconnect())

	rc.reset()
	r.True(rc.shouldReconnect())
	r.Equal(time.Second, rc.nextDelay())
}

func TestReconnector_JitterStaysUnderCap(t *testing.T) {
	rc := newReconnector(time.Second, 5*time.Second, 10)
	rc.jitter = func() float64 { return 0.999 }

	first := rc.nextDelay()
	require.Greater(t, first, time.Second)
	require.Less(t, first, 1500*time.Millisecond)

	for rc.shouldReconnect() {
		require.LessOrEqual(t, rc.nextDelay(), 5*time.Second)
	}
}
