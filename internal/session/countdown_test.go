package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestCountdownLabel(t *testing.T) {
	mock := clock.NewMock()
	cd := NewCountdown(mock, 0, nil)
	require.Equal(t, "00:00", cd.Label())

	cd.Start()
	defer cd.Stop()
	require.Equal(t, "30:00", cd.Label())
	require.True(t, cd.Expiry().Equal(mock.Now().Add(DefaultWindow)))

	cd.Restore(mock.Now().Add(65*time.Second+500*time.Millisecond), true)
	require.Equal(t, "01:05", cd.Label())
}

func TestCountdownExpiresOnce(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	cd := NewCountdown(mock, 3*time.Second, func() { fired.Add(1) })
	cd.Start()
	defer cd.Stop()

	mock.Add(2 * time.Second)
	require.True(t, cd.Active())
	require.Equal(t, 1*time.Second, cd.Remaining())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	require.False(t, cd.Active())
	require.Zero(t, cd.Remaining())

	mock.Add(10 * time.Second)
	require.False(t, cd.Tick())
	require.EqualValues(t, 1, fired.Load())

	cd.Extend()
	require.True(t, cd.Active())
	require.Equal(t, 3*time.Second, cd.Remaining())
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
}

func TestCountdownStoppedLoopDoesNotFire(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	cd := NewCountdown(mock, 2*time.Second, func() { fired.Add(1) })
	cd.Start()
	cd.Stop()

	mock.Add(5 * time.Second)
	require.Zero(t, fired.Load())
	require.True(t, cd.Active(), "stopping keeps the window")

	require.True(t, cd.Tick())
	require.EqualValues(t, 1, fired.Load())
}

func TestCountdownRestoreInactive(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	cd := NewCountdown(mock, time.Minute, func() { fired.Add(1) })

	cd.Restore(mock.Now().Add(-time.Second), false)
	require.False(t, cd.Active())
	require.False(t, cd.Tick())
	require.Zero(t, fired.Load())

	cd.Restore(mock.Now().Add(-time.Second), true)
	require.True(t, cd.Tick())
	require.EqualValues(t, 1, fired.Load())

	cd.Reset()
	require.True(t, cd.Expiry().IsZero())
	require.Equal(t, "00:00", cd.Label())
}
