package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/audio/audiotest"
	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
)

func newHost() *audiotest.Host {
	return audiotest.NewHost(
		audiotest.InputDevice("WhiteHole 2ch", 2),
		audiotest.OutputDevice("BlackHole 2ch", 2),
	)
}

func newManager(t *testing.T, host *audiotest.Host) *bridge.Manager {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m := bridge.NewManager(audio.NewRegistry(host), audio.PipelineConfig{
		Format:        audio.DefaultFormat(),
		QueueCapacity: 3,
		StopGrace:     20 * time.Millisecond,
	}, logger, metrics.New())
	t.Cleanup(func() { _ = m.StopAll(context.Background()) })
	return m
}

func TestManager_EndToEnd(t *testing.T) {
	host := newHost()
	m := newManager(t, host)
	session := newFakeSession("session1")
	format := audio.DefaultFormat()

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	assert.True(t, m.Active("session1"))

	capture, err := host.LastStream("WhiteHole 2ch")
	require.NoError(t, err)
	for i := int16(1); i <= 3; i++ {
		capture.Feed(audiotest.Tone(format, i))
		time.Sleep(format.FrameDuration())
	}

	require.Eventually(t, func() bool { return len(session.sentAudio()) == 3 }, 2*time.Second, 5*time.Millisecond)
	for i, f := range session.sentAudio() {
		assert.Len(t, f, 3840)
		assert.Equal(t, int16(i+1), f.Int16s()[0], "frames must arrive in capture order")
	}
	for _, f := range session.sentFrames() {
		assert.Len(t, f, 3840)
	}

	// Inbound frames reach the playback device.
	require.NoError(t, session.deliver(audiotest.Tone(format, 42)))
	playback, err := host.LastStream("BlackHole 2ch")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(playback.WrittenAudio()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int16(42), audio.Frame(playback.WrittenAudio()[0]).Int16s()[0])

	stats, err := m.Stats("session1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, "WhiteHole 2ch", stats.Capture.Device)

	require.NoError(t, m.RequestStop("session1"))
	assert.ErrorIs(t, m.RequestStop("session1"), bridge.ErrNotActive)
	assert.False(t, m.Active("session1"))
	assert.False(t, session.hasHandler())
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_DuplicateStart(t *testing.T) {
	host := newHost()
	m := newManager(t, host)
	session := newFakeSession("session1")

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	err := m.RequestStart(session, "WhiteHole", "BlackHole")
	assert.ErrorIs(t, err, bridge.ErrAlreadyActive)

	assert.Equal(t, []string{"session1"}, m.Sessions())
	assert.Equal(t, 2, host.OpenStreams(), "second start must not open devices")
}

func TestManager_ConcurrentStartSameSession(t *testing.T) {
	host := newHost()
	m := newManager(t, host)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.RequestStart(newFakeSession("shared"), "WhiteHole", "BlackHole")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, bridge.ErrAlreadyActive)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, m.Sessions(), 1)
	assert.Equal(t, 2, host.OpenStreams())
}

func TestManager_InterleavedStartStopSameSession(t *testing.T) {
	host := newHost()
	m := newManager(t, host)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := m.RequestStart(newFakeSession("shared"), "WhiteHole", "BlackHole")
			if err != nil {
				assert.ErrorIs(t, err, bridge.ErrAlreadyActive)
			}
		}()
		go func() {
			defer wg.Done()
			err := m.RequestStop("shared")
			if err != nil {
				assert.ErrorIs(t, err, bridge.ErrNotActive)
			}
		}()
	}
	wg.Wait()

	// Whatever order won, the registry and the devices agree.
	if m.Active("shared") {
		assert.Equal(t, 2, host.OpenStreams())
		require.NoError(t, m.RequestStop("shared"))
	}
	assert.Empty(t, m.Sessions())
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_StopUnknownSession(t *testing.T) {
	m := newManager(t, newHost())
	assert.ErrorIs(t, m.RequestStop("nobody"), bridge.ErrNotActive)
	_, err := m.Stats("nobody")
	assert.ErrorIs(t, err, bridge.ErrNotActive)
}

func TestManager_UnresolvableDeviceLeavesNothingOpen(t *testing.T) {
	host := newHost()
	m := newManager(t, host)
	session := newFakeSession("session1")

	err := m.RequestStart(session, "WhiteHole", "Nonexistent")
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
	assert.False(t, m.Active("session1"))
	assert.Equal(t, 0, host.OpenStreams())

	err = m.RequestStart(session, "Nonexistent", "BlackHole")
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_PlaybackOpenFailureStopsCapture(t *testing.T) {
	host := newHost()
	host.FailOpen("BlackHole 2ch", errors.New("device busy"))
	m := newManager(t, host)

	err := m.RequestStart(newFakeSession("session1"), "WhiteHole", "BlackHole")
	assert.ErrorIs(t, err, audio.ErrDeviceOpenFailed)
	assert.True(t, audio.IsDeviceError(err))
	assert.False(t, m.Active("session1"))

	// The capture stream was opened and must have been closed again.
	capture, err := host.LastStream("WhiteHole 2ch")
	require.NoError(t, err)
	assert.True(t, capture.Closed())
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_RestartAfterStop(t *testing.T) {
	host := newHost()
	m := newManager(t, host)
	session := newFakeSession("session1")

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	require.NoError(t, m.RequestStop("session1"))
	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	assert.True(t, m.Active("session1"))
	assert.Equal(t, 2, host.OpenStreams())
}

func TestManager_HardwareFailureEvictsBridge(t *testing.T) {
	host := newHost()
	m := newManager(t, host)

	terminated := make(chan error, 1)
	m.OnTerminated(func(id string, err error) {
		assert.Equal(t, "session1", id)
		terminated <- err
	})

	require.NoError(t, m.RequestStart(newFakeSession("session1"), "WhiteHole", "BlackHole"))
	capture, err := host.LastStream("WhiteHole 2ch")
	require.NoError(t, err)
	capture.Fail(errors.New("device unplugged"))

	select {
	case err := <-terminated:
		assert.ErrorIs(t, err, audio.ErrHardwareIO)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge was not torn down after hardware failure")
	}
	assert.False(t, m.Active("session1"))
	assert.Equal(t, 0, host.OpenStreams())
	assert.ErrorIs(t, m.RequestStop("session1"), bridge.ErrNotActive)
}

func TestManager_SessionLossEvictsBridge(t *testing.T) {
	host := newHost()
	m := newManager(t, host)
	session := newFakeSession("session1")

	terminated := make(chan error, 1)
	m.OnTerminated(func(_ string, err error) { terminated <- err })

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	session.connected.Store(false)

	select {
	case err := <-terminated:
		assert.ErrorIs(t, err, bridge.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge was not torn down after session loss")
	}
	assert.False(t, m.Active("session1"))
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_SendErrorsAreNotFatal(t *testing.T) {
	m := newManager(t, newHost())
	session := newFakeSession("session1")
	session.failSends(errors.New("opus send timeout"))

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, m.Active("session1"))
	assert.Empty(t, session.sentFrames())
}

func TestManager_StopAll(t *testing.T) {
	host := audiotest.NewHost(
		audiotest.InputDevice("WhiteHole 2ch", 2),
		audiotest.OutputDevice("BlackHole 2ch", 2),
	)
	m := newManager(t, host)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.RequestStart(newFakeSession(id), "WhiteHole", "BlackHole"))
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.Sessions())
	assert.Equal(t, 6, host.OpenStreams())

	require.NoError(t, m.StopAll(context.Background()))
	assert.Empty(t, m.Sessions())
	assert.Equal(t, 0, host.OpenStreams())
}

func TestManager_InboundFloodStaysBounded(t *testing.T) {
	host := newHost()
	host.OnOpen(func(s *audiotest.Stream) { s.SetPeriod(20 * time.Millisecond) })
	m := newManager(t, host)
	session := newFakeSession("session1")
	format := audio.DefaultFormat()

	require.NoError(t, m.RequestStart(session, "WhiteHole", "BlackHole"))
	for i := 0; i < 300; i++ {
		require.NoError(t, session.deliver(audiotest.Tone(format, int16(i))))
		stats, err := m.Stats("session1")
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.Playback.Queued, stats.Playback.Capacity)
	}
}

func TestManager_RecordsMetrics(t *testing.T) {
	host := newHost()
	logger, _ := test.NewNullLogger()
	reg := metrics.New()
	m := bridge.NewManager(audio.NewRegistry(host), audio.PipelineConfig{
		StopGrace: 20 * time.Millisecond,
	}, logger, reg)

	require.NoError(t, m.RequestStart(newFakeSession("session1"), "WhiteHole", "BlackHole"))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ActiveBridges))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.SilenceFrames.WithLabelValues("capture")) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.RequestStop("session1"))
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.ActiveBridges))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.BridgesStarted))

	assert.Error(t, m.RequestStart(newFakeSession("session2"), "Nonexistent", "BlackHole"))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.BridgesFailed.WithLabelValues("device_not_found")))
}
