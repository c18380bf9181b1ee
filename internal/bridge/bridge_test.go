package bridge_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/audio/audiotest"
	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
)

func newBridge(host *audiotest.Host, registry *bridge.Registry) *bridge.Bridge {
	logger, _ := test.NewNullLogger()
	return bridge.New(audio.NewRegistry(host), registry, audio.PipelineConfig{
		StopGrace: 20 * time.Millisecond,
		Logger:    logger,
	}, nil)
}

func TestBridge_StartRegistersAndStopUnregisters(t *testing.T) {
	host := newHost()
	registry := bridge.NewRegistry()
	b := newBridge(host, registry)
	session := newFakeSession("guild-1")

	require.NoError(t, b.Start(session, "whitehole", "blackhole"))
	got, ok := registry.Get("guild-1")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.True(t, session.hasHandler())

	require.NoError(t, b.Stop())
	_, ok = registry.Get("guild-1")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Len())
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	host := newHost()
	b := newBridge(host, bridge.NewRegistry())
	require.NoError(t, b.Start(newFakeSession("guild-1"), "WhiteHole", "BlackHole"))

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())

	for _, s := range host.Streams() {
		assert.Equal(t, 1, s.CloseCount(), "stream %q closed more than once", s.Device)
	}
}

func TestBridge_StopBeforeStart(t *testing.T) {
	host := newHost()
	b := newBridge(host, bridge.NewRegistry())

	require.NoError(t, b.Stop())
	assert.Error(t, b.Start(newFakeSession("guild-1"), "WhiteHole", "BlackHole"))
	assert.Equal(t, 0, host.OpenStreams())
}

func TestBridge_ForwardsSilenceWhenNothingCaptured(t *testing.T) {
	b := newBridge(newHost(), bridge.NewRegistry())
	session := newFakeSession("guild-1")
	require.NoError(t, b.Start(session, "WhiteHole", "BlackHole"))
	defer b.Stop()

	require.Eventually(t, func() bool { return len(session.sentFrames()) >= 3 }, time.Second, time.Millisecond)
	for _, f := range session.sentFrames() {
		assert.Len(t, f, audio.PCMFrameSize)
		assert.True(t, f.IsSilence())
	}
}

func TestBridge_RejectsSecondBridgeForSameSession(t *testing.T) {
	host := newHost()
	registry := bridge.NewRegistry()

	first := newBridge(host, registry)
	require.NoError(t, first.Start(newFakeSession("guild-1"), "WhiteHole", "BlackHole"))
	defer first.Stop()

	second := newBridge(host, registry)
	err := second.Start(newFakeSession("guild-1"), "WhiteHole", "BlackHole")
	assert.ErrorIs(t, err, bridge.ErrAlreadyActive)
	assert.Equal(t, 2, host.OpenStreams(), "second bridge must release its devices")
}

func TestRegistry_LockSerializesSameKey(t *testing.T) {
	r := bridge.NewRegistry()

	unlock := r.Lock("k")
	acquired := make(chan struct{})
	go func() {
		release := r.Lock("k")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}

	// Other keys are independent.
	r.Lock("other")()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}
