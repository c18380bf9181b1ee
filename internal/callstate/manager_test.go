package callstate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankogit/4duk-voice-bridge/internal/callstate"
)

func newManager(t *testing.T, file string) *callstate.Manager {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return callstate.NewManager(file, logger)
}

func TestManager_DevicesSurviveRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "data", "state.json")

	m := newManager(t, file)
	require.NoError(t, m.SetDevices("guild-1", "WhiteHole", "BlackHole"))
	m.GetOrCreate("guild-2").Activate("voice-1")

	reloaded := newManager(t, file)
	state, ok := reloaded.Get("guild-1")
	require.True(t, ok)
	capture, playback := state.Devices("default-in", "default-out")
	assert.Equal(t, "WhiteHole", capture)
	assert.Equal(t, "BlackHole", playback)
	assert.False(t, state.IsActive(), "active calls are not persisted")

	_, ok = reloaded.Get("guild-2")
	assert.False(t, ok, "guilds without preferences are not persisted")

	_, err := os.Stat(file + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestManager_MissingFileIsEmpty(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "missing.json"))
	assert.Empty(t, m.ActiveGuildIDs())
	_, ok := m.Get("guild-1")
	assert.False(t, ok)
}

func TestManager_CorruptFileIsReported(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0644))

	logger, hook := test.NewNullLogger()
	m := callstate.NewManager(file, logger)
	require.NotNil(t, m)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "Failed to load call state")
	assert.Error(t, m.LoadConfig())
}

func TestManager_ActiveGuildIDs(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "state.json"))
	m.GetOrCreate("b").Activate("c1")
	m.GetOrCreate("a").Activate("c2")
	m.GetOrCreate("c")

	assert.Equal(t, []string{"a", "b"}, m.ActiveGuildIDs())

	m.GetOrCreate("a").Reset()
	assert.Equal(t, []string{"b"}, m.ActiveGuildIDs())
}

func TestState_DefaultsAndReset(t *testing.T) {
	s := callstate.NewState()
	capture, playback := s.Devices("WhiteHole 2ch", "BlackHole 2ch")
	assert.Equal(t, "WhiteHole 2ch", capture)
	assert.Equal(t, "BlackHole 2ch", playback)

	s.SetDevices("Mic", "")
	capture, playback = s.Devices("WhiteHole 2ch", "BlackHole 2ch")
	assert.Equal(t, "Mic", capture)
	assert.Equal(t, "BlackHole 2ch", playback)

	s.Activate("voice-1")
	assert.True(t, s.IsActive())
	assert.Equal(t, "voice-1", s.GetChannelID())
	assert.Equal(t, 1, s.IncrementReconnectAttempts())
	assert.Equal(t, 2, s.IncrementReconnectAttempts())
	s.Activate("voice-1")
	assert.Equal(t, 0, s.GetReconnectAttempts())

	s.Reset()
	assert.False(t, s.IsActive())
	assert.Empty(t, s.GetChannelID())
	capture, _ = s.Devices("", "")
	assert.Equal(t, "Mic", capture, "reset keeps device preferences")
}
