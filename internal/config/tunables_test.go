package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesEachComponentsOwnDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, 160, d.Coalescer.DebounceMs)
	assert.Equal(t, 3, d.Queue.Concurrency)
	assert.Equal(t, "gpt-4.1-nano", d.Models.RealtimeModel)
	assert.False(t, d.ParagraphEnabled)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	tunables := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	assert.Equal(t, Default(), tunables)
}

func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"coalescer":{"debounceMs":250},"paragraphEnabled":true}`), 0o644))

	tunables := Load(path)
	assert.Equal(t, 250, tunables.Coalescer.DebounceMs)
	assert.True(t, tunables.ParagraphEnabled)
	// unspecified sections keep their Default() values after json.Unmarshal
	// merges onto Default(), since Unmarshal only overwrites fields present
	// in the file.
	assert.Equal(t, Default().Queue, tunables.Queue)
}

func TestLoad_MalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not valid json`), 0o644))

	tunables := Load(path)
	assert.Equal(t, Default(), tunables)
}

func TestHotTunables_GetReturnsLoadedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":{"realtimeModel":"custom-model"}}`), 0o644))

	hc := NewHotTunables(path)
	assert.Equal(t, "custom-model", hc.Get().Models.RealtimeModel)
}

func TestHotTunables_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":{"realtimeModel":"v1"}}`), 0o644))

	hc := NewHotTunables(path)
	require.NoError(t, hc.Watch())

	reloaded := make(chan *Tunables, 1)
	hc.OnReload(func(tun *Tunables) { reloaded <- tun })

	require.NoError(t, os.WriteFile(path, []byte(`{"models":{"realtimeModel":"v2"}}`), 0o644))

	select {
	case tun := <-reloaded:
		assert.Equal(t, "v2", tun.Models.RealtimeModel)
	case <-time.After(3 * time.Second):
		t.Fatal("hot tunables did not reload within timeout")
	}
	assert.Equal(t, "v2", hc.Get().Models.RealtimeModel)
}
