package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1024, cfg.MaxEvents)
	assert.Equal(t, -1, cfg.PollTimeoutMs, "default wait blocks indefinitely")
	assert.Equal(t, time.Duration(-1), cfg.pollTimeout())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_events: 64\npoll_timeout_ms: 250\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MaxEvents)
	assert.Equal(t, 250, cfg.PollTimeoutMs)
	assert.Equal(t, 250*time.Millisecond, cfg.pollTimeout())
}

func TestZeroTimeoutBlocksIndefinitely(t *testing.T) {
	var cfg Config
	assert.Equal(t, time.Duration(-1), cfg.pollTimeout(),
		"a zero-value config must fall back to a blocking wait, never a 0ms busy-poll")
}

func TestLoadConfigRejectsNonPositiveMaxEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_events: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.MaxEvents, "nonsense values fall back to the default")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(), cfg, "errors still hand back usable defaults")
}
