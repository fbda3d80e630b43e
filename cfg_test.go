package databus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "databus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_Config_Load(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
memory:
  size: 16KB
  self_check: true
accounts:
  - name: sensor
    cache_size: 16B
  - name: display
subscriptions:
  - subscriber: display
    publisher: sensor
timer:
  interval: 250ms
  pattern: "sensor*"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, 16*datasize.KB, cfg.Memory.Size)
	assert.True(t, cfg.Memory.SelfCheck)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "sensor", cfg.Accounts[0].Name)
	assert.Equal(t, 16*datasize.B, cfg.Accounts[0].CacheSize)
	assert.Equal(t, datasize.ByteSize(0), cfg.Accounts[1].CacheSize)

	require.Len(t, cfg.Subscriptions, 1)
	assert.Equal(t, "display", cfg.Subscriptions[0].Subscriber)
	assert.Equal(t, "sensor", cfg.Subscriptions[0].Publisher)

	assert.Equal(t, 250*time.Millisecond, cfg.Timer.Interval)
	assert.Equal(t, "sensor*", cfg.Timer.Pattern)
}

func Test_Config_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 64*datasize.KB, cfg.Memory.Size)
	assert.Equal(t, time.Second, cfg.Timer.Interval)
	assert.Equal(t, "*", cfg.Timer.Pattern)
}

func Test_Config_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "accounts: {not: a list}\n"))
	assert.Error(t, err)
}
