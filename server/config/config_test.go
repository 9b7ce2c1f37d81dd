package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	fn := filepath.Join(t.TempDir(), "buddywatch.json")
	require.NoError(t, os.WriteFile(fn, []byte(body), 0644))
	return fn
}

func TestLoadConfigDefaults(t *testing.T) {
	fn := writeConfig(t, `{"camera": {"kind": "demo"}}`)
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.TickPeriodMS)
	require.Equal(t, 0.8, cfg.DrawThreshold)
	require.Equal(t, 680, cfg.OverlayWidth)
	require.Equal(t, 480, cfg.OverlayHeight)
	require.Equal(t, ExportRemoteUpload, cfg.AutoRecordExport)
	require.NotNil(t, cfg.Storage.Filesystem)
	require.Nil(t, cfg.MQTT)
}

func TestLoadConfigClampsThreshold(t *testing.T) {
	fn := writeConfig(t, `{"drawThreshold": 0.3, "camera": {"kind": "demo"}}`)
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, 0.6, cfg.DrawThreshold)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("BUDDYWATCH_BACKEND_URL", "http://backend:9000")
	t.Setenv("BUDDYWATCH_TICK_MS", "250")
	t.Setenv("MQTT_HOST", "broker")
	fn := writeConfig(t, `{"camera": {"kind": "demo"}}`)
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, "http://backend:9000", cfg.BackendURL)
	require.Equal(t, 250, cfg.TickPeriodMS)
	require.NotNil(t, cfg.MQTT)
	require.Equal(t, "broker", cfg.MQTT.Host)
	require.Equal(t, 1883, cfg.MQTT.Port)
	require.Equal(t, "buddywatch", cfg.MQTT.Topic)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"camera": {"kind": "mjpeg"}}`))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"camera": {"kind": "rtsp"}}`))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{not json`))
	require.Error(t, err)
}
