package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusConfigFromMapCoercesFloat64(t *testing.T) {
	c := BusConfigFromMap(map[string]any{
		"max_inflight": float64(200),
		"bus_address":  "10.0.0.1:9000",
	})
	require.Equal(t, 200, c.MaxInflight)
	require.Equal(t, "10.0.0.1:9000", c.BusAddress)
	require.Equal(t, DefaultBusConfig().HardMax, c.HardMax)
}

func TestBusConfigToMapRoundTrip(t *testing.T) {
	c := DefaultBusConfig()
	m := c.ToMap()
	c2 := BusConfigFromMap(m)
	require.Equal(t, c, c2)
}

func TestGlobalBusConfigDefaultsWhenUnset(t *testing.T) {
	ResetBusConfig()
	require.Equal(t, DefaultBusConfig(), GetBusConfig())

	custom := DefaultBusConfig()
	custom.MaxInflight = 999
	SetBusConfig(custom)
	require.Equal(t, 999, GetBusConfig().MaxInflight)
	ResetBusConfig()
}

func TestLoadYAMLOverlayMissingFileIsNotError(t *testing.T) {
	m, err := LoadYAMLOverlay(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestLoadYAMLOverlayParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_inflight: 250\nbus_address: \"1.2.3.4:50051\"\n"), 0o644))

	m, err := LoadYAMLOverlay(path)
	require.NoError(t, err)
	c := BusConfigFromMap(m)
	require.Equal(t, 250, c.MaxInflight)
	require.Equal(t, "1.2.3.4:50051", c.BusAddress)
}
