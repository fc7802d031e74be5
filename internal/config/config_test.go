package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Cleanup(func() { config = nil })

	require.NoError(t, Load(""))

	c := Get()
	assert.Equal(t, ":8080", c.HttpListenAddr)
	assert.Equal(t, time.Second, c.SendDelay)
	assert.Equal(t, 5*time.Minute, c.SweepCutoff)
	assert.Equal(t, 0.6, c.FacilityMatchThreshold)
	assert.Equal(t, 3, c.QueueMaxRetries)
	assert.True(t, c.QueueEnableDLQ)
}

func TestLoad_Environment(t *testing.T) {
	t.Cleanup(func() { config = nil })
	t.Setenv("SEND_DELAY", "250ms")
	t.Setenv("SWEEP_CUTOFF", "90s")
	t.Setenv("FACILITY_MATCH_THRESHOLD", "0.8")
	t.Setenv("QUEUE_NAME", "custom:dispatch")

	require.NoError(t, Load(""))

	c := Get()
	assert.Equal(t, 250*time.Millisecond, c.SendDelay)
	assert.Equal(t, 90*time.Second, c.SweepCutoff)
	assert.Equal(t, 0.8, c.FacilityMatchThreshold)
	assert.Equal(t, "custom:dispatch", c.QueueName)
}

func TestLoad_EnvFile(t *testing.T) {
	t.Cleanup(func() {
		config = nil
		os.Unsetenv("DEFAULT_FACILITY_NAME")
	})
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_FACILITY_NAME=Oficina Central\n"), 0o600))

	require.NoError(t, Load(path))
	assert.Equal(t, "Oficina Central", Get().DefaultFacilityName)
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative send delay", "SEND_DELAY", "-1s"},
		{"negative cutoff", "SWEEP_CUTOFF", "-5m"},
		{"zero sweep interval", "SWEEP_INTERVAL", "0s"},
		{"threshold above one", "FACILITY_MATCH_THRESHOLD", "1.5"},
		{"zero threshold", "FACILITY_MATCH_THRESHOLD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { config = nil })
			t.Setenv(tt.key, tt.val)

			assert.Error(t, Load(""))
			assert.Nil(t, config)
		})
	}
}

func TestSetGet(t *testing.T) {
	t.Cleanup(func() { config = nil })

	Set(&Config{AppName: "test"})
	assert.Equal(t, "test", Get().AppName)
}

func TestGet_Uninitialized(t *testing.T) {
	config = nil
	assert.Panics(t, func() { Get() })
}
