package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  serverName: ml-01
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ml-01", cfg.Node.ServerName)
	assert.Equal(t, "/var/lib/corral", cfg.Node.DataDir)
	assert.Equal(t, 2000, cfg.Docker.PortRangeStart)
	assert.Equal(t, 3000, cfg.Docker.PortRangeEnd)
	assert.Equal(t, 10, cfg.Docker.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Reconciler.TickSeconds)
	assert.Equal(t, 6, cfg.Reconciler.SweepEveryNTicks)
	assert.Equal(t, 30, cfg.Reconciler.OrphanGraceMinutes)
	assert.Equal(t, 1, cfg.Reservations.DefaultMinDurationHours)
	assert.Equal(t, 48, cfg.Reservations.DefaultMaxDurationHours)
	assert.Equal(t, 1440, cfg.Reservations.AdminMaxDurationHours)
	assert.Equal(t, 1, cfg.Reservations.DefaultMaxActive)
	assert.Equal(t, 99, cfg.Reservations.AdminMaxActive)
	assert.Equal(t, 24, cfg.Reservations.MaxExtendHours)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  serverName: gpu-02
  dataDir: /srv/corral
docker:
  registryAddress: registry.internal:5000
  portRangeStart: 4000
  portRangeEnd: 4100
reconciler:
  tickSeconds: 5
reservations:
  defaultMaxDurationHours: 96
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/corral", cfg.Node.DataDir)
	assert.Equal(t, "registry.internal:5000", cfg.Docker.RegistryAddress)
	assert.Equal(t, 4000, cfg.Docker.PortRangeStart)
	assert.Equal(t, 4100, cfg.Docker.PortRangeEnd)
	assert.Equal(t, 5, cfg.Reconciler.TickSeconds)
	assert.Equal(t, 96, cfg.Reservations.DefaultMaxDurationHours)
	// Untouched sections keep their defaults.
	assert.Equal(t, 6, cfg.Reconciler.SweepEveryNTicks)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "node: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Node.ServerName = "ml-01"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "missing server name",
			mutate:  func(cfg *Config) { cfg.Node.ServerName = "" },
			wantErr: "serverName",
		},
		{
			name:    "missing data dir",
			mutate:  func(cfg *Config) { cfg.Node.DataDir = "" },
			wantErr: "dataDir",
		},
		{
			name:    "inverted port range",
			mutate:  func(cfg *Config) { cfg.Docker.PortRangeEnd = cfg.Docker.PortRangeStart },
			wantErr: "port range",
		},
		{
			name:    "zero tick",
			mutate:  func(cfg *Config) { cfg.Reconciler.TickSeconds = 0 },
			wantErr: "tickSeconds",
		},
		{
			name: "max duration below minimum",
			mutate: func(cfg *Config) {
				cfg.Reservations.DefaultMinDurationHours = 10
				cfg.Reservations.DefaultMaxDurationHours = 5
			},
			wantErr: "defaultMaxDurationHours",
		},
		{
			name: "email enabled without host",
			mutate: func(cfg *Config) {
				cfg.Email.Enabled = true
			},
			wantErr: "smtpHost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
