package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
role: coordinator
relation: jenkins-agents
state_dir: /tmp/relay
log:
  level: debug
  json: true
coordinator:
  address: 10.0.0.5
  password: hunter2
  retries: 3
  retry_delay: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.RoleCoordinator, cfg.Role)
	assert.Equal(t, "jenkins-agents", cfg.Relation)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 3, cfg.Coordinator.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.RetryDelay)
	// Unset values keep their defaults.
	assert.Equal(t, "admin", cfg.Coordinator.Username)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.Timeout)
	assert.Equal(t, "http://10.0.0.5:8080/", cfg.CoordinatorURL())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: [unclosed"), 0644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestCoordinatorURLOverride(t *testing.T) {
	cfg := Default()
	cfg.Coordinator.URL = "https://jenkins.example.com"
	assert.Equal(t, "https://jenkins.example.com/", cfg.CoordinatorURL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid coordinator", mutate: func(c *Config) { c.Coordinator.Address = "10.0.0.1" }},
		{name: "worker needs no address", mutate: func(c *Config) { c.Role = types.RoleWorker }},
		{name: "coordinator without address", mutate: func(c *Config) {}, wantErr: true},
		{name: "bad role", mutate: func(c *Config) { c.Role = "leader" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Role = types.RoleWorker; c.Log.Level = "trace" }, wantErr: true},
		{name: "empty relation", mutate: func(c *Config) { c.Role = types.RoleWorker; c.Relation = "" }, wantErr: true},
		{
			name: "negative retries",
			mutate: func(c *Config) {
				c.Coordinator.Address = "10.0.0.1"
				c.Coordinator.Retries = -1
			},
			wantErr: true,
		},
		{
			name: "address with scheme",
			mutate: func(c *Config) {
				c.Coordinator.Address = "http://10.0.0.1"
			},
			wantErr: true,
		},
		{
			name: "ipv6 address",
			mutate: func(c *Config) {
				c.Coordinator.Address = "fd00::1"
			},
		},
		{
			name: "no home and no password",
			mutate: func(c *Config) {
				c.Coordinator.Address = "10.0.0.1"
				c.Coordinator.Home = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
