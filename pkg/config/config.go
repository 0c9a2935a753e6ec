package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/management"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config holds the relay configuration
type Config struct {
	Role     types.Role `yaml:"role"`
	Relation string     `yaml:"relation"`
	StateDir string     `yaml:"state_dir"`

	Log         LogConfig         `yaml:"log"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Serve       ServeConfig       `yaml:"serve"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CoordinatorConfig configures the coordinator side
type CoordinatorConfig struct {
	Address           string        `yaml:"address"` // private address advertised to workers
	URL               string        `yaml:"url"`     // overrides http://<address>:8080/
	Home              string        `yaml:"home"`    // holds .admin_password
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ManageCredentials bool          `yaml:"manage_credentials"`
	RemoteFS          string        `yaml:"remote_fs"`
	Retries           int           `yaml:"retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ServeConfig configures the long-running event endpoint
type ServeConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Role:     types.RoleCoordinator,
		Relation: "jenkins-slave",
		StateDir: "/var/lib/jenkins-relay",
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Coordinator: CoordinatorConfig{
			Home:              "/var/lib/jenkins",
			Username:          "admin",
			ManageCredentials: true,
			RemoteFS:          "/var/lib/jenkins",
			Retries:           management.DefaultRetries,
			RetryDelay:        management.DefaultRetryDelay,
			Timeout:           management.DefaultTimeout,
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:9180",
		},
	}
}

// LoadFile reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// CoordinatorURL is the URL advertised to workers and used for the
// management API.
func (c *Config) CoordinatorURL() string {
	if c.Coordinator.URL != "" {
		u := c.Coordinator.URL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		return u
	}
	return management.BaseURL(c.Coordinator.Address)
}

// Validate checks the configuration for the selected role
func (c *Config) Validate() error {
	switch c.Role {
	case types.RoleCoordinator, types.RoleWorker:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", types.RoleCoordinator, types.RoleWorker, c.Role)
	}
	if c.Relation == "" {
		return fmt.Errorf("relation is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}

	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	if c.Role == types.RoleCoordinator {
		if err := c.Coordinator.validate(); err != nil {
			return fmt.Errorf("coordinator: %w", err)
		}
	}
	return nil
}

func (c *CoordinatorConfig) validate() error {
	if c.URL == "" {
		if c.Address == "" {
			return fmt.Errorf("address or url is required")
		}
		if strings.ContainsAny(c.Address, "/:") && net.ParseIP(c.Address) == nil {
			return fmt.Errorf("address must be a host name or IP, got %q", c.Address)
		}
	}
	if c.Home == "" && c.Password == "" {
		return fmt.Errorf("home is required when no password is configured")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
