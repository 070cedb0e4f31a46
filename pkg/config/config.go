package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the node-level configuration loaded at agent startup.
type Config struct {
	Node         NodeConfig         `yaml:"node"`
	Log          LogConfig          `yaml:"log"`
	Docker       DockerConfig       `yaml:"docker"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Reservations ReservationsConfig `yaml:"reservations"`
	Access       AccessConfig       `yaml:"access"`
	Email        EmailConfig        `yaml:"email"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// NodeConfig identifies this node and its local state directory.
type NodeConfig struct {
	// ServerName must match a computer row in the store. The agent
	// only acts on reservations pinned to that computer.
	ServerName string `yaml:"serverName"`
	DataDir    string `yaml:"dataDir"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DockerConfig carries everything the effector and launcher need.
type DockerConfig struct {
	// RegistryAddress prefixes image names. Empty means images are
	// pulled by their bare name.
	RegistryAddress string `yaml:"registryAddress"`
	PortRangeStart  int    `yaml:"portRangeStart"`
	PortRangeEnd    int    `yaml:"portRangeEnd"`
	MountOwnerUID   int    `yaml:"mountOwnerUID"`
	MountOwnerGID   int    `yaml:"mountOwnerGID"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds"`
}

// ReconcilerConfig tunes the per-node control loop.
type ReconcilerConfig struct {
	TickSeconds        int `yaml:"tickSeconds"`
	SweepEveryNTicks   int `yaml:"sweepEveryNTicks"`
	OrphanGraceMinutes int `yaml:"orphanGraceMinutes"`
}

// ReservationsConfig carries the default policy limits. Role-based
// limits override these at policy merge time.
type ReservationsConfig struct {
	DefaultMinDurationHours int `yaml:"defaultMinDurationHours"`
	DefaultMaxDurationHours int `yaml:"defaultMaxDurationHours"`
	AdminMaxDurationHours   int `yaml:"adminMaxDurationHours"`
	DefaultMaxActive        int `yaml:"defaultMaxActive"`
	AdminMaxActive          int `yaml:"adminMaxActive"`
	MaxExtendHours          int `yaml:"maxExtendHours"`
}

// AccessConfig toggles the email access lists.
type AccessConfig struct {
	WhitelistEnabled bool `yaml:"whitelistEnabled"`
	BlacklistEnabled bool `yaml:"blacklistEnabled"`
}

// EmailConfig configures the outbound mailer.
type EmailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SMTPHost    string `yaml:"smtpHost"`
	SMTPPort    int    `yaml:"smtpPort"`
	From        string `yaml:"from"`
	HelpAddress string `yaml:"helpAddress"`
	ClientURL   string `yaml:"clientURL"`
}

// MetricsConfig sets the metrics and health listen address.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "/var/lib/corral",
		},
		Log: LogConfig{
			Level: "info",
		},
		Docker: DockerConfig{
			PortRangeStart: 2000,
			PortRangeEnd:   3000,
			TimeoutSeconds: 10,
		},
		Reconciler: ReconcilerConfig{
			TickSeconds:        10,
			SweepEveryNTicks:   6,
			OrphanGraceMinutes: 30,
		},
		Reservations: ReservationsConfig{
			DefaultMinDurationHours: 1,
			DefaultMaxDurationHours: 48,
			AdminMaxDurationHours:   1440,
			DefaultMaxActive:        1,
			AdminMaxActive:          99,
			MaxExtendHours:          24,
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Node.ServerName == "" {
		return fmt.Errorf("node.serverName is required; it must match a computer name in the store")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.dataDir is required")
	}
	if c.Docker.PortRangeStart <= 0 || c.Docker.PortRangeEnd <= c.Docker.PortRangeStart {
		return fmt.Errorf("docker port range [%d, %d) is invalid",
			c.Docker.PortRangeStart, c.Docker.PortRangeEnd)
	}
	if c.Docker.TimeoutSeconds <= 0 {
		return fmt.Errorf("docker.timeoutSeconds must be positive")
	}
	if c.Reconciler.TickSeconds <= 0 {
		return fmt.Errorf("reconciler.tickSeconds must be positive")
	}
	if c.Reconciler.SweepEveryNTicks <= 0 {
		return fmt.Errorf("reconciler.sweepEveryNTicks must be positive")
	}
	if c.Reconciler.OrphanGraceMinutes < 0 {
		return fmt.Errorf("reconciler.orphanGraceMinutes must not be negative")
	}
	if c.Reservations.DefaultMinDurationHours <= 0 {
		return fmt.Errorf("reservations.defaultMinDurationHours must be positive")
	}
	if c.Reservations.DefaultMaxDurationHours < c.Reservations.DefaultMinDurationHours {
		return fmt.Errorf("reservations.defaultMaxDurationHours must not be below the minimum duration")
	}
	if c.Email.Enabled && c.Email.SMTPHost == "" {
		return fmt.Errorf("email.smtpHost is required when email is enabled")
	}
	return nil
}
