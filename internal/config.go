package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/compact"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Sync    SyncConfig        `yaml:"sync"`
	Compact CompactConfig     `yaml:"compact"`
	GC      compact.GCConfig  `yaml:"gc"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Compact.Validate(); err != nil {
		return err
	}
	if err := c.GC.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SyncConfig locates the cloud-synced directory this instance replicates
// through, and the per-device instance file that holds the writer ID.
// InstanceFile must live outside the sync directory: it is the one piece
// of state that must never replicate between devices.
type SyncConfig struct {
	Dir          string `yaml:"dir"`
	InstanceFile string `yaml:"instance_file"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.InstanceFile, validation.Required),
	)
}

// CompactConfig holds the background compaction policy and loop interval.
type CompactConfig struct {
	// MinUpdates is the raw-update count above which a document becomes
	// a snapshot candidate.
	MinUpdates int `yaml:"min_updates"`
	// MinInterval is the minimum age of the newest snapshot before
	// another one is taken.
	MinInterval time.Duration `yaml:"min_interval"`
	// SweepInterval is how often the background loop re-examines open
	// documents.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the compaction configuration.
func (c *CompactConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinUpdates, validation.Required, validation.Min(2)),
		validation.Field(&c.MinInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
}

// Policy converts the config into the compactor's policy input.
func (c *CompactConfig) Policy() compact.Policy {
	return compact.Policy{
		MinUpdates:  c.MinUpdates,
		MinInterval: c.MinInterval,
	}
}

// AuthConfig holds authentication configuration for the diagnostics API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Sync: SyncConfig{
			Dir:          "./sync",
			InstanceFile: "./instance.id",
		},
		Compact: CompactConfig{
			MinUpdates:    50,
			MinInterval:   10 * time.Minute,
			SweepInterval: time.Minute,
		},
		GC: compact.GCConfig{
			KeepSnapshots: 2,
			MinAge:        24 * time.Hour,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
