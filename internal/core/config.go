package core

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/petitmarche/internal/backend/cache"
	"github.com/jo-hoe/petitmarche/internal/backend/commands"
	"github.com/jo-hoe/petitmarche/internal/backend/storage"
	"github.com/jo-hoe/petitmarche/internal/intake"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 8080
	DefaultSignedURLTTL = 15 * time.Minute
	DefaultMaxDimension = 1200
)

// CommandConfig represents a generic command configuration
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type IntakeConfig struct {
	MaxImages     int             `yaml:"maxImages"`
	MaxWidth      int             `yaml:"maxWidth"`
	MaxHeight     int             `yaml:"maxHeight"`
	Quality       int             `yaml:"quality"`
	DecodeTimeout time.Duration   `yaml:"decodeTimeout"`
	DraftTTL      time.Duration   `yaml:"draftTTL"`
	Concurrency   int             `yaml:"concurrency"`
	Commands      []CommandConfig `yaml:"commands"`
}

type ServiceConfig struct {
	Port         int            `yaml:"port"`
	LogLevel     string         `yaml:"logLevel"`
	Database     Database       `yaml:"database"`
	Storage      storage.Config `yaml:"storage"`
	Cache        cache.Config   `yaml:"cache"`
	SignedURLTTL time.Duration  `yaml:"signedURLTTL"`
	Intake       IntakeConfig   `yaml:"intake"`
}

// LoadConfig loads configuration from the specified YAML file. ${VAR} references are
// expanded from the environment before parsing.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()

	// Validate commands
	if err := validateCommands(config.Intake.Commands); err != nil {
		return nil, fmt.Errorf("invalid command configuration: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// NewDefaultConfig returns a configuration with every default applied: in-memory SQLite,
// local object storage settings left empty and no URL cache.
func NewDefaultConfig() *ServiceConfig {
	config := &ServiceConfig{}
	config.applyDefaults()
	return config
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = ":memory:"
	}
	if c.SignedURLTTL == 0 {
		c.SignedURLTTL = DefaultSignedURLTTL
	}
	if c.Intake.MaxImages == 0 {
		c.Intake.MaxImages = intake.DefaultMaxImages
	}
	if c.Intake.MaxWidth == 0 {
		c.Intake.MaxWidth = DefaultMaxDimension
	}
	if c.Intake.MaxHeight == 0 {
		c.Intake.MaxHeight = DefaultMaxDimension
	}
	if c.Intake.Quality == 0 {
		c.Intake.Quality = commands.DefaultJpegQuality
	}
	if c.Intake.DecodeTimeout == 0 {
		c.Intake.DecodeTimeout = intake.DefaultDecodeTimeout
	}
	if c.Intake.DraftTTL == 0 {
		c.Intake.DraftTTL = intake.DefaultDraftTTL
	}
	if len(c.Intake.Commands) == 0 {
		c.Intake.Commands = []CommandConfig{{
			Name: "ResizeCommand",
			Params: map[string]any{
				"maxWidth":  c.Intake.MaxWidth,
				"maxHeight": c.Intake.MaxHeight,
				"quality":   c.Intake.Quality,
			},
		}}
	}
}

func (c *ServiceConfig) validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Intake.MaxImages < 0 || c.Intake.MaxWidth < 0 || c.Intake.MaxHeight < 0 {
		return fmt.Errorf("intake bounds must be positive")
	}
	if c.Intake.Quality < 1 || c.Intake.Quality > 100 {
		return fmt.Errorf("intake quality must be within 1..100, got %d", c.Intake.Quality)
	}
	if c.Intake.Concurrency < 0 {
		return fmt.Errorf("intake concurrency must not be negative")
	}
	if c.SignedURLTTL < 0 || c.Intake.DecodeTimeout < 0 || c.Intake.DraftTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}

// SlogLevel returns the configured log level, falling back to info
func (c *ServiceConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
