package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Game configuration
	Game GameConfig `json:"game"`

	// Player memory configuration
	Memory MemoryConfig `json:"memory"`

	// Console narrator configuration
	Narrator NarratorConfig `json:"narrator"`

	// Reverse geocoder configuration
	Geocoder GeocoderConfig `json:"geocoder"`

	// Analytics configuration
	Analytics AnalyticsConfig `json:"analytics"`
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	// Server port
	Port string `json:"port" env:"ROSHAMBO_PORT"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level" env:"ROSHAMBO_LOG_LEVEL"`

	// Public URL encoded in the share QR code
	PublicURL string `json:"public_url" env:"ROSHAMBO_PUBLIC_URL"`

	// Directory holding the browser front end
	StaticDir string `json:"static_dir" env:"ROSHAMBO_STATIC_DIR"`

	// Idle minutes before a player's in-memory session is dropped
	SessionIdleMinutes int `json:"session_idle_minutes" env:"ROSHAMBO_SESSION_IDLE_MINUTES"`
}

// GameConfig holds game specific configuration
type GameConfig struct {
	// Wins needed to end the game
	WinTarget int `json:"win_target" env:"ROSHAMBO_WIN_TARGET"`

	// Delay between the reboot request and the actual reset
	RebootDelayMs int `json:"reboot_delay_ms" env:"ROSHAMBO_REBOOT_DELAY_MS"`

	// How long to wait for the browser to answer a permission request
	PermissionTimeoutSeconds int `json:"permission_timeout_seconds" env:"ROSHAMBO_PERMISSION_TIMEOUT_SECONDS"`

	// Optional YAML content pack replacing the built-in dialogue
	DialoguePath string `json:"dialogue_path" env:"ROSHAMBO_DIALOGUE_PATH"`
}

// MemoryConfig holds player memory storage configuration
type MemoryConfig struct {
	// Backend driver (sqlite3, file, memory)
	Driver string `json:"driver" env:"ROSHAMBO_MEMORY_DRIVER"`

	// Database connection string for sqlite3
	DSN string `json:"dsn" env:"ROSHAMBO_MEMORY_DSN"`

	// Directory for the file driver
	Dir string `json:"dir" env:"ROSHAMBO_MEMORY_DIR"`
}

// NarratorConfig holds console narrator configuration
type NarratorConfig struct {
	Enabled bool `json:"enabled" env:"ROSHAMBO_NARRATOR_ENABLED"`

	// Ambient message intervals per tier
	IrritatedIntervalMs int `json:"irritated_interval_ms"`
	UnstableIntervalMs  int `json:"unstable_interval_ms"`

	// Meltdown flood delay bounds
	FloodMinMs int `json:"flood_min_ms"`
	FloodMaxMs int `json:"flood_max_ms"`

	// Messages kept per player before the oldest are dropped
	BufferSize int `json:"buffer_size"`
}

// GeocoderConfig holds reverse geocoding configuration
type GeocoderConfig struct {
	Enabled        bool   `json:"enabled" env:"ROSHAMBO_GEOCODER_ENABLED"`
	BaseURL        string `json:"base_url" env:"ROSHAMBO_GEOCODER_URL"`
	UserAgent      string `json:"user_agent"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AnalyticsConfig holds telemetry configuration
type AnalyticsConfig struct {
	Enabled bool `json:"enabled" env:"ROSHAMBO_ANALYTICS_ENABLED"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:               "8080",
			LogLevel:           "info",
			PublicURL:          "http://localhost:8080/",
			StaticDir:          "./web",
			SessionIdleMinutes: 120,
		},
		Game: GameConfig{
			WinTarget:                5,
			RebootDelayMs:            1500,
			PermissionTimeoutSeconds: 60,
		},
		Memory: MemoryConfig{
			Driver: "sqlite3",
			DSN:    "./data/roshambo.db",
			Dir:    "./data/memory",
		},
		Narrator: NarratorConfig{
			Enabled:             true,
			IrritatedIntervalMs: 15000,
			UnstableIntervalMs:  8000,
			FloodMinMs:          1500,
			FloodMaxMs:          3500,
			BufferSize:          64,
		},
		Geocoder: GeocoderConfig{
			Enabled:        true,
			BaseURL:        "https://nominatim.openstreetmap.org/reverse",
			UserAgent:      "RO-SHAM-BO.EXE/1.0",
			TimeoutSeconds: 10,
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
		},
	}
}

// RebootDelay returns the reboot delay as a duration
func (g GameConfig) RebootDelay() time.Duration {
	return time.Duration(g.RebootDelayMs) * time.Millisecond
}

// PermissionTimeout returns the permission await limit as a duration
func (g GameConfig) PermissionTimeout() time.Duration {
	return time.Duration(g.PermissionTimeoutSeconds) * time.Second
}

// LoadConfig loads configuration from a file, then applies environment overrides
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return config, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Create default config file
		if err := SaveConfig(config, path); err != nil {
			return config, err
		}
		return config, ParseEnv(&config)
	}

	// Read config file
	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, ParseEnv(&config)
}

// SaveConfig saves configuration to a file
func SaveConfig(config Config, path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Create or truncate file
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Write config to file
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return err
	}

	return nil
}

// ParseEnv overlays ROSHAMBO_* environment variables onto target
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
