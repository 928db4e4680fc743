// Package config provides configuration management for the menu engine using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the MPVMENU_ prefix, and a validation pass. It covers the
// player connection (IPC socket, key-binding config path, shared publish
// slot), the renderer websocket endpoint, and the menu composition options
// (alternate syntax, title budget, playlist cap).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Player Player `yaml:"player"`
	Server Server `yaml:"server"`
	Menu   Menu   `yaml:"menu"`
	Engine Engine `yaml:"engine"`
	Log    Log    `yaml:"log"`
}

type Player struct {
	Socket     string `yaml:"socket"`
	Conf       string `yaml:"conf"`
	SharedSlot string `yaml:"shared_slot"`
}

type Server struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Menu struct {
	// AlternateSyntax enables "#!" titles and "---" separators.
	AlternateSyntax bool `yaml:"alternate_syntax"`
	// MaxTitleLength is a rune budget for generated titles, 0 = unlimited.
	MaxTitleLength int `yaml:"max_title_length"`
	// MaxPlaylistItems caps the playlist submenu, 0 = unlimited.
	MaxPlaylistItems int `yaml:"max_playlist_items"`
}

type Engine struct {
	SettleInterval time.Duration `yaml:"settle_interval"`
}

// MarshalYAML renders the settle interval as a duration string ("100ms")
// rather than raw nanoseconds, so scaffolded config files stay readable.
func (e Engine) MarshalYAML() (any, error) {
	return struct {
		SettleInterval string `yaml:"settle_interval"`
	}{SettleInterval: e.SettleInterval.String()}, nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Player: Player{
			Socket:     "/tmp/mpv.sock",
			Conf:       "~/.config/mpv/input.conf",
			SharedSlot: "user-data/menu/items",
		},
		Server: Server{
			Port: 8097,
			Host: "localhost",
		},
		Menu: Menu{
			MaxTitleLength:   80,
			MaxPlaylistItems: 20,
		},
		Engine: Engine{
			SettleInterval: 100 * time.Millisecond,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration from viper's merged sources.
func Load() (*Config, error) {
	config := Default()
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	// Workarounds for viper's handling of nested values set via flags.
	if viper.IsSet("player.socket") {
		config.Player.Socket = viper.GetString("player.socket")
	}
	if viper.IsSet("player.conf") {
		config.Player.Conf = viper.GetString("player.conf")
	}
	if viper.IsSet("player.shared_slot") {
		config.Player.SharedSlot = viper.GetString("player.shared_slot")
	}
	if viper.IsSet("server.port") {
		config.Server.Port = viper.GetInt("server.port")
	}
	if viper.IsSet("server.host") {
		config.Server.Host = viper.GetString("server.host")
	}
	if viper.IsSet("server.allowed_origins") {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}
	if viper.IsSet("menu.alternate_syntax") {
		config.Menu.AlternateSyntax = viper.GetBool("menu.alternate_syntax")
	}
	if viper.IsSet("menu.max_title_length") {
		config.Menu.MaxTitleLength = viper.GetInt("menu.max_title_length")
	}
	if viper.IsSet("menu.max_playlist_items") {
		config.Menu.MaxPlaylistItems = viper.GetInt("menu.max_playlist_items")
	}
	if viper.IsSet("engine.settle_interval") {
		config.Engine.SettleInterval = viper.GetDuration("engine.settle_interval")
	}
	if viper.IsSet("log.level") {
		config.Log.Level = viper.GetString("log.level")
	}
	if viper.IsSet("log.format") {
		config.Log.Format = viper.GetString("log.format")
	}

	if config.Engine.SettleInterval <= 0 {
		config.Engine.SettleInterval = 100 * time.Millisecond
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates configuration values for security and correctness.
func validateConfig(config *Config) error {
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateMenu(&config.Menu); err != nil {
		return fmt.Errorf("menu config: %w", err)
	}

	if config.Player.Conf == "" {
		return fmt.Errorf("player config: conf path is empty")
	}
	if config.Player.SharedSlot == "" {
		return fmt.Errorf("player config: shared_slot is empty")
	}
	if err := validatePath(config.Player.Conf); err != nil {
		return fmt.Errorf("player config: invalid conf path %q: %w", config.Player.Conf, err)
	}

	switch config.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log config: format %q is not one of text, json", config.Log.Format)
	}

	return nil
}

func validateServer(config *Server) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateMenu(config *Menu) error {
	if config.MaxTitleLength < 0 {
		return fmt.Errorf("max_title_length must be >= 0, got %d", config.MaxTitleLength)
	}
	if config.MaxPlaylistItems < 0 {
		return fmt.Errorf("max_playlist_items must be >= 0, got %d", config.MaxPlaylistItems)
	}

	return nil
}

// validatePath validates a file path for dangerous patterns. Home-relative
// paths ("~/...") are allowed, traversal is not.
func validatePath(path string) error {
	cleanPath := filepath.Clean(strings.TrimPrefix(path, "~"))

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\""}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
