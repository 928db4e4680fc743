package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mpv.sock", cfg.Player.Socket)
	assert.Equal(t, "user-data/menu/items", cfg.Player.SharedSlot)
	assert.Equal(t, 8097, cfg.Server.Port)
	assert.False(t, cfg.Menu.AlternateSyntax)
	assert.Equal(t, 80, cfg.Menu.MaxTitleLength)
	assert.Equal(t, 20, cfg.Menu.MaxPlaylistItems)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.SettleInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("player.socket", "/run/user/1000/mpv.sock")
	viper.Set("menu.alternate_syntax", true)
	viper.Set("menu.max_title_length", 0)
	viper.Set("menu.max_playlist_items", 5)
	viper.Set("engine.settle_interval", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/run/user/1000/mpv.sock", cfg.Player.Socket)
	assert.True(t, cfg.Menu.AlternateSyntax)
	assert.Equal(t, 0, cfg.Menu.MaxTitleLength)
	assert.Equal(t, 5, cfg.Menu.MaxPlaylistItems)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.SettleInterval)
}

func TestDefaultMarshalsReadableDuration(t *testing.T) {
	doc, err := yaml.Marshal(Default())
	require.NoError(t, err)

	assert.Contains(t, string(doc), "settle_interval: 100ms")
	assert.NotContains(t, string(doc), "settle_interval: 100000000")
}

func TestValidationRejectsBadPort(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("server.port", 99999)

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestValidationRejectsNegativeBudgets(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("menu.max_title_length", -1)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidationRejectsTraversalConfPath(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("player.conf", "../../etc/passwd")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
}

func TestValidationRejectsDangerousHost(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("server.host", "localhost;rm -rf")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidationRejectsUnknownLogFormat(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("log.format", "xml")

	_, err := Load()
	assert.Error(t, err)
}

func TestHomeRelativeConfAllowed(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("player.conf", "~/.config/mpv/input.conf")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "~/.config/mpv/input.conf", cfg.Player.Conf)
}
