// Package cmd provides the command-line interface for mpv-menu with
// configuration management supporting multiple sources.
//
// Configuration System:
//
//	Configuration is resolved from multiple sources with clear precedence:
//	1. Command-line flags (--config, --socket, etc.) - highest priority
//	2. MPVMENU_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (MPVMENU_SERVER_PORT, etc.)
//	4. Configuration files (.mpvmenu.yml) - lowest priority
//
// Environment Variables:
//
//	MPVMENU_CONFIG_FILE: Path to custom configuration file
//	MPVMENU_PLAYER_SOCKET: Override the player IPC socket path
//	MPVMENU_SERVER_PORT: Override the websocket server port
//	And more following the MPVMENU_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mpv-menu",
	Short: "A reactive context menu engine for mpv",
	Long: `mpv-menu composes a context menu for the mpv media player from the
comment syntax embedded in input.conf and keeps it current as the player's
state changes.

Key Features:
  • input.conf comment syntax parsing into a menu tree
  • Dynamic submenus for tracks, chapters, editions, playlist and more
  • State expressions re-evaluated on exactly the properties they read
  • Debounced commits: bursts of player changes publish the tree once
  • Messaging protocol for OSD scripts to inspect and patch the menu
  • Live reload when input.conf changes on disk

Quick Start:
  mpv-menu init                   Write a starter config file
  mpv-menu serve                  Connect to mpv and serve the menu
  mpv-menu parse input.conf       Dump the parsed menu tree as JSON`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .mpvmenu.yml, can also use MPVMENU_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system.
//
// Loading priority (highest to lowest):
//  1. --config flag: explicitly specified config file path
//  2. MPVMENU_CONFIG_FILE environment variable
//  3. Default: .mpvmenu.yml in the current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("MPVMENU_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mpvmenu")
	}

	viper.SetEnvPrefix("MPVMENU")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or broken config file degrades to defaults without failing.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
