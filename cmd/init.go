package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Youxikong/mpv-menu-plugin/internal/config"
	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a .mpvmenu.yml with the default configuration so every knob
is visible and documented by example.

Examples:
  mpv-menu init                   # Write .mpvmenu.yml in the current directory
  mpv-menu init --force           # Overwrite an existing file`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
	initCmd.Flags().StringP("output", "o", ".mpvmenu.yml", "path to write")
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			path+" already exists, use --force to overwrite")
	}

	doc, err := yaml.Marshal(config.Default())
	if err != nil {
		return errors.NewInternalError("default config unencodable", err)
	}

	header := []byte("# mpv-menu configuration. Every value shown is the default.\n")
	if err := os.WriteFile(path, append(header, doc...), 0o644); err != nil {
		return errors.NewResourceError("config not writable: "+path, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
	return nil
}
