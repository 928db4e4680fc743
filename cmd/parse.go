package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Youxikong/mpv-menu-plugin/internal/config"
	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/parser"
)

var parseCmd = &cobra.Command{
	Use:   "parse [input.conf]",
	Short: "Parse a menu config and dump the tree as JSON",
	Long: `Parse an input.conf file into a menu tree and print it as JSON,
without connecting to a player. Dynamic items keep their directive keywords
so the output shows which submenus would be built at runtime.

Examples:
  mpv-menu parse                  # Parse the configured input.conf
  mpv-menu parse custom.conf      # Parse an explicit file
  mpv-menu parse --alt custom.conf`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().Bool("alt", false, "enable alternate syntax (#! titles, --- separators)")
	_ = viper.BindPFlag("menu.alternate_syntax", parseCmd.Flags().Lookup("alt"))
}

// parseDump is the JSON document printed by the parse command.
type parseDump struct {
	Items      []*menu.Item    `json:"items"`
	Directives []directiveDump `json:"directives,omitempty"`
	Skipped    int             `json:"skipped,omitempty"`
}

type directiveDump struct {
	Title   string `json:"title"`
	Keyword string `json:"keyword"`
	Line    int    `json:"line"`
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := expandHome(cfg.Player.Conf)
	if len(args) > 0 {
		path = args[0]
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return errors.NewResourceError("menu config unreadable: "+path, err)
	}

	p := parser.New(parser.Options{AltSyntax: cfg.Menu.AlternateSyntax}, newLogger(cfg))
	res := p.Parse(string(text))

	dump := parseDump{Items: res.Items, Skipped: res.Skipped}
	for _, d := range res.Directives {
		title, _ := menu.SplitHint(d.Item.Title)
		dump.Directives = append(dump.Directives, directiveDump{
			Title:   title,
			Keyword: d.Raw,
			Line:    d.Line,
		})
	}

	out, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return errors.NewInternalError("tree unencodable", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
