package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Youxikong/mpv-menu-plugin/internal/config"
	"github.com/Youxikong/mpv-menu-plugin/internal/confwatch"
	"github.com/Youxikong/mpv-menu-plugin/internal/engine"
	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
	"github.com/Youxikong/mpv-menu-plugin/internal/mpv"
	"github.com/Youxikong/mpv-menu-plugin/internal/protocol"
	"github.com/Youxikong/mpv-menu-plugin/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the player and serve the menu",
	Long: `Connect to the player's IPC socket, compose the menu from input.conf,
and keep it current: property changes re-run exactly the affected bindings,
edits to input.conf reload the tree, and committed trees are published to
the shared property slot and to websocket clients.

Examples:
  mpv-menu serve                          # Use .mpvmenu.yml / defaults
  mpv-menu serve --socket /tmp/mpv.sock   # Explicit player socket
  mpv-menu serve --port 9000              # Websocket port`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("socket", "", "player IPC socket path")
	serveCmd.Flags().String("conf", "", "menu config file (input.conf)")
	serveCmd.Flags().IntP("port", "p", 8097, "websocket port to serve on")
	serveCmd.Flags().String("host", "localhost", "host to bind to")

	_ = viper.BindPFlag("player.socket", serveCmd.Flags().Lookup("socket"))
	_ = viper.BindPFlag("player.conf", serveCmd.Flags().Lookup("conf"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mpv.Dial(ctx, cfg.Player.Socket, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	confPath := expandHome(cfg.Player.Conf)
	confText, err := os.ReadFile(confPath)
	if err != nil {
		rerr := errors.NewResourceError("menu config unreadable: "+confPath, err)
		// Surface the failure on the player's OSD before giving up.
		_ = client.ShowText("menu: "+rerr.Error(), 5000)
		return rerr
	}

	eng := engine.New(client, engine.Options{
		AltSyntax:        cfg.Menu.AlternateSyntax,
		MaxTitleLength:   cfg.Menu.MaxTitleLength,
		MaxPlaylistItems: cfg.Menu.MaxPlaylistItems,
		SettleInterval:   cfg.Engine.SettleInterval,
	}, logger)

	hub := server.NewHub(cfg.Server, eng, logger)
	eng.AddSink(mpv.NewSink(client, cfg.Player.SharedSlot, logger))
	eng.AddSink(hub)
	eng.Load(string(confText))

	watcher, err := confwatch.New(confPath, 300*time.Millisecond, logger)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()
	watcher.AddHandler(eng.Reload)
	watcher.Start(ctx)

	go eng.Run(ctx)
	go pumpEvents(ctx, client, eng, logger)

	logger.Info(ctx, "serving menu",
		"socket", cfg.Player.Socket, "conf", confPath, "slot", cfg.Player.SharedSlot)

	return hub.Listen(ctx)
}

// menuChannel is the script-message channel the engine answers on.
const menuChannel = "menu"

// pumpEvents translates player events into engine notifications. Script
// messages on the menu channel carry protocol requests; replies go back to
// the sender's channel.
func pumpEvents(ctx context.Context, client *mpv.Client, eng *engine.Engine, logger logging.Logger) {
	for ev := range client.Events() {
		switch ev.Kind {
		case "property-change":
			eng.NotifyProperty(ev.Name, ev.Data)

		case "client-message":
			req, ok := messageRequest(ev.Args)
			if !ok {
				continue
			}
			resp := eng.Do(ctx, req)
			if req.From == "" {
				continue
			}
			doc, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			if err := client.Message(req.From, menuChannel, string(doc)); err != nil {
				logger.Warn(ctx, err, "reply undeliverable", "to", req.From)
			}

		case "shutdown":
			logger.Info(ctx, "player shut down")
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// messageRequest decodes a script message into a protocol request. The
// payload is either a JSON request document or a bare request type, e.g.
// ["menu", "show"].
func messageRequest(args []string) (protocol.Request, bool) {
	if len(args) < 2 || args[0] != menuChannel {
		return protocol.Request{}, false
	}

	payload := args[1]
	if strings.HasPrefix(payload, "{") {
		req, err := protocol.ParseRequest([]byte(payload))
		if err != nil {
			return protocol.Request{}, false
		}
		return req, true
	}

	req := protocol.Request{Type: payload}
	if len(args) > 2 {
		req.Keyword = args[2]
	}
	if len(args) > 3 {
		req.From = args[3]
	}
	return req, true
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
