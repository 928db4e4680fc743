package mpv

import (
	"context"
	"encoding/json"

	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
)

// Sink publishes committed menu trees into a shared property slot on the
// player, where OSD scripts pick them up, and forwards show requests to the
// announced renderer channel.
type Sink struct {
	client *Client
	slot   string
	logger logging.Logger
}

// NewSink creates a sink writing to the given shared slot.
func NewSink(client *Client, slot string, logger logging.Logger) *Sink {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Sink{
		client: client,
		slot:   slot,
		logger: logger.WithComponent("mpv-sink"),
	}
}

// Publish writes the tree into the shared slot.
func (s *Sink) Publish(items []*menu.Item) {
	doc, err := json.Marshal(items)
	if err != nil {
		s.logger.Error(context.Background(), err, "tree unencodable, publish skipped")
		return
	}
	if err := s.client.SetShared(s.slot, doc); err != nil {
		s.logger.Warn(context.Background(), err, "shared slot write failed", "slot", s.slot)
	}
}

// Show asks the announced renderer to display the menu. Without a renderer
// there is nobody to tell.
func (s *Sink) Show(renderer string) {
	if renderer == "" {
		s.logger.Debug(context.Background(), "show requested with no renderer announced")
		return
	}
	if err := s.client.Message(renderer, "menu", "show"); err != nil {
		s.logger.Warn(context.Background(), err, "show message failed", "renderer", renderer)
	}
}
