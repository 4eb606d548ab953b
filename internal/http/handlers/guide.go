package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airwavetv/airwave/internal/epg"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/pkg/xmltv"
)

// GuideSource projects the programme guide.
type GuideSource interface {
	Guide(ctx context.Context, now time.Time) ([]epg.ChannelGuide, error)
}

// GuideHandler serves the XMLTV guide document.
type GuideHandler struct {
	guide  GuideSource
	base   func(*http.Request) string
	logger *slog.Logger
}

// NewGuideHandler creates a guide handler.
func NewGuideHandler(guide GuideSource, base func(*http.Request) string, logger *slog.Logger) *GuideHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuideHandler{
		guide:  guide,
		base:   base,
		logger: observability.WithComponent(logger, "guide"),
	}
}

// Register mounts the guide routes. Both paths serve the same document
// so HDHomeRun and IPTV clients find it where they expect.
func (h *GuideHandler) Register(r chi.Router) {
	r.Get("/iptv/xmltv.xml", h.XMLTV)
	r.Get("/hdhomerun/epg", h.XMLTV)
}

// XMLTV streams the guide for all enabled channels.
func (h *GuideHandler) XMLTV(w http.ResponseWriter, r *http.Request) {
	guides, err := h.guide.Guide(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("projecting guide", "error", err)
		http.Error(w, "projecting guide", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	writer := xmltv.NewWriter(w)

	for _, guide := range guides {
		channel := guide.Channel
		ch := &xmltv.Channel{
			ID:           channel.Number,
			DisplayNames: []string{channel.Number, channel.GuideName()},
			Icon:         channel.LogoURL,
		}
		if err := writer.WriteChannel(ch); err != nil {
			return
		}
	}

	for _, guide := range guides {
		for _, prog := range guide.Programmes {
			out := &xmltv.Programme{
				Start:       prog.Start,
				Stop:        prog.Stop,
				Channel:     guide.Channel.Number,
				Title:       prog.Title,
				SubTitle:    prog.SubTitle,
				Description: prog.Description,
				Categories:  prog.Categories,
				Icon:        prog.IconURL,
				Season:      prog.Season,
				Episode:     prog.Episode,
				AirDate:     prog.AirDate,
			}
			if err := writer.WriteProgramme(out); err != nil {
				return
			}
		}
	}

	_ = writer.WriteFooter()
}
