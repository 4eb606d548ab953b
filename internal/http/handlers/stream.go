package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/stream"
)

// streamIdleTimeout bounds how long a client connection may sit with
// no bytes flowing before it is dropped.
const streamIdleTimeout = 60 * time.Second

// SessionOpener attaches and detaches client sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, number, remoteAddr, userAgent string) (*stream.Session, error)
	CloseSession(session *stream.Session)
}

// StreamHandler serves live channel streams.
type StreamHandler struct {
	manager SessionOpener
	base    func(*http.Request) string
	logger  *slog.Logger
}

// NewStreamHandler creates a stream handler. base resolves the public
// base URL for playlist indirection.
func NewStreamHandler(manager SessionOpener, base func(*http.Request) string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		manager: manager,
		base:    base,
		logger:  observability.WithComponent(logger, "stream-http"),
	}
}

// Register mounts the streaming routes.
func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/auto/v{number}", h.Serve)
	r.Get("/iptv/channel/{number}", h.Serve)
}

// Serve tunes the client into a channel. The channel number may carry
// a .ts or .m3u8 extension; .m3u8 answers with a one-entry playlist
// pointing at the raw transport stream.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "number")
	number := strings.TrimSuffix(strings.TrimSuffix(raw, ".ts"), ".m3u8")
	if number == "" {
		http.NotFound(w, r)
		return
	}

	if strings.HasSuffix(raw, ".m3u8") {
		h.servePlaylist(w, r, number)
		return
	}

	session, err := h.manager.OpenSession(r.Context(), number, r.RemoteAddr, r.UserAgent())
	switch {
	case errors.Is(err, stream.ErrChannelNotFound), errors.Is(err, stream.ErrChannelDisabled):
		http.NotFound(w, r)
		return
	case errors.Is(err, stream.ErrChannelSaturated):
		http.Error(w, "channel at capacity", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("opening session", "channel", number, "error", err)
		http.Error(w, "tuning failed", http.StatusInternalServerError)
		return
	}
	defer h.manager.CloseSession(session)

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	sink := &flushingWriter{w: w, rc: rc, session: session}
	n, err := session.Reader().WriteTo(r.Context(), sink, streamIdleTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("stream ended",
			"channel", number,
			"session", session.ID,
			"bytes", n,
			"reason", err)
	}
}

// servePlaylist answers .m3u8 requests with a single-entry playlist so
// HLS-leaning players still reach the transport stream.
func (h *StreamHandler) servePlaylist(w http.ResponseWriter, r *http.Request, number string) {
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintf(w, "#EXTM3U\n#EXTINF:-1,%s\n%s/iptv/channel/%s.ts\n", number, h.base(r), number)
}

// flushingWriter flushes after every chunk so transport stream bytes
// reach the decoder without buffering, and marks session liveness.
type flushingWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	session *stream.Session
}

func (fw *flushingWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	fw.session.Touch()
	_ = fw.rc.Flush()
	return n, nil
}
