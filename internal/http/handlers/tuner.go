// Package handlers implements the tuner-facing HTTP routes and the
// status API for airwave.
package handlers

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/pkg/m3u"
)

// TunerHandler serves the HDHomeRun discovery and lineup surface.
type TunerHandler struct {
	server   config.ServerConfig
	hdhr     config.HDHomeRunConfig
	channels repository.ChannelRepository
	logger   *slog.Logger
}

// NewTunerHandler creates a tuner handler.
func NewTunerHandler(server config.ServerConfig, hdhr config.HDHomeRunConfig, channels repository.ChannelRepository, logger *slog.Logger) *TunerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TunerHandler{
		server:   server,
		hdhr:     hdhr,
		channels: channels,
		logger:   observability.WithComponent(logger, "tuner"),
	}
}

// Register mounts the tuner routes.
func (h *TunerHandler) Register(r chi.Router) {
	r.Get("/discover.json", h.Discover)
	r.Get("/lineup.json", h.Lineup)
	r.Get("/lineup_status.json", h.LineupStatus)
	r.Get("/lineup.m3u", h.LineupM3U)
	r.Post("/lineup.post", h.LineupPost)
	r.Get("/device.xml", h.DeviceXML)
}

// discoverResponse mirrors the HDHomeRun discover document. Clients
// match on these fields, so names and casing are fixed.
type discoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	GuideURL        string `json:"GuideURL"`
	TunerCount      int    `json:"TunerCount"`
}

// lineupEntry is one channel in the HDHomeRun lineup document.
type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
	HD          int    `json:"HD"`
}

// Discover serves the device discovery document.
func (h *TunerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	base := h.BaseURL(r)
	writeJSON(w, http.StatusOK, discoverResponse{
		FriendlyName:    h.hdhr.FriendlyName,
		Manufacturer:    "Silicondust",
		ModelNumber:     "HDTC-2US",
		FirmwareName:    "hdhomeruntc_atsc",
		FirmwareVersion: "20200101",
		DeviceID:        h.DeviceID(),
		DeviceAuth:      "airwave",
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
		GuideURL:        base + "/iptv/xmltv.xml",
		TunerCount:      h.hdhr.TunerCount,
	})
}

// Lineup serves the channel lineup document.
func (h *TunerHandler) Lineup(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.GetEnabled(r.Context())
	if err != nil {
		h.logger.Error("loading lineup", "error", err)
		http.Error(w, "loading lineup", http.StatusInternalServerError)
		return
	}

	base := h.BaseURL(r)
	lineup := make([]lineupEntry, 0, len(channels))
	for _, channel := range channels {
		lineup = append(lineup, lineupEntry{
			GuideNumber: channel.Number,
			GuideName:   channel.GuideName(),
			URL:         fmt.Sprintf("%s/auto/v%s", base, channel.Number),
			HD:          1,
		})
	}
	writeJSON(w, http.StatusOK, lineup)
}

// LineupStatus reports a fixed not-scanning state; airwave lineups
// change through configuration, never a channel scan.
func (h *TunerHandler) LineupStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ScanInProgress": 0,
		"ScanPossible":   1,
		"Source":         "Cable",
		"SourceList":     []string{"Cable"},
	})
}

// LineupPost accepts and ignores scan requests some clients issue.
func (h *TunerHandler) LineupPost(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// LineupM3U serves the lineup as an extended M3U playlist for IPTV
// players that do not speak HDHomeRun.
func (h *TunerHandler) LineupM3U(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.GetEnabled(r.Context())
	if err != nil {
		h.logger.Error("loading lineup", "error", err)
		http.Error(w, "loading lineup", http.StatusInternalServerError)
		return
	}

	base := h.BaseURL(r)
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	writer := m3u.NewWriter(w)
	for _, channel := range channels {
		entry := &m3u.Entry{
			Title:      channel.GuideName(),
			URL:        fmt.Sprintf("%s/iptv/channel/%s.ts", base, channel.Number),
			TvgID:      channel.Number,
			TvgName:    channel.GuideName(),
			TvgLogo:    channel.LogoURL,
			GroupTitle: channel.GroupTitle,
		}
		if err := writer.WriteEntry(entry); err != nil {
			return
		}
	}
}

// DeviceXML serves the UPnP device description referenced by SSDP
// discovery responses.
func (h *TunerHandler) DeviceXML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Silicondust</manufacturer>
    <modelName>HDTC-2US</modelName>
    <UDN>uuid:%s</UDN>
  </device>
</root>`, h.hdhr.FriendlyName, h.DeviceID())
}

// BaseURL resolves the externally reachable base URL. An explicit
// public URL wins; otherwise the request's own Host header is the
// address the client already reached us on.
func (h *TunerHandler) BaseURL(r *http.Request) string {
	if h.server.PublicURL != "" {
		return strings.TrimRight(h.server.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// DeviceID returns the configured device ID, or one derived from the
// friendly name so the device stays stable across restarts.
func (h *TunerHandler) DeviceID() string {
	if h.hdhr.DeviceID != "" {
		return h.hdhr.DeviceID
	}
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(h.hdhr.FriendlyName))
	return fmt.Sprintf("%08X", sum.Sum32())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
