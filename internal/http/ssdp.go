package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/airwavetv/airwave/internal/observability"
)

// ssdpReadTimeout paces the read loop so ctx cancellation is observed.
const ssdpReadTimeout = time.Second

// SSDP answers M-SEARCH probes so DVR clients discover the tuner
// without manual configuration. It only runs when a public base URL is
// known, since the LOCATION header must be reachable from the client.
type SSDP struct {
	DeviceID     string
	FriendlyName string
	DeviceXMLURL string
	logger       *slog.Logger
}

// NewSSDP creates an SSDP responder advertising deviceXMLURL.
func NewSSDP(deviceID, friendlyName, deviceXMLURL string, logger *slog.Logger) *SSDP {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSDP{
		DeviceID:     deviceID,
		FriendlyName: friendlyName,
		DeviceXMLURL: deviceXMLURL,
		logger:       observability.WithComponent(logger, "ssdp"),
	}
}

// Run listens for discovery probes until ctx is canceled.
func (s *SSDP) Run(ctx context.Context) error {
	if s.DeviceXMLURL == "" {
		s.logger.Warn("ssdp disabled: no reachable base URL configured")
		return nil
	}

	pc, err := net.ListenPacket("udp4", ":1900")
	if err != nil {
		return fmt.Errorf("listening for ssdp: %w", err)
	}
	defer pc.Close()
	s.logger.Info("ssdp responder listening", "addr", ":1900")

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = pc.SetReadDeadline(time.Now().Add(ssdpReadTimeout))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.logger.Debug("ssdp read error", "error", err)
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		msg := string(buf[:n])
		if !strings.Contains(msg, "M-SEARCH") {
			continue
		}
		if strings.Contains(msg, "ssdp:all") ||
			strings.Contains(msg, "upnp:rootdevice") ||
			strings.Contains(msg, "urn:schemas-upnp-org:device:MediaServer") ||
			strings.Contains(msg, "urn:schemas-upnp-org:device:Basic:1") {
			if _, err := pc.WriteTo([]byte(s.searchResponse()), udpAddr); err == nil {
				s.logger.Debug("answered m-search", "from", udpAddr.String())
			}
		}
	}
}

func (s *SSDP) searchResponse() string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=300\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: airwave/1.0 UPnP/1.0\r\n"+
			"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"USN: uuid:%s::urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"\r\n",
		s.DeviceXMLURL, s.DeviceID,
	)
}
