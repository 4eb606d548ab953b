package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SlateConfig holds configuration for the pre-generated fallback slate
// that is transmitted while a channel is recovering.
type SlateConfig struct {
	Width           int
	Height          int
	SegmentDuration float64
	Message         string
	BackgroundColor string
	TextColor       string
	FontSize        int
	FFmpegPath      string
}

// DefaultSlateConfig returns the slate defaults.
func DefaultSlateConfig() SlateConfig {
	return SlateConfig{
		Width:           1280,
		Height:          720,
		SegmentDuration: 2.0,
		Message:         "Technical Difficulties",
		BackgroundColor: "black",
		TextColor:       "white",
		FontSize:        48,
		FFmpegPath:      "ffmpeg",
	}
}

// ErrSlateNotReady is returned before Initialize has produced a segment.
var ErrSlateNotReady = errors.New("fallback slate not generated")

// SlateGenerator pre-generates a short MPEG-TS segment from lavfi
// sources so recovery playback never depends on media being reachable.
type SlateGenerator struct {
	cfg    SlateConfig
	logger *slog.Logger

	mu     sync.RWMutex
	tsData []byte
}

// NewSlateGenerator creates a slate generator.
func NewSlateGenerator(cfg SlateConfig, logger *slog.Logger) *SlateGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlateGenerator{cfg: cfg, logger: logger}
}

// Initialize renders the slate segment once. Safe to call repeatedly.
func (s *SlateGenerator) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tsData != nil {
		return nil
	}

	data, err := s.render(ctx)
	if err != nil {
		return fmt.Errorf("generating fallback slate: %w", err)
	}
	s.tsData = data
	s.logger.Info("fallback slate generated", "bytes", len(data))
	return nil
}

func (s *SlateGenerator) render(ctx context.Context) ([]byte, error) {
	duration := fmt.Sprintf("%.1f", s.cfg.SegmentDuration)
	videoFilter := fmt.Sprintf(
		"color=c=%s:s=%dx%d:d=%s,drawtext=text='%s':fontcolor=%s:fontsize=%d:x=(w-text_w)/2:y=(h-text_h)/2",
		s.cfg.BackgroundColor, s.cfg.Width, s.cfg.Height, duration,
		escapeDrawtext(s.cfg.Message), s.cfg.TextColor, s.cfg.FontSize,
	)
	audioFilter := fmt.Sprintf("anullsrc=r=48000:cl=stereo:d=%s", duration)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", videoFilter,
		"-f", "lavfi", "-i", audioFilter,
		"-c:v", "libx264", "-preset", "ultrafast", "-tune", "stillimage",
		"-c:a", "aac", "-b:a", "64k",
		"-pix_fmt", "yuv420p",
		"-f", "mpegts",
		"pipe:1",
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("empty slate output")
	}
	return stdout.Bytes(), nil
}

// Segment returns the cached slate segment.
func (s *SlateGenerator) Segment() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tsData == nil {
		return nil, ErrSlateNotReady
	}
	return s.tsData, nil
}

// Pump writes the slate into w on a loop paced to the segment duration
// until ctx is cancelled. Used to keep a channel's ring alive while the
// real source recovers.
func (s *SlateGenerator) Pump(ctx context.Context, w io.Writer) error {
	segment, err := s.Segment()
	if err != nil {
		return err
	}
	interval := time.Duration(s.cfg.SegmentDuration * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.Write(segment); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// escapeDrawtext escapes characters meaningful to the drawtext filter.
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(text)
}
