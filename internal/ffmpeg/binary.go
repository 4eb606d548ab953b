package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	Path         string `json:"path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// versionRe extracts the version from "ffmpeg version 6.1.1 ...".
var versionRe = regexp.MustCompile(`ffmpeg version (\d+)\.(\d+)(?:\.(\d+))?(\S*)`)

// BinaryDetector locates the FFmpeg binary and caches the result.
type BinaryDetector struct {
	configuredPath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. configuredPath may be empty to
// search PATH.
func NewBinaryDetector(configuredPath string) *BinaryDetector {
	return &BinaryDetector{
		configuredPath: configuredPath,
		cacheTTL:       5 * time.Minute,
	}
}

// Detect locates the FFmpeg binary and parses its version.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	path := d.configuredPath
	if path == "" {
		found, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		path = found
	}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -version: %w", path, err)
	}

	info := &BinaryInfo{Path: path}
	if m := versionRe.FindStringSubmatch(string(out)); m != nil {
		info.Version = strings.TrimSpace(m[0][len("ffmpeg version "):])
		info.MajorVersion, _ = strconv.Atoi(m[1])
		info.MinorVersion, _ = strconv.Atoi(m[2])
	}

	d.mu.Lock()
	d.info = info
	d.lastDetected = time.Now()
	d.mu.Unlock()

	return info, nil
}
