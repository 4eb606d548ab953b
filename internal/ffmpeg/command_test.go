package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/models"
)

func TestBuildBasicMpegts(t *testing.T) {
	binary, args := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Realtime().
		Input("http://example.com/movie.mp4").
		ApplyProfile(nil, "none").
		MpegtsArgs().
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", binary)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-hide_banner")
	assert.Contains(t, joined, "-re")
	assert.Contains(t, joined, "-i http://example.com/movie.mp4")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-f mpegts")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuildSeekBeforeInput(t *testing.T) {
	_, args := NewCommandBuilder("ffmpeg").
		Seek(910 * time.Second).
		Input("/media/b.mkv").
		Build()

	var seekIdx, inputIdx int
	for i, a := range args {
		switch a {
		case "-ss":
			seekIdx = i
			require.Equal(t, "910.000", args[i+1])
		case "-i":
			inputIdx = i
		}
	}
	assert.Less(t, seekIdx, inputIdx, "-ss must precede -i for input seeking")
}

func TestBuildZeroSeekOmitted(t *testing.T) {
	_, args := NewCommandBuilder("ffmpeg").Seek(0).Input("x").Build()
	assert.NotContains(t, args, "-ss")
}

func TestApplyProfile(t *testing.T) {
	profile := &models.FFmpegProfile{
		VideoCodec:   "libx265",
		AudioCodec:   "aac",
		VideoBitrate: "4000k",
		Resolution:   "1280x720",
		Framerate:    30,
		Preset:       "fast",
		HWAccel:      "vaapi",
		ExtraArgs:    "-profile:v main",
	}

	_, args := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		ApplyProfile(profile, "none").
		Build()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-hwaccel vaapi")
	assert.Contains(t, joined, "-c:v libx265")
	assert.Contains(t, joined, "-b:v 4000k")
	assert.Contains(t, joined, "-vf scale=1280:720")
	assert.Contains(t, joined, "-r 30")
	assert.Contains(t, joined, "-preset fast")
	assert.Contains(t, joined, "-profile:v main")
}

func TestApplyWatermark(t *testing.T) {
	w := &models.Watermark{
		Name:         "logo",
		ImagePath:    "/data/logo.png",
		Position:     models.WatermarkBottomRight,
		Opacity:      0.5,
		MarginPx:     24,
		WidthPercent: 10,
	}

	_, args := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		ApplyWatermark(w).
		MpegtsArgs().
		Build()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i in.mp4 -i /data/logo.png")
	assert.Contains(t, joined, "-filter_complex")
	assert.Contains(t, joined, "overlay=main_w-overlay_w-24:main_h-overlay_h-24")
	assert.Contains(t, joined, "colorchannelmixer=aa=0.50")
	assert.Contains(t, joined, "scale=iw*10/100:-1")
}

func TestApplyWatermarkWithProfileResolution(t *testing.T) {
	profile := &models.FFmpegProfile{
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Resolution: "1280x720",
	}
	w := &models.Watermark{
		Name:      "logo",
		ImagePath: "/data/logo.png",
		Position:  models.WatermarkTopRight,
		MarginPx:  24,
	}

	_, args := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		ApplyProfile(profile, "none").
		ApplyWatermark(w).
		Build()

	// The scale folds into the overlay graph; -vf next to -filter_complex
	// is an FFmpeg error.
	assert.NotContains(t, args, "-vf")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-filter_complex")
	assert.Contains(t, joined, "overlay=main_w-overlay_w-24:24,scale=1280:720")

	count := 0
	for _, a := range args {
		if a == "-filter_complex" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestReconnectArgs(t *testing.T) {
	_, args := NewCommandBuilder("ffmpeg").Reconnect().Input("http://x").Build()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-reconnect 1")
	assert.Contains(t, joined, "-reconnect_delay_max 5")
}

func TestVersionRegex(t *testing.T) {
	m := versionRe.FindStringSubmatch("ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023")
	require.NotNil(t, m)
	assert.Equal(t, "6", m[1])
	assert.Equal(t, "1", m[2])
}
