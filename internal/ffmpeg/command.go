// Package ffmpeg provides FFmpeg binary detection and command construction
// for the playout engine. Channel output is always MPEG-TS on stdout so the
// stream layer can fan it out without touching disk.
package ffmpeg

import (
	"fmt"
	"strings"
	"time"

	"github.com/airwavetv/airwave/internal/models"
)

// CommandBuilder builds FFmpeg argument lists with a fluent API.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	inputArgs     []string
	input         string
	filterArgs    []string
	overlayFilter string
	outputArgs    []string
	output        string
	logLevel      string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
		output:   "pipe:1",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Realtime paces input reading at native frame rate. Required for live
// playout: without -re FFmpeg transcodes as fast as it can and the ring
// buffer fills with hours of content in seconds.
func (b *CommandBuilder) Realtime() *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-re")
	return b
}

// Seek starts reading the input at the given offset. Used for mid-item
// joins and position resume. Placed before -i for fast keyframe seeking.
func (b *CommandBuilder) Seek(offset time.Duration) *CommandBuilder {
	if offset > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", formatSeekOffset(offset))
	}
	return b
}

func formatSeekOffset(offset time.Duration) string {
	return fmt.Sprintf("%.3f", offset.Seconds())
}

// Reconnect adds reconnection args for network inputs.
func (b *CommandBuilder) Reconnect() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
	)
	return b
}

// HWAccel requests hardware-accelerated decoding. Empty and "none" are
// no-ops.
func (b *CommandBuilder) HWAccel(accel string) *CommandBuilder {
	if accel == "" || accel == "none" {
		return b
	}
	b.inputArgs = append(b.inputArgs, "-hwaccel", accel)
	return b
}

// Input sets the input URL or path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs appends raw input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets the video bitrate ("4000k").
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	}
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	}
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	if preset != "" {
		b.outputArgs = append(b.outputArgs, "-preset", preset)
	}
	return b
}

// Resolution scales the output to "WxH".
func (b *CommandBuilder) Resolution(res string) *CommandBuilder {
	if res != "" {
		b.filterArgs = append(b.filterArgs, "scale="+strings.Replace(res, "x", ":", 1))
	}
	return b
}

// Framerate forces the output frame rate.
func (b *CommandBuilder) Framerate(fps int) *CommandBuilder {
	if fps > 0 {
		b.outputArgs = append(b.outputArgs, "-r", fmt.Sprintf("%d", fps))
	}
	return b
}

// VideoFilter appends a raw filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	if filter != "" {
		b.filterArgs = append(b.filterArgs, filter)
	}
	return b
}

// OutputArgs appends raw output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// MpegtsArgs adds the MPEG-TS muxer arguments used for channel output.
func (b *CommandBuilder) MpegtsArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mpegts",
		"-mpegts_copyts", "1",
		"-avoid_negative_ts", "disabled",
		"-mpegts_start_pid", "256",
		"-mpegts_pmt_start_pid", "4096",
	)
	return b
}

// FlushPackets reduces output latency by flushing the muxer per packet.
func (b *CommandBuilder) FlushPackets() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-flush_packets", "1")
	return b
}

// Output sets the output target. Defaults to pipe:1.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// ApplyProfile applies a transcode profile's settings. A nil profile
// applies the built-in defaults.
func (b *CommandBuilder) ApplyProfile(profile *models.FFmpegProfile, defaultHWAccel string) *CommandBuilder {
	if profile == nil {
		return b.HWAccel(defaultHWAccel).
			VideoCodec("libx264").
			AudioCodec("aac").
			VideoPreset("veryfast")
	}

	hw := profile.HWAccel
	if hw == "" {
		hw = defaultHWAccel
	}
	b.HWAccel(hw).
		VideoCodec(profile.VideoCodec).
		AudioCodec(profile.AudioCodec).
		VideoBitrate(profile.VideoBitrate).
		AudioBitrate(profile.AudioBitrate).
		VideoPreset(profile.Preset).
		Resolution(profile.Resolution).
		Framerate(profile.Framerate)

	if profile.ExtraArgs != "" {
		b.OutputArgs(strings.Fields(profile.ExtraArgs)...)
	}
	return b
}

// ApplyWatermark overlays the watermark image onto the video. The overlay
// becomes a filter_complex since it needs a second input.
func (b *CommandBuilder) ApplyWatermark(w *models.Watermark) *CommandBuilder {
	if w == nil {
		return b
	}

	var x, y string
	m := fmt.Sprintf("%d", w.MarginPx)
	switch w.Position {
	case models.WatermarkTopLeft:
		x, y = m, m
	case models.WatermarkBottomLeft:
		x, y = m, "main_h-overlay_h-"+m
	case models.WatermarkBottomRight:
		x, y = "main_w-overlay_w-"+m, "main_h-overlay_h-"+m
	default: // top right
		x, y = "main_w-overlay_w-"+m, m
	}

	overlay := fmt.Sprintf("overlay=%s:%s", x, y)
	chain := "[1:v]format=rgba"
	if w.WidthPercent > 0 {
		chain += fmt.Sprintf(",scale=iw*%d/100:-1", w.WidthPercent)
	}
	if w.Opacity > 0 && w.Opacity < 1 {
		chain += fmt.Sprintf(",colorchannelmixer=aa=%.2f", w.Opacity)
	}

	b.inputArgs = append(b.inputArgs, "-i", w.ImagePath)
	b.overlayFilter = fmt.Sprintf("%s[wm];[0:v][wm]%s", chain, overlay)
	return b
}

// Build assembles the final argument list.
func (b *CommandBuilder) Build() (string, []string) {
	var args []string
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	// Watermark pushes its own "-i image" into inputArgs; the main input
	// must come first so the overlay indices line up.
	var mainArgs, extraInputs []string
	skip := false
	for i, a := range b.inputArgs {
		if skip {
			skip = false
			continue
		}
		if a == "-i" && i+1 < len(b.inputArgs) {
			extraInputs = append(extraInputs, a, b.inputArgs[i+1])
			skip = true
			continue
		}
		mainArgs = append(mainArgs, a)
	}

	args = append(args, mainArgs...)
	args = append(args, "-i", b.input)
	args = append(args, extraInputs...)

	// FFmpeg rejects -vf alongside -filter_complex, so when an overlay
	// exists the plain filter chain continues the overlaid video instead.
	switch {
	case b.overlayFilter != "":
		graph := b.overlayFilter
		if len(b.filterArgs) > 0 {
			graph += "," + strings.Join(b.filterArgs, ",")
		}
		args = append(args, "-filter_complex", graph)
	case len(b.filterArgs) > 0:
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return b.binary, args
}

// String renders the command for logging.
func (b *CommandBuilder) String() string {
	binary, args := b.Build()
	return binary + " " + strings.Join(args, " ")
}
