package models

import "gorm.io/gorm"

// FFmpegProfile holds transcode settings applied to a channel's output.
// A nil profile on a channel means the built-in defaults.
type FFmpegProfile struct {
	BaseModel

	Name string `gorm:"size:255;not null" json:"name"`

	VideoCodec string `gorm:"size:64;default:'libx264'" json:"video_codec"`
	AudioCodec string `gorm:"size:64;default:'aac'" json:"audio_codec"`

	// VideoBitrate and AudioBitrate are FFmpeg bitrate strings ("4000k").
	// Empty means codec default.
	VideoBitrate string `gorm:"size:32" json:"video_bitrate,omitempty"`
	AudioBitrate string `gorm:"size:32" json:"audio_bitrate,omitempty"`

	// Resolution is "WxH"; empty keeps the source resolution.
	Resolution string `gorm:"size:16" json:"resolution,omitempty"`

	// Framerate is the output fps; 0 keeps the source rate.
	Framerate int `gorm:"default:0" json:"framerate,omitempty"`

	// HWAccel is one of none, vaapi, cuda, qsv, videotoolbox. Empty falls
	// back to the configured default.
	HWAccel string `gorm:"size:32" json:"hwaccel,omitempty"`

	// Preset is the encoder preset ("veryfast"). Empty uses the codec default.
	Preset string `gorm:"size:32" json:"preset,omitempty"`

	// ExtraArgs is a whitespace-separated list of raw arguments appended
	// to the output stage.
	ExtraArgs string `gorm:"size:2048" json:"extra_args,omitempty"`
}

// TableName returns the table name for FFmpegProfile.
func (FFmpegProfile) TableName() string {
	return "ffmpeg_profiles"
}

// Validate performs basic validation on the profile.
func (p *FFmpegProfile) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the profile and generates the ID.
func (p *FFmpegProfile) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
