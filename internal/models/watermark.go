package models

import "gorm.io/gorm"

// WatermarkPosition is a corner anchor for the overlay.
type WatermarkPosition string

const (
	WatermarkTopLeft     WatermarkPosition = "top_left"
	WatermarkTopRight    WatermarkPosition = "top_right"
	WatermarkBottomLeft  WatermarkPosition = "bottom_left"
	WatermarkBottomRight WatermarkPosition = "bottom_right"
)

// Watermark describes an image overlaid on a channel's video output via
// the FFmpeg overlay filter.
type Watermark struct {
	BaseModel

	Name string `gorm:"size:255;not null" json:"name"`

	// ImagePath is a local path to the overlay image.
	ImagePath string `gorm:"size:2048;not null" json:"image_path"`

	Position WatermarkPosition `gorm:"size:16;default:top_right" json:"position"`

	// Opacity in [0,1]; 1 is fully opaque.
	Opacity float64 `gorm:"default:1" json:"opacity"`

	// MarginPx is the distance from the anchored corner in pixels.
	MarginPx int `gorm:"default:24" json:"margin_px"`

	// WidthPercent scales the image to a percentage of the video width;
	// 0 keeps the native size.
	WidthPercent int `gorm:"default:0" json:"width_percent,omitempty"`
}

// TableName returns the table name for Watermark.
func (Watermark) TableName() string {
	return "watermarks"
}

// Validate performs basic validation on the watermark.
func (w *Watermark) Validate() error {
	if w.Name == "" {
		return ErrNameRequired
	}
	if w.ImagePath == "" {
		return ErrValidation{Field: "image_path", Message: "image path is required"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the watermark and generates the ID.
func (w *Watermark) BeforeCreate(tx *gorm.DB) error {
	if err := w.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return w.Validate()
}
