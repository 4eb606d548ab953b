package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrNumberRequired indicates a channel has no number assigned.
	ErrNumberRequired = errors.New("channel number is required")

	// ErrChannelIDRequired indicates a required channel reference is empty.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrScheduleIDRequired indicates a required schedule reference is empty.
	ErrScheduleIDRequired = errors.New("schedule_id is required")

	// ErrMediaItemIDRequired indicates a required media item reference is empty.
	ErrMediaItemIDRequired = errors.New("media_item_id is required")

	// ErrInvalidPlayoutMode indicates an unknown playout mode value.
	ErrInvalidPlayoutMode = errors.New("invalid playout mode: must be 'continuous' or 'on_demand'")

	// ErrInvalidCollectionType indicates an unknown collection type value.
	ErrInvalidCollectionType = errors.New("invalid collection type")

	// ErrInvalidPlaybackMode indicates an unknown playback mode value.
	ErrInvalidPlaybackMode = errors.New("invalid playback mode: must be one, multiple, duration or flood")

	// ErrInvalidPlaybackOrder indicates an unknown playback order value.
	ErrInvalidPlaybackOrder = errors.New("invalid playback order")

	// ErrInvalidMediaSource indicates an unknown media source value.
	ErrInvalidMediaSource = errors.New("invalid media source")

	// ErrInvalidFixedStartBehavior indicates an unknown fixed start behavior.
	ErrInvalidFixedStartBehavior = errors.New("invalid fixed start behavior")

	// ErrInvalidTimeRange indicates finish time is not after start time.
	ErrInvalidTimeRange = errors.New("finish time must be after start time")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")
)
