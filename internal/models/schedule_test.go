package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleItemValidate(t *testing.T) {
	valid := ScheduleItem{
		ScheduleID:     NewULID(),
		CollectionType: CollectionTypePlaylist,
		CollectionID:   NewULID(),
		PlaybackMode:   PlaybackModeOne,
		PlaybackOrder:  PlaybackOrderChronological,
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ScheduleID = ULID{}
	assert.ErrorIs(t, missing.Validate(), ErrScheduleIDRequired)

	badType := valid
	badType.CollectionType = "album"
	assert.ErrorIs(t, badType.Validate(), ErrInvalidCollectionType)

	badMode := valid
	badMode.PlaybackMode = "all"
	assert.ErrorIs(t, badMode.Validate(), ErrInvalidPlaybackMode)

	badOrder := valid
	badOrder.PlaybackOrder = "alphabetical"
	assert.ErrorIs(t, badOrder.Validate(), ErrInvalidPlaybackOrder)

	badFixed := valid
	badFixed.FixedStartTime = "20:00"
	badFixed.FixedStartBehavior = "reschedule"
	assert.ErrorIs(t, badFixed.Validate(), ErrInvalidFixedStartBehavior)
}

func TestScheduleItemPlaybackDuration(t *testing.T) {
	item := ScheduleItem{PlaybackDurationSeconds: 5400}
	assert.Equal(t, 90*time.Minute, item.PlaybackDuration())
}

func TestPlaybackEnums(t *testing.T) {
	for _, m := range []PlaybackMode{PlaybackModeOne, PlaybackModeMultiple, PlaybackModeDuration, PlaybackModeFlood} {
		assert.True(t, m.Valid(), m)
	}
	for _, o := range []PlaybackOrder{PlaybackOrderChronological, PlaybackOrderShuffled, PlaybackOrderRandom, PlaybackOrderShuffleInOrder, PlaybackOrderSeasonEpisode} {
		assert.True(t, o.Valid(), o)
	}
	for _, b := range []FixedStartBehavior{FixedStartImmediately, FixedStartSkipItem, FixedStartWaitForNext} {
		assert.True(t, b.Valid(), b)
	}
}
