package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelValidate(t *testing.T) {
	ch := &Channel{Number: "2", Name: "Westerns", PlayoutMode: PlayoutModeContinuous}
	assert.NoError(t, ch.Validate())

	assert.ErrorIs(t, (&Channel{Name: "x", PlayoutMode: PlayoutModeContinuous}).Validate(), ErrNumberRequired)
	assert.ErrorIs(t, (&Channel{Number: "2", PlayoutMode: PlayoutModeContinuous}).Validate(), ErrNameRequired)
	assert.ErrorIs(t, (&Channel{Number: "2", Name: "x", PlayoutMode: "looping"}).Validate(), ErrInvalidPlayoutMode)
}

func TestChannelGuideName(t *testing.T) {
	tests := []struct {
		number string
		name   string
		want   string
	}{
		{"7", "7 News", "News"},
		{"7", "News", "News"},
		{"7", "7", "7"},
		{"2.1", "2.1 Classic Movies", "Classic Movies"},
		{"7", "70s Gold", "70s Gold"},
	}
	for _, tt := range tests {
		ch := &Channel{Number: tt.number, Name: tt.name}
		assert.Equal(t, tt.want, ch.GuideName(), "%s / %s", tt.number, tt.name)
	}
}

func TestChannelIsEnabledDefaultsTrue(t *testing.T) {
	assert.True(t, (&Channel{}).IsEnabled())
	assert.False(t, (&Channel{Enabled: BoolPtr(false)}).IsEnabled())
}

func TestPlayoutModeValid(t *testing.T) {
	assert.True(t, PlayoutModeContinuous.Valid())
	assert.True(t, PlayoutModeOnDemand.Valid())
	assert.False(t, PlayoutMode("shuffle").Valid())
}
