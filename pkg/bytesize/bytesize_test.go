package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"1024", 1024},
		{"0", 0},
		{"5MB", 5 * MB},
		{"5mb", 5 * MB},
		{"5 MB", 5 * MB},
		{"1.5GB", Size(1.5 * float64(GB))},
		{"500KB", 500 * KB},
		{"2tb", 2 * TB},
		{"1PiB", PB},
		{"3g", 3 * GB},
		{"10 bytes", 10},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "  ", "MB", "lots", "-5MB", "-1"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   Size
		want string
	}{
		{0, "0B"},
		{100, "100B"},
		{KB, "1KB"},
		{5 * MB, "5MB"},
		{Size(1.5 * float64(GB)), "1.5GB"},
		{2 * TB, "2TB"},
		{-5 * MB, "-5MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in))
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []Size{1, KB, 3 * MB, 7 * GB, 2 * TB} {
		parsed, err := Parse(Format(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.Equal(t, 8*MB, MustParse("8MB"))
}
