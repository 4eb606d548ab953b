package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestString(t *testing.T) {
	s := String()

	assert.Contains(t, s, ApplicationName)
	assert.Contains(t, s, "version")
}

func TestStringWithCommit(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	Version = "1.0.0"
	Commit = "abc123def456789"
	Date = "2026-01-15T10:30:00Z"

	s := String()
	assert.Contains(t, s, "abc123de")
	assert.Contains(t, s, "2026-01-15")
}

func TestShort(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version = "1.0.0"
	Commit = "unknown"
	assert.Equal(t, "airwave 1.0.0", Short())

	Commit = "abc123def456789"
	assert.Equal(t, "airwave 1.0.0 (abc123de)", Short())
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	require.NotEmpty(t, ua)
	assert.Contains(t, ua, ApplicationName+"/")
}

func TestSnapshotAndRelease(t *testing.T) {
	origVersion := Version
	defer func() { Version = origVersion }()

	tests := []struct {
		version  string
		snapshot bool
	}{
		{"dev", true},
		{"1.0.0", false},
		{"1.0.1-SNAPSHOT.abc1234", true},
		{"0.1.0", false},
		{"1.2.3-alpha.1", false},
	}
	for _, tt := range tests {
		Version = tt.version
		assert.Equal(t, tt.snapshot, IsSnapshot(), tt.version)
		assert.Equal(t, !tt.snapshot, IsRelease(), tt.version)
	}
}
