package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/models"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxSessionsPerChannel: 2,
		IdleTimeout:           time.Minute,
		ChannelIdleGrace:      time.Second,
	}
}

func sessionChannel() *models.Channel {
	return &models.Channel{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Number:    "5",
		Name:      "5 Five",
	}
}

func subscribe(t *testing.T, ring *Ring) *RingReader {
	t.Helper()
	rr, err := ring.Subscribe()
	require.NoError(t, err)
	return rr
}

func TestSessionRegisterAndCap(t *testing.T) {
	sm := NewSessionManager(testSessionConfig(), nil, nil)
	channel := sessionChannel()
	ring := NewRing(DefaultRingConfig())

	s1, err := sm.Register(channel, subscribe(t, ring), "10.0.0.1:1", "vlc")
	require.NoError(t, err)
	_, err = sm.Register(channel, subscribe(t, ring), "10.0.0.2:1", "plex")
	require.NoError(t, err)

	assert.Equal(t, 2, sm.CountForChannel(channel.ID))
	assert.ErrorIs(t, sm.Admit(channel.ID), ErrChannelSaturated)
	_, err = sm.Register(channel, subscribe(t, ring), "10.0.0.3:1", "jellyfin")
	assert.ErrorIs(t, err, ErrChannelSaturated)

	sm.Unregister(s1.ID)
	assert.Equal(t, 1, sm.CountForChannel(channel.ID))
	assert.NoError(t, sm.Admit(channel.ID))
}

func TestSessionCapIsPerChannel(t *testing.T) {
	sm := NewSessionManager(testSessionConfig(), nil, nil)
	a, b := sessionChannel(), sessionChannel()
	ring := NewRing(DefaultRingConfig())

	for i := 0; i < 2; i++ {
		_, err := sm.Register(a, subscribe(t, ring), "", "")
		require.NoError(t, err)
	}
	require.ErrorIs(t, sm.Admit(a.ID), ErrChannelSaturated)
	assert.NoError(t, sm.Admit(b.ID))
}

func TestSessionUnregisterClosesReader(t *testing.T) {
	sm := NewSessionManager(testSessionConfig(), nil, nil)
	channel := sessionChannel()
	ring := NewRing(DefaultRingConfig())
	reader := subscribe(t, ring)

	s, err := sm.Register(channel, reader, "", "")
	require.NoError(t, err)
	sm.Unregister(s.ID)

	assert.Equal(t, 0, ring.Readers())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = reader.Read(ctx, make([]byte, 8))
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestSessionSnapshot(t *testing.T) {
	sm := NewSessionManager(testSessionConfig(), nil, nil)
	channel := sessionChannel()
	ring := NewRing(DefaultRingConfig())

	_, err := sm.Register(channel, subscribe(t, ring), "10.1.2.3:4", "test-agent")
	require.NoError(t, err)

	snap := sm.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "5", snap[0].ChannelNumber)
	assert.Equal(t, "10.1.2.3:4", snap[0].RemoteAddr)
	assert.Equal(t, "test-agent", snap[0].UserAgent)
	assert.False(t, snap[0].StartedAt.IsZero())
}

// recordingReleaser records idle-channel notifications.
type recordingReleaser struct {
	mu       sync.Mutex
	released []models.ULID
}

func (r *recordingReleaser) ReleaseIfIdle(_ context.Context, channelID models.ULID) {
	r.mu.Lock()
	r.released = append(r.released, channelID)
	r.mu.Unlock()
}

func (r *recordingReleaser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

func TestSessionIdleChannelRelease(t *testing.T) {
	cfg := testSessionConfig()
	cfg.ChannelIdleGrace = 10 * time.Millisecond
	sm := NewSessionManager(cfg, nil, nil)
	releaser := &recordingReleaser{}
	sm.SetReleaser(releaser)

	channel := sessionChannel()
	ring := NewRing(DefaultRingConfig())
	s, err := sm.Register(channel, subscribe(t, ring), "", "")
	require.NoError(t, err)

	sm.Unregister(s.ID)
	time.Sleep(20 * time.Millisecond)
	sm.sweep(context.Background())

	assert.Equal(t, 1, releaser.count())
}

func TestSessionIdleSweep(t *testing.T) {
	cfg := testSessionConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	sm := NewSessionManager(cfg, nil, nil)

	channel := sessionChannel()
	ring := NewRing(DefaultRingConfig())
	_, err := sm.Register(channel, subscribe(t, ring), "", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	sm.sweep(context.Background())

	assert.Equal(t, 0, sm.CountForChannel(channel.ID))
}
