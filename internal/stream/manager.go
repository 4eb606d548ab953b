package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/repository"
)

// ErrChannelDisabled is returned when tuning a disabled channel.
var ErrChannelDisabled = errors.New("channel is disabled")

// ErrChannelNotFound is returned when tuning an unknown channel number.
var ErrChannelNotFound = errors.New("channel not found")

// TimelineControl extends TimelineSource with the on-demand re-base.
type TimelineControl interface {
	TimelineSource
	// Rebase moves the channel's anchor to now, discarding any
	// materialized future. Used when an on-demand channel wakes up.
	Rebase(ctx context.Context, channelID models.ULID, now time.Time) error
}

// ManagerDeps bundles the collaborators of the channel manager.
type ManagerDeps struct {
	Channels repository.ChannelRepository
	Timeline TimelineControl
	Sessions *SessionManager
	Stream   ChannelStreamDeps
	Logger   *slog.Logger
}

// Manager owns the channel stream instances. Acquisition is serialized
// per channel so concurrent tune requests share one stream instead of
// racing to create two.
type Manager struct {
	deps   ManagerDeps
	logger *slog.Logger

	mu      sync.Mutex
	streams map[models.ULID]*channelSlot

	runCtx    context.Context
	runCancel context.CancelFunc
}

// channelSlot serializes operations on one channel.
type channelSlot struct {
	mu     sync.Mutex
	stream *ChannelStream
}

// NewManager creates a channel manager.
func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		logger:  observability.WithComponent(logger, "channel_manager"),
		streams: make(map[models.ULID]*channelSlot),
	}
}

// Start prepares the manager's run context and pre-warms channels.
func (m *Manager) Start(ctx context.Context, preWarm []string) {
	m.mu.Lock()
	m.runCtx, m.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	for _, number := range preWarm {
		channel, err := m.deps.Channels.GetByNumber(ctx, number)
		if err != nil || channel == nil {
			m.logger.Warn("pre-warm channel not found", "number", number)
			continue
		}
		if _, err := m.streamFor(ctx, channel); err != nil {
			m.logger.Warn("pre-warming channel failed", "number", number, "error", err)
		}
	}
}

// slot returns the per-channel serialization slot.
func (m *Manager) slot(channelID models.ULID) *channelSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[channelID]
	if !ok {
		s = &channelSlot{}
		m.streams[channelID] = s
	}
	return s
}

// streamFor returns the running stream for a channel, starting one when
// needed. On-demand channels are re-based to now when waking from idle.
func (m *Manager) streamFor(ctx context.Context, channel *models.Channel) (*ChannelStream, error) {
	slot := m.slot(channel.ID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.stream != nil {
		switch slot.stream.State() {
		case StateStopped, StateFailed:
			slot.stream = nil
		default:
			return slot.stream, nil
		}
	}

	if channel.PlayoutMode == models.PlayoutModeOnDemand {
		if err := m.deps.Timeline.Rebase(ctx, channel.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("re-basing on-demand channel: %w", err)
		}
	}

	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()
	if runCtx == nil {
		return nil, errors.New("channel manager not started")
	}

	cs := NewChannelStream(channel, m.deps.Stream)
	cs.Start(runCtx)
	slot.stream = cs
	m.logger.Info("channel stream started",
		"channel", channel.Number,
		"mode", channel.PlayoutMode)
	return cs, nil
}

// OpenSession tunes a client to a channel: admission check, stream
// acquisition, ring attachment, then session registration, in that
// order. A rejected client never attaches to the ring.
func (m *Manager) OpenSession(ctx context.Context, number, remoteAddr, userAgent string) (*Session, error) {
	channel, err := m.deps.Channels.GetByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("looking up channel %s: %w", number, err)
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	if !models.BoolVal(channel.Enabled) {
		return nil, ErrChannelDisabled
	}

	if err := m.deps.Sessions.Admit(channel.ID); err != nil {
		return nil, err
	}

	cs, err := m.streamFor(ctx, channel)
	if err != nil {
		return nil, err
	}

	reader, err := cs.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribing to channel %s: %w", number, err)
	}

	session, err := m.deps.Sessions.Register(channel, reader, remoteAddr, userAgent)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return session, nil
}

// CloseSession detaches a client.
func (m *Manager) CloseSession(session *Session) {
	m.deps.Sessions.Unregister(session.ID)
}

// ReleaseIfIdle stops a channel's stream when it has no subscribers and
// its policy allows stopping. Continuous channels keep transmitting
// unless explicitly configured to stop on idle.
func (m *Manager) ReleaseIfIdle(ctx context.Context, channelID models.ULID) {
	slot := m.slot(channelID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	cs := slot.stream
	if cs == nil || cs.Subscribers() > 0 {
		return
	}

	channel := cs.Channel()
	stopOnIdle := channel.PlayoutMode == models.PlayoutModeOnDemand ||
		models.BoolVal(channel.StopOnIdle)
	if !stopOnIdle {
		return
	}

	m.logger.Info("stopping idle channel", "channel", channel.Number)
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cs.Stop(stopCtx); err != nil {
		m.logger.Warn("stopping idle channel failed", "channel", channel.Number, "error", err)
	}
	slot.stream = nil
}

// RestartChannel tears the channel's stream down regardless of
// subscribers. Attached readers drain to EOF and clients reconnect,
// landing on a freshly spawned stream.
func (m *Manager) RestartChannel(ctx context.Context, channelID models.ULID) error {
	slot := m.slot(channelID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	cs := slot.stream
	if cs == nil {
		return nil
	}
	m.logger.Info("restarting channel stream", "channel", cs.Channel().Number)
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cs.Stop(stopCtx); err != nil {
		return fmt.Errorf("stopping stream for restart: %w", err)
	}
	slot.stream = nil
	return nil
}

// StreamState returns the state of a channel's stream, StateIdle when
// none is running.
func (m *Manager) StreamState(channelID models.ULID) State {
	slot := m.slot(channelID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.stream == nil {
		return StateIdle
	}
	return slot.stream.State()
}

// ActiveStreams returns a snapshot of running channel streams.
func (m *Manager) ActiveStreams() []*ChannelStream {
	m.mu.Lock()
	slots := make([]*channelSlot, 0, len(m.streams))
	for _, s := range m.streams {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	var out []*ChannelStream
	for _, slot := range slots {
		slot.mu.Lock()
		if slot.stream != nil {
			out = append(out, slot.stream)
		}
		slot.mu.Unlock()
	}
	return out
}

// Shutdown stops every stream and the run context.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	cancel := m.runCancel
	m.runCancel = nil
	m.mu.Unlock()

	for _, cs := range m.ActiveStreams() {
		if err := cs.Stop(ctx); err != nil {
			m.logger.Warn("stopping stream on shutdown failed",
				"channel", cs.Channel().Number, "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}
