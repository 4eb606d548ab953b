package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
)

// ErrChannelSaturated is returned when a channel is at its session cap.
var ErrChannelSaturated = errors.New("channel session limit reached")

// Session is one client's attachment to a channel.
type Session struct {
	ID            uuid.UUID
	ChannelID     models.ULID
	ChannelNumber string
	RemoteAddr    string
	UserAgent     string
	StartedAt     time.Time

	reader *RingReader

	mu         sync.Mutex
	lastActive time.Time
}

// Reader returns the session's ring reader.
func (s *Session) Reader() *RingReader { return s.reader }

// Touch marks the session as recently active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns when the session last made progress.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionInfo is the read-only session snapshot for the status API.
type SessionInfo struct {
	ID            string    `json:"id"`
	ChannelNumber string    `json:"channel_number"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastActive    time.Time `json:"last_active"`
	BytesRead     uint64    `json:"bytes_read"`
}

// ChannelReleaser is notified when a channel has had no sessions for the
// configured grace period.
type ChannelReleaser interface {
	ReleaseIfIdle(ctx context.Context, channelID models.ULID)
}

// SessionManager tracks client sessions, enforces per-channel caps, and
// sweeps idle sessions and idle channels.
type SessionManager struct {
	cfg      config.SessionConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	releaser ChannelReleaser

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	// idleSince records when a channel's session count last hit zero.
	idleSince map[models.ULID]time.Time
}

// NewSessionManager creates a session manager. The releaser may be set
// later with SetReleaser to break construction cycles.
func NewSessionManager(cfg config.SessionConfig, logger *slog.Logger, metrics *observability.Metrics) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		cfg:       cfg,
		logger:    observability.WithComponent(logger, "sessions"),
		metrics:   metrics,
		sessions:  make(map[uuid.UUID]*Session),
		idleSince: make(map[models.ULID]time.Time),
	}
}

// SetReleaser wires the channel manager for idle-channel notifications.
func (sm *SessionManager) SetReleaser(r ChannelReleaser) {
	sm.mu.Lock()
	sm.releaser = r
	sm.mu.Unlock()
}

// Admit checks the channel's session cap without attaching. Callers admit
// before subscribing so a rejected client never touches the ring.
func (sm *SessionManager) Admit(channelID models.ULID) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.countLocked(channelID) >= sm.cfg.MaxSessionsPerChannel {
		return ErrChannelSaturated
	}
	return nil
}

// Register creates a session for an already-subscribed reader. Fails with
// ErrChannelSaturated if the cap was reached since Admit.
func (sm *SessionManager) Register(channel *models.Channel, reader *RingReader, remoteAddr, userAgent string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.countLocked(channel.ID) >= sm.cfg.MaxSessionsPerChannel {
		return nil, ErrChannelSaturated
	}

	now := time.Now()
	session := &Session{
		ID:            uuid.New(),
		ChannelID:     channel.ID,
		ChannelNumber: channel.Number,
		RemoteAddr:    remoteAddr,
		UserAgent:     userAgent,
		StartedAt:     now,
		reader:        reader,
		lastActive:    now,
	}
	sm.sessions[session.ID] = session
	delete(sm.idleSince, channel.ID)

	sm.logger.Info("session opened",
		"session", session.ID,
		"channel", channel.Number,
		"remote", remoteAddr)
	sm.updateMetricsLocked(channel.Number, channel.ID)
	return session, nil
}

// Unregister removes a session and closes its reader.
func (sm *SessionManager) Unregister(id uuid.UUID) {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
		if sm.countLocked(session.ChannelID) == 0 {
			sm.idleSince[session.ChannelID] = time.Now()
		}
	}
	var number string
	var channelID models.ULID
	if ok {
		number = session.ChannelNumber
		channelID = session.ChannelID
		sm.updateMetricsLocked(number, channelID)
	}
	sm.mu.Unlock()

	if !ok {
		return
	}
	_ = session.reader.Close()
	sm.logger.Info("session closed",
		"session", id,
		"channel", number,
		"bytes", session.reader.BytesRead())
}

func (sm *SessionManager) countLocked(channelID models.ULID) int {
	n := 0
	for _, s := range sm.sessions {
		if s.ChannelID == channelID {
			n++
		}
	}
	return n
}

func (sm *SessionManager) updateMetricsLocked(number string, channelID models.ULID) {
	if sm.metrics == nil {
		return
	}
	sm.metrics.SessionsActive.Set(float64(len(sm.sessions)))
	sm.metrics.ChannelSubscribers.WithLabelValues(number).Set(float64(sm.countLocked(channelID)))
}

// CountForChannel returns the active session count for a channel.
func (sm *SessionManager) CountForChannel(channelID models.ULID) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.countLocked(channelID)
}

// Snapshot returns session info for all active sessions.
func (sm *SessionManager) Snapshot() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, SessionInfo{
			ID:            s.ID.String(),
			ChannelNumber: s.ChannelNumber,
			RemoteAddr:    s.RemoteAddr,
			UserAgent:     s.UserAgent,
			StartedAt:     s.StartedAt,
			LastActive:    s.LastActive(),
			BytesRead:     s.reader.BytesRead(),
		})
	}
	return out
}

// StartSweeper runs the idle sweep until ctx is cancelled.
func (sm *SessionManager) StartSweeper(ctx context.Context) {
	interval := sm.cfg.ChannelIdleGrace
	if interval <= 0 || interval > 5*time.Second {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.sweep(ctx)
			}
		}
	}()
}

// sweep drops idle sessions and releases channels idle past the grace.
func (sm *SessionManager) sweep(ctx context.Context) {
	now := time.Now()

	var stale []uuid.UUID
	sm.mu.Lock()
	for id, s := range sm.sessions {
		if sm.cfg.IdleTimeout > 0 && now.Sub(s.LastActive()) > sm.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	var release []models.ULID
	for channelID, since := range sm.idleSince {
		if now.Sub(since) >= sm.cfg.ChannelIdleGrace {
			release = append(release, channelID)
			delete(sm.idleSince, channelID)
		}
	}
	releaser := sm.releaser
	sm.mu.Unlock()

	for _, id := range stale {
		sm.logger.Info("sweeping idle session", "session", id)
		sm.Unregister(id)
	}
	if releaser != nil {
		for _, channelID := range release {
			releaser.ReleaseIfIdle(ctx, channelID)
		}
	}
}
