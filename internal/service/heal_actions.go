package service

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
	"github.com/airwavetv/airwave/internal/resolver"
	"github.com/airwavetv/airwave/internal/selfheal"
	"github.com/airwavetv/airwave/internal/stream"
)

// HealActions wires the self-healing strategies to the running engine.
// The stream manager is attached after construction: the healer must
// exist before the manager so streams can report into it.
type HealActions struct {
	channels repository.ChannelRepository
	timeline stream.TimelineSource
	resolver *resolver.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	manager *stream.Manager
}

var _ selfheal.Actions = (*HealActions)(nil)

// NewHealActions creates the action adapter.
func NewHealActions(
	channels repository.ChannelRepository,
	timeline stream.TimelineSource,
	res *resolver.Resolver,
	logger *slog.Logger,
) *HealActions {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealActions{
		channels: channels,
		timeline: timeline,
		resolver: res,
		logger:   observability.WithComponent(logger, "heal-actions"),
	}
}

// SetManager attaches the stream manager once it exists.
func (a *HealActions) SetManager(m *stream.Manager) {
	a.mu.Lock()
	a.manager = m
	a.mu.Unlock()
}

func (a *HealActions) streamManager() (*stream.Manager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manager == nil {
		return nil, errors.New("stream manager not attached")
	}
	return a.manager, nil
}

// RefreshMedia drops the cached URL for whatever the channel is
// transmitting right now, then restarts the stream so the next spawn
// re-resolves it.
func (a *HealActions) RefreshMedia(ctx context.Context, channelID models.ULID) error {
	item, err := a.timeline.ItemAt(ctx, channelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("locating current item: %w", err)
	}
	if item == nil || item.MediaItemID == nil {
		// Filler or offline; nothing cached to refresh.
		return nil
	}
	a.resolver.Invalidate(*item.MediaItemID)
	a.logger.Info("media URL invalidated",
		"channel", channelID, "media_item", *item.MediaItemID)
	manager, err := a.streamManager()
	if err != nil {
		return err
	}
	return manager.RestartChannel(ctx, channelID)
}

// RestartStream tears the channel's stream down; it restarts on the
// next tune or pre-warm.
func (a *HealActions) RestartStream(ctx context.Context, channelID models.ULID) error {
	manager, err := a.streamManager()
	if err != nil {
		return err
	}
	return manager.RestartChannel(ctx, channelID)
}

// ReduceProfile clears the channel's transcode profile so it falls
// back to the built-in defaults, then restarts the stream.
func (a *HealActions) ReduceProfile(ctx context.Context, channelID models.ULID) error {
	channel, err := a.channels.GetByID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return fmt.Errorf("channel %s not found", channelID)
	}
	if channel.FFmpegProfileID != nil {
		channel.FFmpegProfileID = nil
		channel.FFmpegProfile = nil
		if err := a.channels.Update(ctx, channel); err != nil {
			return fmt.Errorf("clearing transcode profile: %w", err)
		}
		a.logger.Warn("transcode profile cleared after encoder failures",
			"channel", channel.Number)
	}
	manager, err := a.streamManager()
	if err != nil {
		return err
	}
	return manager.RestartChannel(ctx, channelID)
}
