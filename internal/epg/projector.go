// Package epg projects the persisted playout timeline into guide data.
// The projector and the channel streams share one source of truth, the
// playout items, so the guide always matches what transmits.
package epg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/timeline"
)

// trimRetention is how far behind now finished items are kept for the
// audit trail before trimming.
const trimRetention = 24 * time.Hour

// Projector materializes timelines through the shared builder and
// projects them into guide listings. It is the single writer of playout
// state; builds for one channel are serialized.
type Projector struct {
	channels  repository.ChannelRepository
	schedules repository.ScheduleRepository
	playouts  repository.PlayoutRepository
	positions repository.PositionRepository
	media     repository.MediaRepository
	builder   *timeline.Builder
	buildDays int
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[models.ULID]*sync.Mutex
}

// NewProjector creates a projector. positions may be nil; re-bases then
// never resume mid-item.
func NewProjector(
	channels repository.ChannelRepository,
	schedules repository.ScheduleRepository,
	playouts repository.PlayoutRepository,
	positions repository.PositionRepository,
	media repository.MediaRepository,
	builder *timeline.Builder,
	buildDays int,
	logger *slog.Logger,
) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	if buildDays < 1 {
		buildDays = 1
	}
	return &Projector{
		channels:  channels,
		schedules: schedules,
		playouts:  playouts,
		positions: positions,
		media:     media,
		builder:   builder,
		buildDays: buildDays,
		logger:    observability.WithComponent(logger, "epg"),
		locks:     make(map[models.ULID]*sync.Mutex),
	}
}

// channelLock serializes builds per channel.
func (p *Projector) channelLock(channelID models.ULID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[channelID] = l
	}
	return l
}

// EnsureHorizon extends the channel's materialized timeline to cover at
// least until.
func (p *Projector) EnsureHorizon(ctx context.Context, channelID models.ULID, until time.Time) error {
	lock := p.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	channel, err := p.channels.GetByID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return fmt.Errorf("channel %s not found", channelID)
	}

	playout, err := p.playouts.GetOrCreate(ctx, channelID, channel.ScheduleID)
	if err != nil {
		return err
	}
	if !playout.Anchor.IsZero() && !playout.Anchor.NextStart.Before(until) {
		return nil
	}

	var schedule *models.Schedule
	if channel.ScheduleID != nil {
		schedule, err = p.schedules.GetByID(ctx, *channel.ScheduleID)
		if err != nil {
			return fmt.Errorf("loading schedule: %w", err)
		}
	}

	now := time.Now().UTC()
	from := playout.Anchor.NextStart
	if from.IsZero() || from.Before(now) {
		from = now
	}
	horizon := until.Sub(from)
	if horizon <= 0 {
		horizon = time.Hour
	}

	res, err := p.builder.Build(ctx, timeline.BuildRequest{
		Channel:  channel,
		Schedule: schedule,
		Anchor:   playout.Anchor,
		Horizon:  horizon,
		Now:      now,
	})
	if err != nil {
		return fmt.Errorf("building timeline: %w", err)
	}
	for _, issue := range res.Issues {
		p.logger.Warn("timeline build issue",
			"channel", channel.Number,
			"schedule_item", issue.ScheduleItemID,
			"issue", issue.Message)
	}

	err = p.playouts.AppendItems(ctx, playout.ID, res.Items, res.Anchor)
	if errors.Is(err, repository.ErrAnchorRegression) {
		// Another writer advanced the anchor first; its items cover us.
		return nil
	}
	return err
}

// ItemAt returns the materialized item containing t.
func (p *Projector) ItemAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error) {
	playout, err := p.playouts.GetByChannel(ctx, channelID)
	if err != nil || playout == nil {
		return nil, err
	}
	return p.playouts.ItemAt(ctx, playout.ID, t)
}

// Rebase moves an on-demand channel's anchor to now, preserving the
// collection cursor so the schedule resumes where it left off. When a
// playback position was persisted mid-item, the interrupted media is
// re-materialized first, seeked to where transmission stopped.
func (p *Projector) Rebase(ctx context.Context, channelID models.ULID, now time.Time) error {
	lock := p.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	playout, err := p.playouts.GetByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if playout == nil {
		return nil
	}
	if playout.Anchor.IsZero() {
		return nil
	}

	resume, err := p.resumeItem(ctx, channelID, now)
	if err != nil {
		p.logger.Warn("loading resume position failed", "error", err)
		resume = nil
	}

	anchor := models.PlayoutAnchor{NextStart: now, Cursor: playout.Anchor.Cursor}
	if err := p.playouts.ResetAnchor(ctx, playout.ID, anchor); err != nil {
		return err
	}
	if resume == nil {
		return nil
	}
	anchor.NextStart = resume.FinishTime
	return p.playouts.AppendItems(ctx, playout.ID, []*models.PlayoutItem{resume}, anchor)
}

// resumeItem rebuilds the interrupted item from the persisted playback
// position: the same media starting at now, seeked past what already
// transmitted. Nil when no resumable position exists.
func (p *Projector) resumeItem(ctx context.Context, channelID models.ULID, now time.Time) (*models.PlayoutItem, error) {
	if p.positions == nil || p.media == nil {
		return nil, nil
	}
	pos, err := p.positions.Get(ctx, channelID)
	if err != nil || pos == nil || pos.MediaItemID == nil || pos.ElapsedSeconds <= 0 {
		return nil, err
	}
	media, err := p.media.GetByID(ctx, *pos.MediaItemID)
	if err != nil || media == nil {
		return nil, err
	}
	remaining := media.Duration() - time.Duration(pos.ElapsedSeconds)*time.Second
	if remaining <= time.Second {
		// The item had effectively finished; the schedule cursor alone
		// carries the resume.
		return nil, nil
	}
	return &models.PlayoutItem{
		StartTime:   now,
		FinishTime:  now.Add(remaining),
		Title:       media.Title,
		MediaItemID: pos.MediaItemID,
		SeekSeconds: pos.ElapsedSeconds,
	}, nil
}

// Trim drops finished items older than the retention for all channels.
func (p *Projector) Trim(ctx context.Context) error {
	channels, err := p.channels.GetAll(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-trimRetention)
	for _, channel := range channels {
		playout, err := p.playouts.GetByChannel(ctx, channel.ID)
		if err != nil {
			return err
		}
		if playout == nil {
			continue
		}
		if err := p.playouts.TrimBefore(ctx, playout.ID, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// ChannelGuide is one channel's guide listing.
type ChannelGuide struct {
	Channel    *models.Channel
	Programmes []Programme
}

// Programme is one guide entry.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Title       string
	SubTitle    string
	Description string
	Categories  []string
	IconURL     string
	AirDate     *time.Time
	Season      int // zero means unknown
	Episode     int
}

// Guide projects the guide for all enabled channels covering the build
// horizon from now. Channels without a schedule get a single placeholder
// programme so guide consumers still render them.
func (p *Projector) Guide(ctx context.Context, now time.Time) ([]ChannelGuide, error) {
	channels, err := p.channels.GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}

	now = now.UTC()
	horizonEnd := now.Add(time.Duration(p.buildDays) * 24 * time.Hour)
	out := make([]ChannelGuide, 0, len(channels))

	for _, channel := range channels {
		guide := ChannelGuide{Channel: channel}

		if channel.ScheduleID == nil {
			guide.Programmes = []Programme{placeholder(channel, now, horizonEnd)}
			out = append(out, guide)
			continue
		}

		if err := p.EnsureHorizon(ctx, channel.ID, horizonEnd); err != nil {
			p.logger.Warn("extending timeline for guide failed",
				"channel", channel.Number, "error", err)
		}

		playout, err := p.playouts.GetByChannel(ctx, channel.ID)
		if err != nil {
			return nil, err
		}
		if playout == nil {
			guide.Programmes = []Programme{placeholder(channel, now, horizonEnd)}
			out = append(out, guide)
			continue
		}

		items, err := p.playouts.ItemsInWindow(ctx, playout.ID, now, horizonEnd)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			guide.Programmes = []Programme{placeholder(channel, now, horizonEnd)}
			out = append(out, guide)
			continue
		}
		for _, item := range items {
			guide.Programmes = append(guide.Programmes, toProgramme(channel, item))
		}
		out = append(out, guide)
	}
	return out, nil
}

// placeholder fills the guide for a channel with nothing materialized.
func placeholder(channel *models.Channel, start, stop time.Time) Programme {
	return Programme{
		Start:       start,
		Stop:        stop,
		Title:       channel.GuideName(),
		Description: "No programme information available.",
	}
}

// toProgramme converts a playout item, enriching from its media item.
// The title chain is custom/playout title first, then media title, then
// a name derived from the media source, then the channel's guide name.
func toProgramme(channel *models.Channel, item *models.PlayoutItem) Programme {
	prog := Programme{
		Start: item.StartTime,
		Stop:  item.FinishTime,
		Title: item.Title,
	}

	if media := item.MediaItem; media != nil {
		if prog.Title == "" {
			prog.Title = media.Title
		}
		if media.ShowTitle != "" && media.ShowTitle != prog.Title {
			prog.Title = media.ShowTitle
			prog.SubTitle = media.Title
		}
		prog.Description = media.Description
		prog.IconURL = media.ThumbnailURL
		prog.AirDate = media.AirDate
		if media.HasEpisode() {
			prog.Season = media.SeasonNumber
			prog.Episode = media.EpisodeNumber
		}
		if media.Genres != "" {
			prog.Categories = splitGenres(media.Genres)
		}
		if prog.Title == "" {
			prog.Title = sourceBasename(media)
		}
	}
	if prog.Title == "" {
		prog.Title = channel.GuideName()
	}
	return prog
}

// sourceBasename derives a last-resort title from the media's URL or
// source path.
func sourceBasename(media *models.MediaItem) string {
	ref := media.URL
	if ref == "" {
		ref = media.SourceID
	}
	if ref == "" {
		return ""
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	base := path.Base(ref)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func splitGenres(genres string) []string {
	var out []string
	for _, g := range strings.Split(genres, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
