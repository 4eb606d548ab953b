package epg

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/database"
	"github.com/airwavetv/airwave/internal/database/migrations"
	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/timeline"
)

type fixture struct {
	db        *database.DB
	channels  repository.ChannelRepository
	playouts  repository.PlayoutRepository
	positions repository.PositionRepository
	projector *Projector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}
	db, err := database.New(cfg, nil, &database.Options{PrepareStmt: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrations.NewMigrator(db.DB, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))

	channels := repository.NewChannelRepository(db.DB)
	schedules := repository.NewScheduleRepository(db.DB)
	playouts := repository.NewPlayoutRepository(db.DB)
	media := repository.NewMediaRepository(db.DB)
	positions := repository.NewPositionRepository(db.DB)
	builder := timeline.NewBuilder(media, nil, nil)

	return &fixture{
		db:        db,
		channels:  channels,
		playouts:  playouts,
		positions: positions,
		projector: NewProjector(channels, schedules, playouts, positions, media, builder, 1, nil),
	}
}

// seedChannel creates a channel with a one-item looping schedule over a
// small playlist.
func (f *fixture) seedChannel(t *testing.T, number string) *models.Channel {
	t.Helper()

	var items []*models.MediaItem
	for _, title := range []string{"First", "Second"} {
		item := &models.MediaItem{
			Source:          models.MediaSourceLocal,
			SourceID:        "/media/" + title,
			Title:           title,
			DurationSeconds: 30 * 60,
			Description:     "Episode of " + title,
			Genres:          "western, drama",
		}
		require.NoError(t, f.db.Create(item).Error)
		items = append(items, item)
	}

	collection := &models.Collection{Name: "loop", Kind: models.CollectionKindPlaylist}
	require.NoError(t, f.db.Create(collection).Error)
	for i, item := range items {
		member := &models.CollectionMember{
			CollectionID: collection.ID,
			Position:     i,
			MediaItemID:  &item.ID,
		}
		require.NoError(t, f.db.Create(member).Error)
	}

	schedule := &models.Schedule{Name: "loop " + number}
	require.NoError(t, f.db.Create(schedule).Error)
	scheduleItem := &models.ScheduleItem{
		ScheduleID:     schedule.ID,
		CollectionType: models.CollectionTypePlaylist,
		CollectionID:   collection.ID,
		PlaybackMode:   models.PlaybackModeOne,
		PlaybackOrder:  models.PlaybackOrderChronological,
	}
	require.NoError(t, f.db.Create(scheduleItem).Error)

	channel := &models.Channel{
		Number:      number,
		Name:        number + " Westerns",
		PlayoutMode: models.PlayoutModeContinuous,
		ScheduleID:  &schedule.ID,
	}
	require.NoError(t, f.db.Create(channel).Error)
	return channel
}

func TestEnsureHorizonMaterializes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	until := time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, until))

	playout, err := f.playouts.GetByChannel(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, playout)
	assert.False(t, playout.Anchor.NextStart.Before(until))

	// Idempotent when already covered.
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, until))

	items, err := f.playouts.ItemsInWindow(ctx, playout.ID, time.Now().UTC(), until)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i].StartTime.Equal(items[i-1].FinishTime))
	}
}

func TestItemAtMatchesGuide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	now := time.Now().UTC()
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, now.Add(time.Hour)))

	item, err := f.projector.ItemAt(ctx, channel.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, item)

	guide, err := f.projector.Guide(ctx, now)
	require.NoError(t, err)
	require.Len(t, guide, 1)
	require.NotEmpty(t, guide[0].Programmes)

	// The transmitting item and the first guide programme agree.
	first := guide[0].Programmes[0]
	assert.Equal(t, item.Title, first.Title)
	assert.True(t, first.Start.Equal(item.StartTime))
}

func TestGuidePlaceholderForScheduleLessChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	channel := &models.Channel{
		Number:      "9",
		Name:        "9 Placeholder",
		PlayoutMode: models.PlayoutModeContinuous,
	}
	require.NoError(t, f.db.Create(channel).Error)

	guide, err := f.projector.Guide(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, guide, 1)
	require.Len(t, guide[0].Programmes, 1)
	assert.Equal(t, "Placeholder", guide[0].Programmes[0].Title)
}

func TestGuideEnrichesFromMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	now := time.Now().UTC()
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, now.Add(time.Hour)))

	guide, err := f.projector.Guide(ctx, now)
	require.NoError(t, err)
	require.NotEmpty(t, guide)
	require.NotEmpty(t, guide[0].Programmes)

	prog := guide[0].Programmes[0]
	assert.NotEmpty(t, prog.Description)
	assert.Equal(t, []string{"western", "drama"}, prog.Categories)
}

func TestRebasePreservesCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	now := time.Now().UTC()
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, now.Add(2*time.Hour)))

	playout, err := f.playouts.GetByChannel(ctx, channel.ID)
	require.NoError(t, err)
	cursorBefore := playout.Anchor.Cursor

	rebaseTo := now.Add(30 * time.Minute)
	require.NoError(t, f.projector.Rebase(ctx, channel.ID, rebaseTo))

	playout, err = f.playouts.GetByChannel(ctx, channel.ID)
	require.NoError(t, err)
	assert.True(t, playout.Anchor.NextStart.Equal(rebaseTo))
	assert.Equal(t, cursorBefore.Offsets, playout.Anchor.Cursor.Offsets)

	// Items extending past the re-based anchor were dropped.
	items, err := f.playouts.ItemsInWindow(ctx, playout.ID, rebaseTo, rebaseTo.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRebaseResumesFromPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, f.projector.EnsureHorizon(ctx, channel.ID, now.Add(2*time.Hour)))

	// "Second" was interrupted seven minutes in before the channel went
	// idle.
	var second models.MediaItem
	require.NoError(t, f.db.Where("title = ?", "Second").First(&second).Error)
	require.NoError(t, f.positions.Upsert(ctx, &models.ChannelPlaybackPosition{
		ChannelID:      channel.ID,
		MediaItemID:    &second.ID,
		ElapsedSeconds: 420,
		ItemStartedAt:  now.Add(-7 * time.Minute),
		PersistedAt:    now,
	}))

	wake := now.Add(45 * time.Minute)
	require.NoError(t, f.projector.Rebase(ctx, channel.ID, wake))

	item, err := f.projector.ItemAt(ctx, channel.ID, wake)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.NotNil(t, item.MediaItemID)
	assert.Equal(t, second.ID, *item.MediaItemID)
	assert.Equal(t, 420, item.SeekSeconds)
	assert.True(t, item.StartTime.Equal(wake))
	// 30 minutes of media with 7 already transmitted leaves 23.
	assert.True(t, item.FinishTime.Equal(wake.Add(23*time.Minute)))

	playout, err := f.playouts.GetByChannel(ctx, channel.ID)
	require.NoError(t, err)
	assert.True(t, playout.Anchor.NextStart.Equal(item.FinishTime))
}

func TestProgrammeTitleFallbacks(t *testing.T) {
	channel := &models.Channel{Number: "2", Name: "2 Westerns"}
	window := func(media *models.MediaItem) *models.PlayoutItem {
		start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
		return &models.PlayoutItem{StartTime: start, FinishTime: start.Add(time.Hour), MediaItem: media}
	}

	// An untitled playout item inherits the media title.
	prog := toProgramme(channel, window(&models.MediaItem{Title: "High Noon"}))
	assert.Equal(t, "High Noon", prog.Title)

	// No titles anywhere: derive one from the source path.
	prog = toProgramme(channel, window(&models.MediaItem{SourceID: "/media/Some.File.mkv"}))
	assert.Equal(t, "Some.File", prog.Title)

	// URLs lose their query before the basename is taken.
	prog = toProgramme(channel, window(&models.MediaItem{URL: "https://cdn.example/vod/rio-bravo.mp4?token=abc"}))
	assert.Equal(t, "rio-bravo", prog.Title)

	// Nothing derivable at all: the channel's guide name.
	prog = toProgramme(channel, window(&models.MediaItem{}))
	assert.Equal(t, channel.GuideName(), prog.Title)
}

func TestTrimDropsOldItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := f.seedChannel(t, "2")

	playout, err := f.playouts.GetOrCreate(ctx, channel.ID, channel.ScheduleID)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-72 * time.Hour)
	stale := []*models.PlayoutItem{{
		StartTime:  old,
		FinishTime: old.Add(time.Hour),
		Title:      "ancient",
	}}
	require.NoError(t, f.playouts.AppendItems(ctx, playout.ID, stale, models.PlayoutAnchor{NextStart: old.Add(time.Hour)}))

	require.NoError(t, f.projector.Trim(ctx))

	items, err := f.playouts.ItemsInWindow(ctx, playout.ID, old.Add(-time.Hour), old.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items)
}
