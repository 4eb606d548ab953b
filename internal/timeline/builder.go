// Package timeline materializes channel schedules into contiguous playout
// items. Build is deterministic: identical inputs (schedule, anchor,
// horizon, clock) always produce identical output, which is what lets the
// EPG projector and the channel stream agree on the timeline.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/repository"
)

// offlineTitle labels the synthetic item emitted when a full schedule
// cycle yields no content.
const offlineTitle = "Off Air"

// BuildRequest carries everything one build pass needs.
type BuildRequest struct {
	Channel  *models.Channel
	Schedule *models.Schedule
	Anchor   models.PlayoutAnchor
	Horizon  time.Duration
	Now      time.Time
}

// Issue is a non-fatal problem encountered during a build, e.g. an empty
// collection that had to be skipped.
type Issue struct {
	ScheduleItemID models.ULID
	Message        string
}

// BuildResult is the outcome of one build pass. Items are contiguous and
// start at the (possibly forward-jumped) anchor. The returned anchor's
// NextStart equals the last item's finish time, or the input cursor when
// nothing was produced.
type BuildResult struct {
	Items  []*models.PlayoutItem
	Anchor models.PlayoutAnchor
	Issues []Issue
}

// Builder materializes playout items from schedules.
type Builder struct {
	media   repository.MediaRepository
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBuilder creates a Builder. metrics may be nil.
func NewBuilder(media repository.MediaRepository, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		media:   media,
		logger:  observability.WithComponent(logger, "timeline"),
		metrics: metrics,
	}
}

// buildState tracks one pass.
type buildState struct {
	req        BuildRequest
	cursor     time.Time
	buildStart time.Time
	horizonEnd time.Time
	cur        models.CollectionCursor
	items      []*models.PlayoutItem
	issues     []Issue
	// emptyVisits counts consecutive schedule items producing nothing;
	// one full barren cycle triggers the offline item.
	emptyVisits int
}

// Build materializes items from the anchor up to the horizon.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if b.metrics != nil {
		start := time.Now()
		defer func() {
			b.metrics.TimelineBuildSeconds.Observe(time.Since(start).Seconds())
		}()
	}

	now := req.Now.UTC()
	cursor := req.Anchor.NextStart
	// A continuous channel that has been down is not backfilled: the
	// anchor jumps forward to reality.
	if cursor.IsZero() || cursor.Before(now) {
		cursor = now
	}

	st := &buildState{
		req:        req,
		cursor:     cursor,
		buildStart: cursor,
		horizonEnd: cursor.Add(req.Horizon),
		cur:        normalizeCursor(req.Anchor.Cursor),
	}

	if req.Schedule == nil || len(req.Schedule.Items) == 0 {
		st.emitOffline(st.horizonEnd)
		return st.result(), nil
	}

	for st.cursor.Before(st.horizonEnd) {
		if err := ctx.Err(); err != nil {
			return BuildResult{}, err
		}
		if st.emptyVisits >= len(req.Schedule.Items) {
			st.emitOffline(st.horizonEnd)
			break
		}
		if err := b.visit(ctx, st); err != nil {
			return BuildResult{}, err
		}
	}

	res := st.result()
	b.logger.Debug("timeline build complete",
		"channel", req.Channel.Number,
		"items", len(res.Items),
		"issues", len(res.Issues),
		"next_start", res.Anchor.NextStart)
	return res, nil
}

func (st *buildState) result() BuildResult {
	anchor := models.PlayoutAnchor{NextStart: st.cursor, Cursor: st.cur}
	if len(st.items) > 0 {
		anchor.NextStart = st.items[len(st.items)-1].FinishTime
	}
	return BuildResult{Items: st.items, Anchor: anchor, Issues: st.issues}
}

// visit processes one schedule item and advances the schedule cursor.
func (b *Builder) visit(ctx context.Context, st *buildState) error {
	schedule := st.req.Schedule
	idx := st.cur.ScheduleIndex % len(schedule.Items)
	si := &schedule.Items[idx]
	advance := func() { st.cur.ScheduleIndex = (idx + 1) % len(schedule.Items) }

	// Fixed-start constraint.
	if si.FixedStartTime != "" {
		before := st.cursor
		proceed, err := b.applyFixedStart(ctx, st, si)
		if err != nil {
			return err
		}
		if !proceed {
			// A skipped item that moved nothing counts as barren so a
			// cycle of unreachable fixed starts cannot spin forever.
			if st.cursor.Equal(before) {
				st.emptyVisits++
			} else {
				st.emptyVisits = 0
			}
			advance()
			return nil
		}
	}

	candidates, err := b.candidates(ctx, st, si)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		if emitted, err := b.emitFallback(ctx, st, si); err != nil {
			return err
		} else if !emitted {
			st.issues = append(st.issues, Issue{
				ScheduleItemID: si.ID,
				Message:        fmt.Sprintf("schedule item %d: empty collection, skipping", si.Position),
			})
			st.emptyVisits++
		} else {
			st.emptyVisits = 0
		}
		advance()
		return nil
	}

	emitted, err := b.consume(ctx, st, si, candidates)
	if err != nil {
		return err
	}
	if emitted {
		st.emptyVisits = 0
	} else {
		st.emptyVisits++
	}
	advance()
	return nil
}

// consume emits candidates for one visit according to the playback mode.
// Returns whether anything was emitted.
func (b *Builder) consume(ctx context.Context, st *buildState, si *models.ScheduleItem, candidates []*models.MediaItem) (bool, error) {
	var toEmit []*models.MediaItem

	switch si.PlaybackMode {
	case models.PlaybackModeOne:
		toEmit = append(toEmit, st.take(si, candidates))

	case models.PlaybackModeMultiple:
		n := si.PlaybackCount
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			toEmit = append(toEmit, st.take(si, candidates))
		}

	case models.PlaybackModeDuration:
		target := si.PlaybackDuration()
		var acc time.Duration
		for acc < target {
			item := st.take(si, candidates)
			toEmit = append(toEmit, item)
			acc += item.Duration()
		}

	case models.PlaybackModeFlood:
		boundary := st.nextFixedBoundary(si)
		cursor := st.cursor
		for cursor.Before(st.horizonEnd) && (boundary.IsZero() || cursor.Before(boundary)) {
			item := st.take(si, candidates)
			toEmit = append(toEmit, item)
			cursor = cursor.Add(item.Duration())
		}

	default:
		return false, fmt.Errorf("unknown playback mode %q", si.PlaybackMode)
	}

	if len(toEmit) == 0 {
		return false, nil
	}

	cut := st.nextImmediateCut(si)
	blockEnd := st.cursor.Add(si.PlaybackDuration())
	if err := b.emitWithFillers(ctx, st, si, toEmit); err != nil {
		return false, err
	}
	// Duration mode fills an exact block; content overshooting it is
	// truncated so the next item starts on time.
	if si.PlaybackMode == models.PlaybackModeDuration && st.cursor.After(blockEnd) {
		st.truncateAt(blockEnd)
	}
	// A start_immediately fixed start cuts whatever overran it, even
	// when the overrun carried the cursor to the horizon and the fixed
	// item would otherwise never be visited.
	if !cut.IsZero() && st.cursor.After(cut) {
		st.truncateAt(cut)
	}
	return true, nil
}

// emitWithFillers emits the visit's candidates with pre/mid/post-roll
// fillers interleaved.
func (b *Builder) emitWithFillers(ctx context.Context, st *buildState, si *models.ScheduleItem, toEmit []*models.MediaItem) error {
	if err := b.emitFiller(ctx, st, si.PreRollFillerID, models.FillerKindPreRoll); err != nil {
		return err
	}

	midFreq := time.Duration(si.MidRollFrequencyMinutes) * time.Minute
	var sinceMid time.Duration

	for i, media := range toEmit {
		if i > 0 && si.MidRollFillerID != nil && midFreq > 0 && sinceMid >= midFreq {
			if err := b.emitFiller(ctx, st, si.MidRollFillerID, models.FillerKindMidRoll); err != nil {
				return err
			}
			sinceMid = 0
		}
		st.emitMedia(media, si.CustomTitle, models.FillerKindNone)
		sinceMid += media.Duration()
	}

	return b.emitFiller(ctx, st, si.PostRollFillerID, models.FillerKindPostRoll)
}

// take returns the next candidate per the playback order, advancing the
// per-item offset and epoch.
func (st *buildState) take(si *models.ScheduleItem, candidates []*models.MediaItem) *models.MediaItem {
	key := si.ID.String()
	offset := st.cur.Offsets[key]
	epoch := st.cur.Epochs[key]

	if offset >= len(candidates) {
		offset = 0
		epoch++
		st.cur.Epochs[key] = epoch
	}

	ordered := orderCandidates(si, candidates, st.req.Channel.ID, epoch)

	var picked *models.MediaItem
	if si.PlaybackOrder == models.PlaybackOrderRandom {
		picked = ordered[randomIndex(st.req.Channel.ID, si.ID, epoch, offset, len(ordered))]
	} else {
		picked = ordered[offset]
	}

	st.cur.Offsets[key] = offset + 1
	return picked
}

// emitMedia appends one playout item at the cursor and advances it.
func (st *buildState) emitMedia(media *models.MediaItem, customTitle string, kind models.FillerKind) {
	title := customTitle
	if title == "" {
		title = media.Title
	}
	id := media.ID
	item := &models.PlayoutItem{
		StartTime:   st.cursor,
		FinishTime:  st.cursor.Add(media.Duration()),
		Title:       title,
		MediaItemID: &id,
		FillerKind:  kind,
	}
	st.items = append(st.items, item)
	st.cursor = item.FinishTime
}

// emitFiller emits a filler media item if the reference is set.
func (b *Builder) emitFiller(ctx context.Context, st *buildState, fillerID *models.ULID, kind models.FillerKind) error {
	if fillerID == nil {
		return nil
	}
	media, err := b.media.GetByID(ctx, *fillerID)
	if err != nil {
		return fmt.Errorf("loading %s filler: %w", kind, err)
	}
	if media == nil {
		return nil
	}
	st.emitMedia(media, "", kind)
	return nil
}

// emitFallback emits the item's fallback filler when its collection is
// empty. Returns whether anything was emitted.
func (b *Builder) emitFallback(ctx context.Context, st *buildState, si *models.ScheduleItem) (bool, error) {
	if si.FallbackFillerID == nil {
		return false, nil
	}
	media, err := b.media.GetByID(ctx, *si.FallbackFillerID)
	if err != nil {
		return false, fmt.Errorf("loading fallback filler: %w", err)
	}
	if media == nil {
		return false, nil
	}
	st.emitMedia(media, si.CustomTitle, models.FillerKindFallback)
	return true, nil
}

// emitOffline appends the synthetic offline item spanning to the given end.
func (st *buildState) emitOffline(until time.Time) {
	if !st.cursor.Before(until) {
		return
	}
	item := &models.PlayoutItem{
		StartTime:  st.cursor,
		FinishTime: until,
		Title:      offlineTitle,
		FillerKind: models.FillerKindOffline,
	}
	st.items = append(st.items, item)
	st.cursor = until
}

// emitGapFiller fills [cursor, until) ahead of a fixed start, using the
// tail filler when configured.
func (b *Builder) emitGapFiller(ctx context.Context, st *buildState, si *models.ScheduleItem, until time.Time) error {
	if !st.cursor.Before(until) {
		return nil
	}
	title := offlineTitle
	var mediaID *models.ULID
	if si.TailFillerID != nil {
		media, err := b.media.GetByID(ctx, *si.TailFillerID)
		if err != nil {
			return fmt.Errorf("loading tail filler: %w", err)
		}
		if media != nil {
			title = media.Title
			id := media.ID
			mediaID = &id
		}
	}
	item := &models.PlayoutItem{
		StartTime:   st.cursor,
		FinishTime:  until,
		Title:       title,
		MediaItemID: mediaID,
		FillerKind:  models.FillerKindTail,
	}
	st.items = append(st.items, item)
	st.cursor = until
	return nil
}

// applyFixedStart aligns the cursor with the item's fixed start time.
// Returns false when the item must be skipped this visit.
func (b *Builder) applyFixedStart(ctx context.Context, st *buildState, si *models.ScheduleItem) (bool, error) {
	target, err := occurrenceOnDay(si.FixedStartTime, st.cursor)
	if err != nil {
		st.issues = append(st.issues, Issue{
			ScheduleItemID: si.ID,
			Message:        fmt.Sprintf("invalid fixed start time %q", si.FixedStartTime),
		})
		return true, nil
	}

	switch {
	case st.cursor.Equal(target):
		return true, nil

	case st.cursor.Before(target):
		// Fill the gap so the item begins exactly on time.
		if target.After(st.horizonEnd) {
			if err := b.emitGapFiller(ctx, st, si, st.horizonEnd); err != nil {
				return false, err
			}
			return false, nil
		}
		if err := b.emitGapFiller(ctx, st, si, target); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Start was missed; behavior decides.
		switch si.FixedStartBehavior {
		case models.FixedStartImmediately:
			// The preceding item is truncated exactly at the fixed start.
			// A start missed before this pass began cannot be cut into;
			// the item plays right away at the cursor instead.
			if !target.Before(st.buildStart) {
				st.truncateAt(target)
			}
			return true, nil
		case models.FixedStartSkipItem:
			return false, nil
		default: // wait_for_next
			next := target.Add(24 * time.Hour)
			if next.After(st.horizonEnd) {
				if err := b.emitGapFiller(ctx, st, si, st.horizonEnd); err != nil {
					return false, err
				}
				return false, nil
			}
			if err := b.emitGapFiller(ctx, st, si, next); err != nil {
				return false, err
			}
			return true, nil
		}
	}
}

// truncateAt clamps already-emitted items so nothing extends past t, and
// rewinds the cursor to t.
func (st *buildState) truncateAt(t time.Time) {
	kept := st.items[:0]
	for _, item := range st.items {
		if !item.StartTime.Before(t) {
			continue
		}
		if item.FinishTime.After(t) {
			item.FinishTime = t
		}
		kept = append(kept, item)
	}
	st.items = kept
	st.cursor = t
}

// nextImmediateCut returns the earliest upcoming fixed start among other
// schedule items whose behavior is start_immediately, zero when none
// exists. Content emitted past it gets truncated there.
func (st *buildState) nextImmediateCut(current *models.ScheduleItem) time.Time {
	var cut time.Time
	for i := range st.req.Schedule.Items {
		si := &st.req.Schedule.Items[i]
		if si.ID == current.ID || si.FixedStartTime == "" ||
			si.FixedStartBehavior != models.FixedStartImmediately {
			continue
		}
		t, err := occurrenceOnDay(si.FixedStartTime, st.cursor)
		if err != nil {
			continue
		}
		if t.Before(st.cursor) {
			t = t.Add(24 * time.Hour)
		}
		if cut.IsZero() || t.Before(cut) {
			cut = t
		}
	}
	return cut
}

// nextFixedBoundary returns the earliest upcoming fixed start among other
// schedule items, zero when none exists.
func (st *buildState) nextFixedBoundary(current *models.ScheduleItem) time.Time {
	var boundary time.Time
	for i := range st.req.Schedule.Items {
		si := &st.req.Schedule.Items[i]
		if si.ID == current.ID || si.FixedStartTime == "" {
			continue
		}
		t, err := occurrenceOnDay(si.FixedStartTime, st.cursor)
		if err != nil {
			continue
		}
		if t.Before(st.cursor) {
			t = t.Add(24 * time.Hour)
		}
		if boundary.IsZero() || t.Before(boundary) {
			boundary = t
		}
	}
	return boundary
}

// occurrenceOnDay resolves a "15:04" UTC time of day on the cursor's day.
func occurrenceOnDay(tod string, cursor time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", tod)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := cursor.UTC().Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC), nil
}

// candidates materializes and orders the content list for a schedule item.
func (b *Builder) candidates(ctx context.Context, st *buildState, si *models.ScheduleItem) ([]*models.MediaItem, error) {
	var (
		items []*models.MediaItem
		err   error
	)
	switch si.CollectionType {
	case models.CollectionTypeSingleMedia:
		item, gerr := b.media.GetByID(ctx, si.CollectionID)
		if gerr != nil {
			err = gerr
		} else if item != nil {
			items = []*models.MediaItem{item}
		}
	case models.CollectionTypePlaylist, models.CollectionTypeCollection,
		models.CollectionTypeSmartCollection, models.CollectionTypeMultiCollection:
		items, err = b.media.CollectionItems(ctx, si.CollectionID)
	case models.CollectionTypeTVShow:
		items, err = b.media.ShowEpisodes(ctx, si.CollectionID)
	case models.CollectionTypeTVSeason:
		items, err = b.media.SeasonEpisodes(ctx, si.CollectionID)
	case models.CollectionTypeArtist:
		items, err = b.media.ArtistItems(ctx, si.CollectionID)
	default:
		return nil, fmt.Errorf("unknown collection type %q", si.CollectionType)
	}
	if err != nil {
		return nil, fmt.Errorf("materializing candidates for schedule item %s: %w", si.ID, err)
	}
	return items, nil
}

// normalizeCursor ensures the cursor maps are non-nil.
func normalizeCursor(c models.CollectionCursor) models.CollectionCursor {
	out := c.Clone()
	if out.Offsets == nil {
		out.Offsets = make(map[string]int)
	}
	if out.Epochs == nil {
		out.Epochs = make(map[string]int)
	}
	return out
}
