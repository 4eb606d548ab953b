package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airwavetv/airwave/internal/ffmpeg"
	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
	"github.com/airwavetv/airwave/internal/procpool"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/resolver"
)

// State is the channel stream lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateAdvancing
	StateRecovering
	StateStopping
	StateStopped
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateAdvancing:
		return "advancing"
	case StateRecovering:
		return "recovering"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// tsPacketSize is the fixed MPEG-TS packet length.
	tsPacketSize = 188

	// syncProbeBytes is how far into the output the MPEG-TS sync byte
	// must appear: three 188-byte packets.
	syncProbeBytes = 3 * tsPacketSize

	// tsSyncByte marks the start of every MPEG-TS packet.
	tsSyncByte = 0x47

	// handoverLead is how long before an item boundary the next process
	// is pre-spawned so the switch is seamless.
	handoverLead = 5 * time.Second

	// positionInterval paces playback position persistence.
	positionInterval = 10 * time.Second

	// maxRecoveryBackoff caps the exponential retry delay.
	maxRecoveryBackoff = 30 * time.Second
)

// ErrNoSyncByte indicates the process output is not MPEG-TS.
var ErrNoSyncByte = errors.New("no MPEG-TS sync byte in output prefix")

// TimelineSource provides the materialized playout under wall-clock time
// and extends it on demand.
type TimelineSource interface {
	// ItemAt returns the playout item containing t, or nil when none is
	// materialized there.
	ItemAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error)
	// EnsureHorizon extends the channel's materialized timeline to cover
	// at least until.
	EnsureHorizon(ctx context.Context, channelID models.ULID, until time.Time) error
}

// HealthSink receives raw process telemetry for failure analysis. All
// methods must be non-blocking.
type HealthSink interface {
	ReportStderr(channelID models.ULID, line string)
	ReportFailure(channelID models.ULID, err error)
	ReportRecovered(channelID models.ULID)
}

// Process is the slice of a pool-managed transcoder the stream layer
// drives: output consumption, liveness marks, and exit classification.
type Process interface {
	Stdout() io.ReadCloser
	Stderr() <-chan string
	Exited() <-chan struct{}
	ExitErr() error
	MarkOutput(n int)
	HasProducedOutput() bool
	LastOutputAt() time.Time
}

// ProcessPool admits and stops transcoder processes.
type ProcessPool interface {
	Spawn(ctx context.Context, req procpool.SpawnRequest) (Process, error)
	Stop(proc Process, grace time.Duration) error
}

// PoolAdapter fits *procpool.Pool to the ProcessPool interface.
type PoolAdapter struct {
	Pool *procpool.Pool
}

func (a PoolAdapter) Spawn(ctx context.Context, req procpool.SpawnRequest) (Process, error) {
	proc, err := a.Pool.Spawn(ctx, req)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (a PoolAdapter) Stop(proc Process, grace time.Duration) error {
	p, ok := proc.(*procpool.Process)
	if !ok {
		return nil
	}
	return a.Pool.Stop(p, grace)
}

// ChannelStreamDeps bundles the collaborators of a channel stream.
type ChannelStreamDeps struct {
	Pool      ProcessPool
	Timeline  TimelineSource
	Resolver  *resolver.Resolver
	Media     repository.MediaRepository
	Positions repository.PositionRepository
	Slate     *SlateGenerator
	Health    HealthSink
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	FFmpegPath     string
	DefaultHWAccel string
	StallTimeout   time.Duration
	Ring           RingConfig

	// MaxConsecutiveFailures ends the recovery loop: once this many
	// transmit attempts fail back to back the stream goes to
	// StateFailed instead of retrying. Zero retries forever.
	MaxConsecutiveFailures int
}

// ChannelStream keeps one channel transmitting: it follows the playout
// timeline, runs one FFmpeg process per item with a pre-spawned successor
// for boundary handover, fans output into the ring, and degrades to the
// fallback slate while recovering.
type ChannelStream struct {
	channel *models.Channel
	deps    ChannelStreamDeps
	logger  *slog.Logger
	ring    *Ring

	state atomic.Int32

	cancel  context.CancelFunc
	done    chan struct{}
	startMu sync.Mutex

	consecutiveFailures atomic.Int32
	lastItemID          atomic.Value // models.ULID of current media
}

// NewChannelStream creates a stream for the given channel. Start must be
// called before subscribing.
func NewChannelStream(channel *models.Channel, deps ChannelStreamDeps) *ChannelStream {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cs := &ChannelStream{
		channel: channel,
		deps:    deps,
		logger:  observability.WithChannel(observability.WithComponent(logger, "channel_stream"), channel.Number),
		ring:    NewRing(deps.Ring),
	}
	cs.setState(StateIdle)
	return cs
}

// Channel returns the channel this stream serves.
func (cs *ChannelStream) Channel() *models.Channel { return cs.channel }

// Ring exposes the fanout buffer for subscriber attachment.
func (cs *ChannelStream) Ring() *Ring { return cs.ring }

// State returns the current lifecycle state.
func (cs *ChannelStream) State() State { return State(cs.state.Load()) }

func (cs *ChannelStream) setState(s State) {
	prev := State(cs.state.Swap(int32(s)))
	if prev != s {
		cs.logger.Debug("state transition", "from", prev.String(), "to", s.String())
	}
	if cs.deps.Metrics != nil {
		cs.deps.Metrics.ChannelState.WithLabelValues(cs.channel.Number).Set(float64(s))
	}
}

// Subscribe attaches a reader at the live head.
func (cs *ChannelStream) Subscribe() (*RingReader, error) {
	return cs.ring.Subscribe()
}

// Subscribers returns the attached reader count.
func (cs *ChannelStream) Subscribers() int { return cs.ring.Readers() }

// Start launches the supervision loop. Idempotent while running.
func (cs *ChannelStream) Start(ctx context.Context) {
	cs.startMu.Lock()
	defer cs.startMu.Unlock()
	if cs.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel
	cs.done = make(chan struct{})
	go cs.run(runCtx)
}

// Stop terminates the stream and closes the ring. Blocks until the loop
// has exited or the context is done.
func (cs *ChannelStream) Stop(ctx context.Context) error {
	cs.startMu.Lock()
	cancel, done := cs.cancel, cs.done
	cs.cancel = nil
	cs.startMu.Unlock()
	if cancel == nil {
		return nil
	}
	cs.setState(StateStopping)
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the supervision loop: one iteration per playout item.
func (cs *ChannelStream) run(ctx context.Context) {
	defer close(cs.done)
	defer cs.ring.Close()
	defer func() {
		// A stream that exhausted its failure budget stays failed.
		if cs.State() != StateFailed {
			cs.setState(StateStopped)
		}
	}()

	cs.setState(StateStarting)
	var next *spawnedItem
	defer func() {
		if next != nil {
			cs.discard(next)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		now := time.Now().UTC()
		if err := cs.deps.Timeline.EnsureHorizon(ctx, cs.channel.ID, now.Add(time.Hour)); err != nil {
			cs.logger.Warn("extending timeline failed", "error", err)
		}

		item, err := cs.deps.Timeline.ItemAt(ctx, cs.channel.ID, now)
		if err != nil || item == nil {
			if err == nil {
				err = errors.New("no playout item materialized for now")
			}
			if !cs.recover(ctx, err) {
				return
			}
			continue
		}

		current := next
		next = nil
		if current == nil || current.item.ID != item.ID {
			if current != nil {
				cs.discard(current)
			}
			current, err = cs.spawnFor(ctx, item, now)
			if err != nil {
				if !cs.recover(ctx, err) {
					return
				}
				continue
			}
		}

		next, err = cs.transmit(ctx, current)
		if err != nil {
			if next != nil {
				cs.discard(next)
				next = nil
			}
			if ctx.Err() != nil {
				return
			}
			if !cs.recover(ctx, err) {
				return
			}
			continue
		}

		cs.consecutiveFailures.Store(0)
		if cs.deps.Health != nil {
			cs.deps.Health.ReportRecovered(cs.channel.ID)
		}
		cs.setState(StateAdvancing)
	}
}

// spawnedItem pairs a playout item with its running process.
type spawnedItem struct {
	item *models.PlayoutItem
	proc Process
}

// spawnFor resolves the item's media and starts its FFmpeg process,
// seeking so playback lands at wall-clock position startAt.
func (cs *ChannelStream) spawnFor(ctx context.Context, item *models.PlayoutItem, startAt time.Time) (*spawnedItem, error) {
	if item.MediaItemID == nil {
		// Synthetic items (offline, unbacked tail filler) transmit the
		// slate instead of media.
		return &spawnedItem{item: item}, nil
	}

	media, err := cs.deps.Media.GetByID(ctx, *item.MediaItemID)
	if err != nil {
		return nil, fmt.Errorf("loading media for item: %w", err)
	}
	if media == nil {
		return nil, fmt.Errorf("media item %s missing from catalog", item.MediaItemID)
	}

	url, err := cs.deps.Resolver.Resolve(ctx, media)
	if err != nil {
		return nil, fmt.Errorf("resolving media: %w", err)
	}

	seek := time.Duration(item.SeekSeconds) * time.Second
	if startAt.After(item.StartTime) {
		seek += startAt.Sub(item.StartTime)
	}

	builder := ffmpeg.NewCommandBuilder(cs.deps.FFmpegPath).
		Realtime().
		Seek(seek).
		Reconnect().
		Input(url).
		ApplyProfile(cs.channel.FFmpegProfile, cs.deps.DefaultHWAccel).
		ApplyWatermark(cs.channel.Watermark).
		MpegtsArgs().
		FlushPackets()
	bin, args := builder.Build()

	proc, err := cs.deps.Pool.Spawn(ctx, procpool.SpawnRequest{
		Binary:    bin,
		Args:      args,
		ChannelID: cs.channel.ID,
		Tags:      []string{cs.channel.Number, item.Title},
		Wait:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("spawning transcoder: %w", err)
	}
	return &spawnedItem{item: item, proc: proc}, nil
}

// discard stops a pre-spawned process that will not be used.
func (cs *ChannelStream) discard(si *spawnedItem) {
	if si.proc != nil {
		_ = cs.deps.Pool.Stop(si.proc, time.Second)
	}
}

// transmit pumps one item's output into the ring until the item's finish
// time, pre-spawning the successor near the boundary. It returns the
// pre-spawned successor, if any.
func (cs *ChannelStream) transmit(ctx context.Context, si *spawnedItem) (*spawnedItem, error) {
	cs.setState(StateRunning)
	cs.logger.Info("transmitting item",
		"title", si.item.Title,
		"start", si.item.StartTime,
		"finish", si.item.FinishTime)

	itemCtx, cancel := context.WithDeadline(ctx, si.item.FinishTime)
	defer cancel()

	if si.proc == nil {
		// Slate-backed synthetic item.
		err := cs.deps.Slate.Pump(itemCtx, cs.ring)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return cs.preSpawnNext(ctx, si.item)
		}
		return nil, err
	}

	defer func() { _ = cs.deps.Pool.Stop(si.proc, 2*time.Second) }()

	go cs.drainStderr(si.proc)

	preCh := make(chan *spawnedItem, 1)
	var preTimer *time.Timer
	if lead := time.Until(si.item.FinishTime) - handoverLead; lead > 0 {
		preTimer = time.AfterFunc(lead, func() {
			n, err := cs.preSpawnNext(ctx, si.item)
			if err != nil {
				cs.logger.Warn("pre-spawning next item failed", "error", err)
				n = nil
			}
			preCh <- n
		})
	}

	err := cs.pump(itemCtx, si)
	cancel()

	var pre *spawnedItem
	if preTimer != nil && !preTimer.Stop() {
		pre = <-preCh
	}

	switch {
	case err == nil || errors.Is(err, context.DeadlineExceeded):
		// Boundary reached.
		if ctx.Err() != nil {
			if pre != nil {
				cs.discard(pre)
			}
			return nil, ctx.Err()
		}
		return pre, nil
	default:
		if pre != nil {
			cs.discard(pre)
		}
		return nil, err
	}
}

// preSpawnNext starts the process for the item following prev.
func (cs *ChannelStream) preSpawnNext(ctx context.Context, prev *models.PlayoutItem) (*spawnedItem, error) {
	if err := cs.deps.Timeline.EnsureHorizon(ctx, cs.channel.ID, prev.FinishTime.Add(time.Hour)); err != nil {
		cs.logger.Warn("extending timeline failed", "error", err)
	}
	item, err := cs.deps.Timeline.ItemAt(ctx, cs.channel.ID, prev.FinishTime)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	return cs.spawnFor(ctx, item, item.StartTime)
}

// pump copies process output into the ring, validating the stream prefix
// and watching for stalls. Returns nil when the item deadline arrives.
func (cs *ChannelStream) pump(ctx context.Context, si *spawnedItem) error {
	stdout := si.proc.Stdout()
	if si.item.MediaItemID != nil {
		cs.lastItemID.Store(*si.item.MediaItemID)
	}

	stall := cs.deps.StallTimeout
	if stall <= 0 {
		stall = 10 * time.Second
	}
	watchdog := time.NewTicker(stall / 2)
	defer watchdog.Stop()

	posTicker := time.NewTicker(positionInterval)
	defer posTicker.Stop()

	type readResult struct {
		n   int
		err error
	}
	readCh := make(chan readResult, 1)
	buf := make([]byte, 32*1024)
	readNext := func() {
		n, err := stdout.Read(buf)
		readCh <- readResult{n: n, err: err}
	}
	go readNext()

	validated := false
	var prefix []byte

	for {
		select {
		case <-ctx.Done():
			cs.persistPosition(si)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()

		case <-watchdog.C:
			// Silence before the first byte is the pool supervisor's
			// startup-timeout call, not a stall.
			if si.proc.HasProducedOutput() && time.Since(si.proc.LastOutputAt()) > stall {
				return fmt.Errorf("transcoder stalled for %s", stall)
			}

		case <-posTicker.C:
			cs.persistPosition(si)

		case <-si.proc.Exited():
			if err := si.proc.ExitErr(); err != nil {
				return fmt.Errorf("transcoder exited: %w", err)
			}
			// Clean exit before the boundary: the media ran short. Let
			// the deadline close the gap via the next loop iteration.
			return fmt.Errorf("transcoder finished %s early", time.Until(si.item.FinishTime).Truncate(time.Second))

		case res := <-readCh:
			if res.n > 0 {
				si.proc.MarkOutput(res.n)
				data := buf[:res.n]
				if !validated {
					// Hold output back until a packet-aligned sync byte
					// proves it is MPEG-TS; subscribers never see the
					// unvalidated head.
					prefix = append(prefix, data...)
					data = nil
					if off := syncOffset(prefix); off >= 0 {
						validated = true
						data = prefix[off:]
						prefix = nil
					} else if len(prefix) >= syncProbeBytes+tsPacketSize {
						return ErrNoSyncByte
					}
				}
				if len(data) > 0 {
					if _, err := cs.ring.Write(data); err != nil {
						return err
					}
					if cs.deps.Metrics != nil {
						cs.deps.Metrics.StreamBytesTotal.WithLabelValues(cs.channel.Number).Add(float64(len(data)))
					}
				}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					// Wait for the exit notification to classify.
					continue
				}
				return fmt.Errorf("reading transcoder output: %w", res.err)
			}
			go readNext()
		}
	}
}

// syncOffset returns the offset of the first sync byte confirmed by a
// second sync byte one packet later, or -1 when p holds no such pair.
// A stray 0x47 inside other content never validates; only packet
// alignment does. The candidate must start within the probe window.
func syncOffset(p []byte) int {
	limit := len(p)
	if limit > syncProbeBytes {
		limit = syncProbeBytes
	}
	for i := 0; i < limit; i++ {
		if p[i] != tsSyncByte {
			continue
		}
		if i+tsPacketSize >= len(p) {
			// Not enough bytes yet to confirm the boundary.
			return -1
		}
		if p[i+tsPacketSize] == tsSyncByte {
			return i
		}
	}
	return -1
}

// drainStderr forwards process stderr to the health sink and log.
func (cs *ChannelStream) drainStderr(proc Process) {
	for line := range proc.Stderr() {
		cs.logger.Debug("transcoder stderr", "line", line)
		if cs.deps.Health != nil {
			cs.deps.Health.ReportStderr(cs.channel.ID, line)
		}
	}
}

// persistPosition records where playback currently is so restarts resume
// close to the live position.
func (cs *ChannelStream) persistPosition(si *spawnedItem) {
	if cs.deps.Positions == nil || si.item.MediaItemID == nil {
		return
	}
	now := time.Now().UTC()
	elapsed := int(now.Sub(si.item.StartTime).Seconds()) + si.item.SeekSeconds
	if elapsed < 0 {
		elapsed = 0
	}
	pos := &models.ChannelPlaybackPosition{
		ChannelID:      cs.channel.ID,
		MediaItemID:    si.item.MediaItemID,
		ElapsedSeconds: elapsed,
		ItemStartedAt:  si.item.StartTime,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cs.deps.Positions.Upsert(ctx, pos); err != nil {
		cs.logger.Warn("persisting playback position failed", "error", err)
	}
}

// recover handles a transmit failure: report, back off while pumping the
// slate so subscribers keep receiving a signal, then let the loop retry.
// Returns false when the stream context ended.
func (cs *ChannelStream) recover(ctx context.Context, cause error) bool {
	if ctx.Err() != nil {
		return false
	}
	failures := cs.consecutiveFailures.Add(1)
	cs.setState(StateRecovering)
	cs.logger.Error("transmission failed, recovering",
		"error", cause,
		"consecutive_failures", failures)

	if cs.deps.Health != nil {
		cs.deps.Health.ReportFailure(cs.channel.ID, cause)
	}
	if id, ok := cs.lastItemID.Load().(models.ULID); ok {
		cs.deps.Resolver.Invalidate(id)
	}

	if max := cs.deps.MaxConsecutiveFailures; max > 0 && int(failures) >= max {
		cs.logger.Error("failure budget exhausted, stream failed",
			"consecutive_failures", failures)
		cs.setState(StateFailed)
		return false
	}

	backoff := time.Second << (failures - 1)
	if backoff > maxRecoveryBackoff || backoff <= 0 {
		backoff = maxRecoveryBackoff
	}

	slateCtx, cancel := context.WithTimeout(ctx, backoff)
	defer cancel()
	if err := cs.deps.Slate.Pump(slateCtx, cs.ring); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		// Slate unavailable; plain sleep keeps the backoff.
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}
