package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/procpool"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/resolver"
)

// fakeProcess stands in for a pool-managed transcoder. Its stdout is a
// pipe the test feeds.
type fakeProcess struct {
	out    *io.PipeReader
	in     *io.PipeWriter
	stderr chan string
	exited chan struct{}
	end    sync.Once

	mu       sync.Mutex
	produced bool
	last     time.Time
}

func newFakeProcess() *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{
		out:    r,
		in:     w,
		stderr: make(chan string),
		exited: make(chan struct{}),
	}
}

func (p *fakeProcess) Stdout() io.ReadCloser   { return p.out }
func (p *fakeProcess) Stderr() <-chan string   { return p.stderr }
func (p *fakeProcess) Exited() <-chan struct{} { return p.exited }
func (p *fakeProcess) ExitErr() error          { return nil }

func (p *fakeProcess) MarkOutput(int) {
	p.mu.Lock()
	p.produced = true
	p.last = time.Now()
	p.mu.Unlock()
}

func (p *fakeProcess) HasProducedOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.produced
}

func (p *fakeProcess) LastOutputAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *fakeProcess) terminate() {
	p.end.Do(func() {
		close(p.exited)
		close(p.stderr)
		_ = p.in.Close()
		_ = p.out.Close()
	})
}

// fakePool hands out prepared processes in order.
type fakePool struct {
	mu     sync.Mutex
	procs  []*fakeProcess
	spawns int
	stops  int
}

func (p *fakePool) Spawn(_ context.Context, _ procpool.SpawnRequest) (Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spawns >= len(p.procs) {
		return nil, errors.New("no process prepared")
	}
	proc := p.procs[p.spawns]
	p.spawns++
	return proc, nil
}

func (p *fakePool) Stop(proc Process, _ time.Duration) error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	if fp, ok := proc.(*fakeProcess); ok {
		fp.terminate()
	}
	return nil
}

// staticTimeline serves a fixed set of materialized items.
type staticTimeline struct {
	items []*models.PlayoutItem
}

func (s *staticTimeline) ItemAt(_ context.Context, _ models.ULID, t time.Time) (*models.PlayoutItem, error) {
	for _, item := range s.items {
		if !t.Before(item.StartTime) && t.Before(item.FinishTime) {
			return item, nil
		}
	}
	return nil, nil
}

func (s *staticTimeline) EnsureHorizon(context.Context, models.ULID, time.Time) error { return nil }

// staticMedia serves one media item by ID.
type staticMedia struct {
	item *models.MediaItem
}

var _ repository.MediaRepository = (*staticMedia)(nil)

func (s *staticMedia) GetByID(_ context.Context, id models.ULID) (*models.MediaItem, error) {
	if s.item != nil && s.item.ID == id {
		return s.item, nil
	}
	return nil, nil
}

func (s *staticMedia) GetCollection(context.Context, models.ULID) (*models.Collection, error) {
	return nil, nil
}

func (s *staticMedia) CollectionItems(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}

func (s *staticMedia) ArtistItems(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}

func (s *staticMedia) ShowEpisodes(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}

func (s *staticMedia) SeasonEpisodes(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}

func (s *staticMedia) GetLibrary(context.Context, models.ULID) (*models.MediaLibrary, error) {
	return nil, nil
}

// tsPackets builds n aligned transport stream packets with dummy payload.
func tsPackets(n int) []byte {
	out := make([]byte, 0, n*tsPacketSize)
	for i := 0; i < n; i++ {
		pkt := bytes.Repeat([]byte{0x11}, tsPacketSize)
		pkt[0] = tsSyncByte
		out = append(out, pkt...)
	}
	return out
}

// newTransmittingStream wires a stream over one fake process playing one
// hour-long item.
func newTransmittingStream(t *testing.T, pool *fakePool, maxFailures int, stall time.Duration) *ChannelStream {
	t.Helper()

	media := &models.MediaItem{
		Source:          models.MediaSourceLocal,
		URL:             "/media/clip.ts",
		Title:           "clip",
		DurationSeconds: 3600,
	}
	media.ID = models.NewULID()

	now := time.Now().UTC()
	item := &models.PlayoutItem{
		StartTime:   now.Add(-time.Minute),
		FinishTime:  now.Add(time.Hour),
		Title:       "clip",
		MediaItemID: &media.ID,
	}
	item.ID = models.NewULID()

	channel := &models.Channel{
		Number:      "2",
		Name:        "2 Westerns",
		PlayoutMode: models.PlayoutModeContinuous,
	}
	channel.ID = models.NewULID()

	catalog := &staticMedia{item: media}
	cs := NewChannelStream(channel, ChannelStreamDeps{
		Pool:                   pool,
		Timeline:               &staticTimeline{items: []*models.PlayoutItem{item}},
		Resolver:               resolver.New(catalog, nil, 0),
		Media:                  catalog,
		Slate:                  NewSlateGenerator(DefaultSlateConfig(), nil),
		FFmpegPath:             "/usr/bin/ffmpeg",
		StallTimeout:           stall,
		MaxConsecutiveFailures: maxFailures,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cs.Stop(ctx)
	})
	return cs
}

func TestPumpHoldsOutputUntilAligned(t *testing.T) {
	proc := newFakeProcess()
	pool := &fakePool{procs: []*fakeProcess{proc}}
	cs := newTransmittingStream(t, pool, 0, 0)

	reader, err := cs.Subscribe()
	require.NoError(t, err)
	cs.Start(context.Background())

	// Container noise ahead of the first packet, including a sync byte
	// with no packet-aligned successor.
	garbage := bytes.Repeat([]byte{0x00}, 100)
	garbage[37] = tsSyncByte
	packets := tsPackets(3)
	go func() {
		_, _ = proc.in.Write(append(garbage, packets...))
	}()

	readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make([]byte, 0, len(packets))
	buf := make([]byte, 4096)
	for len(got) < len(packets) {
		n, err := reader.Read(readCtx, buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}

	// Subscribers see the stream from the first packet boundary on; the
	// unvalidated head never reaches the ring.
	assert.Equal(t, packets, got)
}

func TestPumpFailsStreamOnUnalignedOutput(t *testing.T) {
	proc := newFakeProcess()
	pool := &fakePool{procs: []*fakeProcess{proc}}
	cs := newTransmittingStream(t, pool, 1, 0)

	reader, err := cs.Subscribe()
	require.NoError(t, err)
	cs.Start(context.Background())

	// Enough non-TS output to exhaust the probe window. The stray sync
	// bytes have no aligned successor, so none of it validates.
	junk := bytes.Repeat([]byte{0x00}, syncProbeBytes+2*tsPacketSize)
	junk[50] = tsSyncByte
	junk[300] = tsSyncByte
	go func() {
		_, _ = proc.in.Write(junk)
	}()

	require.Eventually(t, func() bool {
		return cs.State() == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	// The ring closed without a single junk byte reaching subscribers.
	readCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := reader.Read(readCtx, make([]byte, 4096))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPumpToleratesSilentStartup(t *testing.T) {
	proc := newFakeProcess()
	pool := &fakePool{procs: []*fakeProcess{proc}}
	cs := newTransmittingStream(t, pool, 0, 200*time.Millisecond)

	cs.Start(context.Background())

	require.Eventually(t, func() bool {
		return cs.State() == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	// Well past the stall timeout with zero output: startup silence is
	// the pool supervisor's call, not a stall.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, StateRunning, cs.State())
}

func TestSyncOffset(t *testing.T) {
	aligned := tsPackets(3)
	assert.Equal(t, 0, syncOffset(aligned))

	shifted := append(bytes.Repeat([]byte{0xFF}, 10), aligned...)
	assert.Equal(t, 10, syncOffset(shifted))

	// A sync byte without a packet-aligned successor never validates.
	stray := bytes.Repeat([]byte{0x00}, 600)
	stray[5] = tsSyncByte
	assert.Equal(t, -1, syncOffset(stray))

	// Too short to confirm the candidate's boundary yet.
	assert.Equal(t, -1, syncOffset(aligned[:100]))

	assert.Equal(t, -1, syncOffset(bytes.Repeat([]byte{0x00}, 600)))
}
