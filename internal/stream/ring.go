// Package stream implements per-channel transport: the ring buffer that
// fans one FFmpeg output out to many clients, the channel stream
// supervisor that keeps a channel transmitting around item boundaries,
// and the session and channel managers on top.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRingClosed is returned to writers once the ring is closed.
	ErrRingClosed = errors.New("ring buffer closed")

	// ErrSlowReader is returned to a reader that fell behind the
	// retention window. The reader is detached; one slow client never
	// stalls the producer or the other readers.
	ErrSlowReader = errors.New("reader fell behind ring buffer retention")

	// ErrReaderClosed is returned after a reader has been detached.
	ErrReaderClosed = errors.New("ring reader closed")
)

// RingConfig bounds the per-channel ring buffer.
type RingConfig struct {
	// MaxBytes is the retained byte budget.
	MaxBytes int
	// MaxChunks caps the retained chunk count.
	MaxChunks int
}

// DefaultRingConfig returns the per-channel defaults.
func DefaultRingConfig() RingConfig {
	return RingConfig{
		MaxBytes:  8 << 20,
		MaxChunks: 512,
	}
}

// chunk is one write, tagged with a monotonically increasing sequence.
type chunk struct {
	seq  uint64
	data []byte
}

// Ring is a bounded sequence-numbered fanout buffer. One writer appends
// chunks; each reader follows its own cursor. Eviction is by byte and
// chunk budget; a reader whose cursor falls off the retained window is
// force-closed with ErrSlowReader.
type Ring struct {
	cfg RingConfig

	mu      sync.Mutex
	chunks  []chunk
	seq     uint64
	bytes   int
	closed  bool
	readers map[uuid.UUID]*RingReader

	written atomic.Uint64
}

// NewRing creates a ring buffer.
func NewRing(cfg RingConfig) *Ring {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultRingConfig().MaxBytes
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultRingConfig().MaxChunks
	}
	return &Ring{
		cfg:     cfg,
		readers: make(map[uuid.UUID]*RingReader),
	}
}

// Write appends one chunk and wakes all readers. The data is copied so
// the caller may reuse its buffer. Implements io.Writer.
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	data := make([]byte, len(p))
	copy(data, p)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRingClosed
	}
	r.seq++
	r.chunks = append(r.chunks, chunk{seq: r.seq, data: data})
	r.bytes += len(data)
	r.evictLocked()
	readers := r.snapshotReadersLocked()
	r.mu.Unlock()

	r.written.Add(uint64(len(p)))
	for _, reader := range readers {
		reader.notify()
	}
	return len(p), nil
}

// evictLocked drops oldest chunks past the budgets and force-closes
// readers whose cursor the eviction overtook.
func (r *Ring) evictLocked() {
	evicted := false
	for len(r.chunks) > r.cfg.MaxChunks || (r.bytes > r.cfg.MaxBytes && len(r.chunks) > 1) {
		r.bytes -= len(r.chunks[0].data)
		r.chunks = r.chunks[1:]
		evicted = true
	}
	if !evicted || len(r.chunks) == 0 {
		return
	}
	oldest := r.chunks[0].seq
	for id, reader := range r.readers {
		if reader.cursor.Load()+1 < oldest {
			reader.fail(ErrSlowReader)
			delete(r.readers, id)
		}
	}
}

func (r *Ring) snapshotReadersLocked() []*RingReader {
	out := make([]*RingReader, 0, len(r.readers))
	for _, reader := range r.readers {
		out = append(out, reader)
	}
	return out
}

// Subscribe attaches a new reader positioned at the current head, so it
// receives only data written after this call.
func (r *Ring) Subscribe() (*RingReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRingClosed
	}

	reader := &RingReader{
		id:     uuid.New(),
		ring:   r,
		wakeCh: make(chan struct{}, 1),
	}
	reader.cursor.Store(r.seq)
	r.readers[reader.id] = reader
	return reader, nil
}

// Readers returns the number of attached readers.
func (r *Ring) Readers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readers)
}

// BytesWritten returns the total bytes ever written.
func (r *Ring) BytesWritten() uint64 {
	return r.written.Load()
}

// Close stops accepting writes. Attached readers drain what remains and
// then see io.EOF.
func (r *Ring) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	readers := r.snapshotReadersLocked()
	r.mu.Unlock()

	for _, reader := range readers {
		reader.notify()
	}
	return nil
}

// detach removes a reader, typically because the client went away.
func (r *Ring) detach(id uuid.UUID) {
	r.mu.Lock()
	delete(r.readers, id)
	r.mu.Unlock()
}

// next returns chunks past the reader's cursor, whether the ring is
// closed, and whether the cursor fell off the retention window.
func (r *Ring) next(reader *RingReader) (out [][]byte, closed, behind bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cursor := reader.cursor.Load()
	if len(r.chunks) > 0 && cursor+1 < r.chunks[0].seq {
		return nil, r.closed, true
	}
	for _, c := range r.chunks {
		if c.seq > cursor {
			out = append(out, c.data)
			cursor = c.seq
		}
	}
	reader.cursor.Store(cursor)
	return out, r.closed, false
}

// RingReader is one client's view of a ring. Not safe for concurrent
// Read calls.
type RingReader struct {
	id     uuid.UUID
	ring   *Ring
	cursor atomic.Uint64
	wakeCh chan struct{}

	pending   [][]byte
	bytesRead atomic.Uint64

	failMu  sync.Mutex
	failErr error
}

// ID returns the reader's identity.
func (rr *RingReader) ID() uuid.UUID { return rr.id }

// BytesRead returns the total bytes delivered to this reader.
func (rr *RingReader) BytesRead() uint64 { return rr.bytesRead.Load() }

func (rr *RingReader) notify() {
	select {
	case rr.wakeCh <- struct{}{}:
	default:
	}
}

func (rr *RingReader) fail(err error) {
	rr.failMu.Lock()
	if rr.failErr == nil {
		rr.failErr = err
	}
	rr.failMu.Unlock()
	rr.notify()
}

func (rr *RingReader) failure() error {
	rr.failMu.Lock()
	defer rr.failMu.Unlock()
	return rr.failErr
}

// Read blocks until data, closure, or ctx cancellation. After the ring
// closes, remaining chunks drain and then Read returns io.EOF.
func (rr *RingReader) Read(ctx context.Context, p []byte) (int, error) {
	for {
		if len(rr.pending) > 0 {
			n := copy(p, rr.pending[0])
			if n == len(rr.pending[0]) {
				rr.pending = rr.pending[1:]
			} else {
				rr.pending[0] = rr.pending[0][n:]
			}
			rr.bytesRead.Add(uint64(n))
			return n, nil
		}

		if err := rr.failure(); err != nil {
			return 0, err
		}

		chunks, closed, behind := rr.ring.next(rr)
		if behind {
			rr.ring.detach(rr.id)
			return 0, ErrSlowReader
		}
		if len(chunks) > 0 {
			rr.pending = chunks
			continue
		}
		if closed {
			return 0, io.EOF
		}

		select {
		case <-rr.wakeCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close detaches the reader from the ring.
func (rr *RingReader) Close() error {
	rr.fail(ErrReaderClosed)
	rr.ring.detach(rr.id)
	return nil
}

// WriteTo streams everything to w until the ring closes or an error
// occurs, waiting up to idle between chunks when idle > 0.
func (rr *RingReader) WriteTo(ctx context.Context, w io.Writer, idle time.Duration) (int64, error) {
	var total int64
	buf := make([]byte, 64*1024)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if idle > 0 {
			readCtx, cancel = context.WithTimeout(ctx, idle)
		}
		n, err := rr.Read(readCtx, buf)
		if cancel != nil {
			cancel()
		}
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			return total, err
		}
	}
}
