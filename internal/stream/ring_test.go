package stream

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, rr *RingReader, want int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []byte
	buf := make([]byte, 1024)
	for len(out) < want {
		n, err := rr.Read(ctx, buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
	return out
}

func TestRingFanout(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	r1, err := ring.Subscribe()
	require.NoError(t, err)
	r2, err := ring.Subscribe()
	require.NoError(t, err)

	payload := []byte("0123456789")
	_, err = ring.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, payload, readAll(t, r1, len(payload)))
	assert.Equal(t, payload, readAll(t, r2, len(payload)))
	assert.Equal(t, 2, ring.Readers())
}

func TestRingSubscribeAtHead(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	_, err := ring.Write([]byte("old"))
	require.NoError(t, err)

	rr, err := ring.Subscribe()
	require.NoError(t, err)

	// The late joiner only sees data written after subscribing.
	_, err = ring.Write([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), readAll(t, rr, 3))
}

func TestRingDrainThenEOF(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	rr, err := ring.Subscribe()
	require.NoError(t, err)

	_, err = ring.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	assert.Equal(t, []byte("tail"), readAll(t, rr, 4))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = rr.Read(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRingWriteAfterClose(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	require.NoError(t, ring.Close())
	_, err := ring.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrRingClosed)
}

func TestRingSlowReaderForceClosed(t *testing.T) {
	ring := NewRing(RingConfig{MaxBytes: 1 << 20, MaxChunks: 4})
	slow, err := ring.Subscribe()
	require.NoError(t, err)

	// Push well past the chunk budget without the reader consuming.
	for i := 0; i < 10; i++ {
		_, err := ring.Write(bytes.Repeat([]byte{byte(i)}, 8))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = slow.Read(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, ErrSlowReader)
	assert.Equal(t, 0, ring.Readers())
}

func TestRingSlowReaderDoesNotAffectOthers(t *testing.T) {
	ring := NewRing(RingConfig{MaxBytes: 1 << 20, MaxChunks: 4})
	slow, err := ring.Subscribe()
	require.NoError(t, err)

	var fastBytes int
	var wg sync.WaitGroup
	fast, err := ring.Subscribe()
	require.NoError(t, err)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		buf := make([]byte, 1024)
		for fastBytes < 80 {
			n, err := fast.Read(ctx, buf)
			if err != nil {
				return
			}
			fastBytes += n
		}
	}()

	for i := 0; i < 10; i++ {
		_, err := ring.Write(bytes.Repeat([]byte{byte(i)}, 8))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 80, fastBytes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = slow.Read(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, ErrSlowReader)
}

func TestRingReaderClose(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	rr, err := ring.Subscribe()
	require.NoError(t, err)
	require.NoError(t, rr.Close())
	assert.Equal(t, 0, ring.Readers())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = rr.Read(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestRingReadBlocksUntilWrite(t *testing.T) {
	ring := NewRing(DefaultRingConfig())
	rr, err := ring.Subscribe()
	require.NoError(t, err)

	done := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		buf := make([]byte, 16)
		n, err := rr.Read(ctx, buf)
		if err != nil {
			done <- nil
			return
		}
		done <- buf[:n]
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = ring.Write([]byte("late"))
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, []byte("late"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke up")
	}
}
