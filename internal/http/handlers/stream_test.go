package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/stream"
)

// fakeOpener hands out sessions from a prepared map and records closes.
type fakeOpener struct {
	sessions map[string]*stream.Session
	err      error
	manager  *stream.SessionManager
	closed   int
}

func (f *fakeOpener) OpenSession(_ context.Context, number, _, _ string) (*stream.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	session, ok := f.sessions[number]
	if !ok {
		return nil, stream.ErrChannelNotFound
	}
	return session, nil
}

func (f *fakeOpener) CloseSession(session *stream.Session) {
	f.closed++
	if f.manager != nil {
		f.manager.Unregister(session.ID)
	}
}

func staticBase(base string) func(*http.Request) string {
	return func(*http.Request) string { return base }
}

func newStreamRouter(opener SessionOpener) *chi.Mux {
	handler := NewStreamHandler(opener, staticBase("http://10.0.0.5:5004"), nil)
	router := chi.NewRouter()
	handler.Register(router)
	return router
}

// liveSession builds a real session over a ring preloaded with payload.
func liveSession(t *testing.T, payload []byte) (*stream.Session, *stream.SessionManager) {
	t.Helper()

	ring := stream.NewRing(stream.DefaultRingConfig())
	reader, err := ring.Subscribe()
	require.NoError(t, err)

	_, err = ring.Write(payload)
	require.NoError(t, err)
	ring.Close()

	manager := stream.NewSessionManager(config.SessionConfig{
		MaxSessionsPerChannel: 4,
		IdleTimeout:           time.Minute,
		ChannelIdleGrace:      time.Minute,
	}, nil, nil)

	channel := testChannel("2", "2 Westerns")
	session, err := manager.Register(channel, reader, "10.0.0.9:1234", "test")
	require.NoError(t, err)
	return session, manager
}

func TestServeUnknownChannel(t *testing.T) {
	router := newStreamRouter(&fakeOpener{sessions: map[string]*stream.Session{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/iptv/channel/99.ts", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeDisabledChannel(t *testing.T) {
	router := newStreamRouter(&fakeOpener{err: stream.ErrChannelDisabled})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/auto/v5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeSaturatedChannel(t *testing.T) {
	router := newStreamRouter(&fakeOpener{err: stream.ErrChannelSaturated})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/iptv/channel/2.ts", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeStreamsRingBytes(t *testing.T) {
	payload := []byte{0x47, 1, 2, 3, 4, 5, 6, 7}
	session, manager := liveSession(t, payload)
	opener := &fakeOpener{
		sessions: map[string]*stream.Session{"2": session},
		manager:  manager,
	}
	router := newStreamRouter(opener)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/iptv/channel/2.ts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	// Proxies must never cache or buffer a live transport stream.
	assert.Equal(t, "no-cache, no-store, must-revalidate, private", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, 1, opener.closed)
}

func TestServeAutoAlias(t *testing.T) {
	payload := []byte{0x47, 9, 9, 9}
	session, manager := liveSession(t, payload)
	router := newStreamRouter(&fakeOpener{
		sessions: map[string]*stream.Session{"2": session},
		manager:  manager,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/auto/v2", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestServePlaylistIndirection(t *testing.T) {
	router := newStreamRouter(&fakeOpener{sessions: map[string]*stream.Session{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/iptv/channel/2.m3u8", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/x-mpegurl", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "#EXTM3U")
	assert.Contains(t, body, "http://10.0.0.5:5004/iptv/channel/2.ts")
}
