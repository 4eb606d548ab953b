package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/config"
	airhttp "github.com/airwavetv/airwave/internal/http"
	"github.com/airwavetv/airwave/internal/procpool"
	"github.com/airwavetv/airwave/internal/selfheal"
	"github.com/airwavetv/airwave/internal/stream"
)

type fakeStreams struct{}

func (fakeStreams) ActiveStreams() []*stream.ChannelStream { return nil }

type fakeSessions struct {
	infos []stream.SessionInfo
}

func (f fakeSessions) Snapshot() []stream.SessionInfo { return f.infos }

type fakeIssues struct {
	issues []selfheal.Issue
}

func (f fakeIssues) Issues() []selfheal.Issue { return f.issues }

type fakePool struct {
	stats []procpool.ProcessStats
}

func (f fakePool) Snapshot() []procpool.ProcessStats { return f.stats }

func newStatusServer(t *testing.T, handler *StatusHandler) *airhttp.Server {
	t.Helper()
	server := airhttp.NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil, "test")
	handler.Register(server.API())
	return server
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewStatusHandler("1.2.3", nil, &fakeChannels{}, fakeStreams{}, fakeSessions{}, fakeIssues{}, fakePool{})
	server := newStatusServer(t, handler)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestStatusEndpoint(t *testing.T) {
	handler := NewStatusHandler("1.2.3", nil, &fakeChannels{}, fakeStreams{},
		fakeSessions{infos: []stream.SessionInfo{{ChannelNumber: "2"}}},
		fakeIssues{},
		fakePool{stats: []procpool.ProcessStats{{PID: 42}}})
	server := newStatusServer(t, handler)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["active_sessions"])
	assert.Equal(t, float64(1), body["ffmpeg_children"])
	assert.NotEmpty(t, body["go_version"])
}

func TestChannelStatusEndpoint(t *testing.T) {
	repo := &fakeChannels{}
	require.NoError(t, repo.Create(context.Background(), testChannel("2", "2 Westerns")))

	handler := NewStatusHandler("test", nil, repo, fakeStreams{}, fakeSessions{}, fakeIssues{}, fakePool{})
	server := newStatusServer(t, handler)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/channels", nil))

	require.Equal(t, 200, rec.Code)
	var body struct {
		Channels []ChannelStatus `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	assert.Equal(t, "2", body.Channels[0].Number)
	assert.Equal(t, "Westerns", body.Channels[0].Name)
	assert.Equal(t, "idle", body.Channels[0].StreamState)
	assert.True(t, body.Channels[0].Enabled)
}

func TestIssuesEndpoint(t *testing.T) {
	now := time.Now().UTC()
	handler := NewStatusHandler("test", nil, &fakeChannels{}, fakeStreams{}, fakeSessions{},
		fakeIssues{issues: []selfheal.Issue{{
			Kind:       selfheal.KindHTTPForbidden,
			Strategy:   selfheal.StrategyRefresh,
			State:      selfheal.IssueResolved,
			DetectedAt: now,
		}}},
		fakePool{})
	server := newStatusServer(t, handler)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/issues", nil))

	require.Equal(t, 200, rec.Code)
	var body struct {
		Issues []selfheal.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Issues, 1)
	assert.Equal(t, selfheal.StrategyRefresh, body.Issues[0].Strategy)
}
