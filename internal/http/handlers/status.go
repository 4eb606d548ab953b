package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/procpool"
	"github.com/airwavetv/airwave/internal/repository"
	"github.com/airwavetv/airwave/internal/selfheal"
	"github.com/airwavetv/airwave/internal/stream"
)

// StreamStatus reports running stream state for the status API.
type StreamStatus interface {
	ActiveStreams() []*stream.ChannelStream
}

// SessionSource snapshots active client sessions.
type SessionSource interface {
	Snapshot() []stream.SessionInfo
}

// IssueSource lists the self-healing issue log.
type IssueSource interface {
	Issues() []selfheal.Issue
}

// PoolSource samples the FFmpeg process pool.
type PoolSource interface {
	Snapshot() []procpool.ProcessStats
}

// StatusHandler registers the huma status API.
type StatusHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	channels  repository.ChannelRepository
	streams   StreamStatus
	sessions  SessionSource
	issues    IssueSource
	pool      PoolSource
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(
	version string,
	db *gorm.DB,
	channels repository.ChannelRepository,
	streams StreamStatus,
	sessions SessionSource,
	issues IssueSource,
	pool PoolSource,
) *StatusHandler {
	return &StatusHandler{
		version:   version,
		startTime: time.Now(),
		db:        db,
		channels:  channels,
		streams:   streams,
		sessions:  sessions,
		issues:    issues,
		pool:      pool,
	}
}

// Register mounts the status operations on the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Engine status",
		Description: "Returns uptime, system load, and headline playout counts",
		Tags:        []string{"Status"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listChannelStatus",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "Per-channel stream status",
		Tags:        []string{"Status"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "Active client sessions",
		Tags:        []string{"Status"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "listIssues",
		Method:      "GET",
		Path:        "/api/v1/issues",
		Summary:     "Self-healing issue log",
		Tags:        []string{"Status"},
	}, h.ListIssues)

	huma.Register(api, huma.Operation{
		OperationID: "listProcesses",
		Method:      "GET",
		Path:        "/api/v1/processes",
		Summary:     "FFmpeg process pool snapshot",
		Tags:        []string{"Status"},
	}, h.ListProcesses)
}

// HealthOutput is the health check response.
type HealthOutput struct {
	Body struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		Timestamp string `json:"timestamp"`
		Database  string `json:"database"`
	}
}

// GetHealth reports liveness plus a database ping.
func (h *StatusHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = h.version
	out.Body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	out.Body.Database = "ok"

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			out.Body.Status = "degraded"
			out.Body.Database = "error"
		}
	}
	return out, nil
}

// StatusOutput is the engine status response.
type StatusOutput struct {
	Body struct {
		Version        string  `json:"version"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		GoVersion      string  `json:"go_version"`
		NumGoroutine   int     `json:"num_goroutine"`
		Load1Min       float64 `json:"load_1min"`
		MemoryUsedMB   float64 `json:"memory_used_mb"`
		MemoryTotalMB  float64 `json:"memory_total_mb"`
		ActiveStreams  int     `json:"active_streams"`
		ActiveSessions int     `json:"active_sessions"`
		FFmpegChildren int     `json:"ffmpeg_children"`
	}
}

// GetStatus reports the headline engine numbers.
func (h *StatusHandler) GetStatus(_ context.Context, _ *struct{}) (*StatusOutput, error) {
	out := &StatusOutput{}
	out.Body.Version = h.version
	out.Body.UptimeSeconds = time.Since(h.startTime).Seconds()
	out.Body.GoVersion = runtime.Version()
	out.Body.NumGoroutine = runtime.NumGoroutine()

	if avg, err := load.Avg(); err == nil && avg != nil {
		out.Body.Load1Min = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		out.Body.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		out.Body.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	if h.streams != nil {
		out.Body.ActiveStreams = len(h.streams.ActiveStreams())
	}
	if h.sessions != nil {
		out.Body.ActiveSessions = len(h.sessions.Snapshot())
	}
	if h.pool != nil {
		out.Body.FFmpegChildren = len(h.pool.Snapshot())
	}
	return out, nil
}

// ChannelStatus is one channel's row in the status listing.
type ChannelStatus struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	PlayoutMode string `json:"playout_mode"`
	StreamState string `json:"stream_state"`
	Subscribers int    `json:"subscribers"`
}

// ChannelsOutput is the channel status response.
type ChannelsOutput struct {
	Body struct {
		Channels []ChannelStatus `json:"channels"`
	}
}

// ListChannels joins the channel table with live stream state.
func (h *StatusHandler) ListChannels(ctx context.Context, _ *struct{}) (*ChannelsOutput, error) {
	channels, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading channels", err)
	}

	running := map[string]*stream.ChannelStream{}
	if h.streams != nil {
		for _, cs := range h.streams.ActiveStreams() {
			running[cs.Channel().Number] = cs
		}
	}

	out := &ChannelsOutput{}
	out.Body.Channels = make([]ChannelStatus, 0, len(channels))
	for _, channel := range channels {
		status := ChannelStatus{
			Number:      channel.Number,
			Name:        channel.GuideName(),
			Enabled:     channel.IsEnabled(),
			PlayoutMode: string(channel.PlayoutMode),
			StreamState: stream.StateIdle.String(),
		}
		if cs, ok := running[channel.Number]; ok {
			status.StreamState = cs.State().String()
			status.Subscribers = cs.Subscribers()
		}
		out.Body.Channels = append(out.Body.Channels, status)
	}
	return out, nil
}

// SessionsOutput is the session listing response.
type SessionsOutput struct {
	Body struct {
		Sessions []stream.SessionInfo `json:"sessions"`
	}
}

// ListSessions lists active client sessions.
func (h *StatusHandler) ListSessions(_ context.Context, _ *struct{}) (*SessionsOutput, error) {
	out := &SessionsOutput{}
	out.Body.Sessions = []stream.SessionInfo{}
	if h.sessions != nil {
		out.Body.Sessions = h.sessions.Snapshot()
	}
	return out, nil
}

// IssuesOutput is the issue log response.
type IssuesOutput struct {
	Body struct {
		Issues []selfheal.Issue `json:"issues"`
	}
}

// ListIssues lists the self-healing issue log, newest last.
func (h *StatusHandler) ListIssues(_ context.Context, _ *struct{}) (*IssuesOutput, error) {
	out := &IssuesOutput{}
	out.Body.Issues = []selfheal.Issue{}
	if h.issues != nil {
		out.Body.Issues = h.issues.Issues()
	}
	return out, nil
}

// ProcessesOutput is the process pool snapshot response.
type ProcessesOutput struct {
	Body struct {
		Processes []procpool.ProcessStats `json:"processes"`
	}
}

// ListProcesses samples the FFmpeg process pool.
func (h *StatusHandler) ListProcesses(_ context.Context, _ *struct{}) (*ProcessesOutput, error) {
	out := &ProcessesOutput{}
	out.Body.Processes = []procpool.ProcessStats{}
	if h.pool != nil {
		out.Body.Processes = h.pool.Snapshot()
	}
	return out, nil
}
