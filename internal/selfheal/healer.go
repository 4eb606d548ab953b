package selfheal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
)

// Strategy is a remediation the healer can apply.
type Strategy string

const (
	// StrategyIgnore takes no action; informational noise.
	StrategyIgnore Strategy = "ignore"
	// StrategyRefresh invalidates the cached media URL so the next
	// spawn re-resolves it.
	StrategyRefresh Strategy = "refresh_url"
	// StrategyRestart tears the channel's stream down so it restarts.
	StrategyRestart Strategy = "restart_stream"
	// StrategyFallback switches the channel to the slate until healthy.
	StrategyFallback Strategy = "fallback_slate"
	// StrategyReduce downgrades to the safe transcode profile.
	StrategyReduce Strategy = "reduce_profile"
	// StrategyEscalate records the issue for a human; no automatic fix.
	StrategyEscalate Strategy = "escalate"
)

// riskLevel grades how invasive each strategy is. Strategies above the
// configured approval threshold are escalated instead of auto-applied.
var riskLevel = map[Strategy]int{
	StrategyIgnore:   0,
	StrategyRefresh:  1,
	StrategyRestart:  2,
	StrategyFallback: 2,
	StrategyReduce:   3,
	StrategyEscalate: 4,
}

// strategyFor maps an error kind to its remediation.
var strategyFor = map[ErrorKind]Strategy{
	KindConnectionRefused: StrategyRestart,
	KindConnectionTimeout: StrategyRestart,
	KindConnectionReset:   StrategyIgnore, // transient, the stream loop retries
	KindDNSFailure:        StrategyRestart,
	KindTLSError:          StrategyRefresh,
	KindHTTPForbidden:     StrategyRefresh, // expired token, re-resolve
	KindHTTPNotFound:      StrategyRefresh,
	KindCorruptStream:     StrategyIgnore,
	KindDecoderError:      StrategyIgnore,
	KindEncoderError:      StrategyReduce,
	KindResourceExhausted: StrategyEscalate,
	KindProcessFailure:    StrategyRestart,
	KindUnknown:           StrategyIgnore,
}

// IssueState is the lifecycle state of a tracked issue.
type IssueState string

const (
	IssueDetected   IssueState = "detected"
	IssueAnalyzed   IssueState = "analyzed"
	IssueApproved   IssueState = "approved"
	IssueEscalated  IssueState = "escalated"
	IssueInProgress IssueState = "in_progress"
	IssueResolved   IssueState = "resolved"
	IssueFailed     IssueState = "failed"
)

// Issue is one tracked failure and its remediation record.
type Issue struct {
	ID         uuid.UUID  `json:"id"`
	ChannelID  models.ULID `json:"channel_id"`
	Kind       ErrorKind  `json:"kind"`
	Severity   string     `json:"severity"`
	Strategy   Strategy   `json:"strategy"`
	State      IssueState `json:"state"`
	Detail     string     `json:"detail,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Actions is what the healer may do to the rest of the system. All
// implementations must be safe for concurrent use.
type Actions interface {
	// RefreshMedia drops cached URLs for the channel's current media.
	RefreshMedia(ctx context.Context, channelID models.ULID) error
	// RestartStream stops the channel's stream; it restarts on demand
	// or via pre-warm.
	RestartStream(ctx context.Context, channelID models.ULID) error
	// ReduceProfile switches the channel to the safe transcode profile.
	ReduceProfile(ctx context.Context, channelID models.ULID) error
}

// channelHealth is the per-channel failure bookkeeping.
type channelHealth struct {
	consecutiveFailures int
	lastFailure         time.Time
	backoff             time.Duration
	escalated           bool
}

// maxIssueHistory bounds the in-memory issue log.
const maxIssueHistory = 200

// Healer consumes channel telemetry, classifies it, and applies the
// strategy table under rate limits.
type Healer struct {
	cfg     config.SelfHealConfig
	actions Actions
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	health   map[models.ULID]*channelHealth
	issues   []*Issue
	fixTimes []time.Time

	now func() time.Time
}

// New creates a healer.
func New(cfg config.SelfHealConfig, actions Actions, logger *slog.Logger, metrics *observability.Metrics) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{
		cfg:     cfg,
		actions: actions,
		logger:  observability.WithComponent(logger, "selfheal"),
		metrics: metrics,
		health:  make(map[models.ULID]*channelHealth),
		now:     time.Now,
	}
}

// ReportStderr classifies one stderr line and remedies if warranted.
// Non-blocking: remediation runs in its own goroutine.
func (h *Healer) ReportStderr(channelID models.ULID, line string) {
	if !h.cfg.Enabled {
		return
	}
	kind, severity := Classify(line)
	if severity == SeverityInfo {
		return
	}
	h.handle(channelID, kind, severity, line)
}

// ReportFailure handles a stream-level failure (exit, stall, spawn
// rejection).
func (h *Healer) ReportFailure(channelID models.ULID, err error) {
	if !h.cfg.Enabled {
		return
	}
	h.handle(channelID, KindProcessFailure, SeverityError, err.Error())
}

// ReportRecovered resets a channel's failure streak.
func (h *Healer) ReportRecovered(channelID models.ULID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.health[channelID]; ok {
		ch.consecutiveFailures = 0
		ch.backoff = 0
		ch.escalated = false
	}
}

// handle runs the issue lifecycle for one classified failure.
func (h *Healer) handle(channelID models.ULID, kind ErrorKind, severity Severity, detail string) {
	strategy := strategyFor[kind]
	if strategy == StrategyIgnore {
		return
	}

	now := h.now()

	h.mu.Lock()
	ch := h.health[channelID]
	if ch == nil {
		ch = &channelHealth{}
		h.health[channelID] = ch
	}

	// Backoff: repeated failures on the same channel are coalesced.
	if now.Sub(ch.lastFailure) < ch.backoff {
		h.mu.Unlock()
		return
	}
	ch.lastFailure = now
	ch.consecutiveFailures++
	if ch.backoff == 0 {
		ch.backoff = time.Second
	} else if ch.backoff < 30*time.Second {
		ch.backoff *= 2
		if ch.backoff > 30*time.Second {
			ch.backoff = 30 * time.Second
		}
	}

	issue := &Issue{
		ID:         uuid.New(),
		ChannelID:  channelID,
		Kind:       kind,
		Severity:   severity.String(),
		Strategy:   strategy,
		State:      IssueDetected,
		Detail:     detail,
		DetectedAt: now,
	}
	h.recordLocked(issue)
	issue.State = IssueAnalyzed

	switch {
	case ch.consecutiveFailures > h.cfg.MaxConsecutiveFailures:
		issue.State = IssueEscalated
		ch.escalated = true
	case riskLevel[strategy] > h.cfg.RequireApprovalAboveRisk:
		issue.State = IssueEscalated
	case !h.admitFixLocked(now):
		issue.State = IssueEscalated
		issue.Detail = "auto-fix rate limit reached: " + detail
	default:
		issue.State = IssueApproved
	}
	h.mu.Unlock()

	if issue.State == IssueEscalated {
		h.logger.Warn("issue escalated",
			"channel", channelID,
			"kind", kind,
			"strategy", strategy,
			"detail", detail)
		h.countAction(strategy, "escalated")
		return
	}

	go h.execute(issue)
}

// admitFixLocked enforces the hourly auto-fix budget.
func (h *Healer) admitFixLocked(now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := h.fixTimes[:0]
	for _, t := range h.fixTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.fixTimes = kept
	if len(h.fixTimes) >= h.cfg.MaxAutoFixesPerHour {
		return false
	}
	h.fixTimes = append(h.fixTimes, now)
	return true
}

// execute applies an approved strategy.
func (h *Healer) execute(issue *Issue) {
	h.setState(issue, IssueInProgress)
	h.logger.Info("applying remediation",
		"channel", issue.ChannelID,
		"kind", issue.Kind,
		"strategy", issue.Strategy)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch issue.Strategy {
	case StrategyRefresh:
		err = h.actions.RefreshMedia(ctx, issue.ChannelID)
	case StrategyRestart:
		err = h.actions.RestartStream(ctx, issue.ChannelID)
	case StrategyReduce:
		err = h.actions.ReduceProfile(ctx, issue.ChannelID)
	case StrategyFallback:
		// The stream supervisor already pumps the slate while
		// recovering; nothing extra to do.
	}

	if err != nil {
		h.logger.Error("remediation failed",
			"channel", issue.ChannelID,
			"strategy", issue.Strategy,
			"error", err)
		h.setState(issue, IssueFailed)
		h.countAction(issue.Strategy, "failed")
		return
	}
	now := h.now()
	h.mu.Lock()
	issue.State = IssueResolved
	issue.ResolvedAt = &now
	h.mu.Unlock()
	h.countAction(issue.Strategy, "applied")
}

func (h *Healer) setState(issue *Issue, s IssueState) {
	h.mu.Lock()
	issue.State = s
	h.mu.Unlock()
}

func (h *Healer) countAction(strategy Strategy, outcome string) {
	if h.metrics != nil {
		h.metrics.SelfHealActionsTotal.WithLabelValues(string(strategy), outcome).Inc()
	}
}

// recordLocked appends to the bounded issue history.
func (h *Healer) recordLocked(issue *Issue) {
	h.issues = append(h.issues, issue)
	if len(h.issues) > maxIssueHistory {
		h.issues = h.issues[len(h.issues)-maxIssueHistory:]
	}
}

// Issues returns a snapshot of the tracked issues, newest last.
func (h *Healer) Issues() []Issue {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Issue, len(h.issues))
	for i, issue := range h.issues {
		out[i] = *issue
	}
	return out
}

// ChannelFailures returns the consecutive failure count for a channel.
func (h *Healer) ChannelFailures(channelID models.ULID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.health[channelID]; ok {
		return ch.consecutiveFailures
	}
	return 0
}
