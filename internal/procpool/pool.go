// Package procpool is the sole gatekeeper for spawning FFmpeg child
// processes. It enforces the concurrent-process cap, the per-host memory
// budget, and file-descriptor headroom, and supervises every child it
// admits: startup timeout, max age, exit watching, and periodic health
// sampling.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/observability"
)

// Rejection sentinel errors. Callers branch on these to decide between
// waiting, emitting fallback, or failing the subscribe.
var (
	ErrPoolSaturated = errors.New("process pool: all slots in use")
	ErrMemoryBudget  = errors.New("process pool: memory budget exhausted")
	ErrFDBudget      = errors.New("process pool: file descriptor headroom exhausted")
	ErrQueueTimeout  = errors.New("process pool: admission queue timeout")
	ErrPoolClosed    = errors.New("process pool: closed")
)

// defaultMemoryEstimate is assumed per child when the request does not
// carry its own estimate. Matches a typical software-encode RSS.
const defaultMemoryEstimate int64 = 256 << 20

// SpawnRequest describes one FFmpeg child to admit and start.
type SpawnRequest struct {
	Binary    string
	Args      []string
	ChannelID models.ULID
	Tags      []string

	// Wait blocks until admission is possible, bounded by the queue
	// timeout. When false a rejection is returned immediately.
	Wait bool

	// EstimatedMemory overrides the default per-process estimate.
	EstimatedMemory int64
}

// Pool admits and supervises FFmpeg child processes.
type Pool struct {
	cfg            config.ProcessPoolConfig
	startupTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	procs  map[int64]*Process
	nextID int64
	closed bool

	wg sync.WaitGroup
}

// New creates a Pool. startupTimeout bounds the wait for a child's first
// output byte.
func New(cfg config.ProcessPoolConfig, startupTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:            cfg,
		startupTimeout: startupTimeout,
		logger:         observability.WithComponent(logger, "procpool"),
		metrics:        metrics,
		procs:          make(map[int64]*Process),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Spawn admits and starts one FFmpeg child. With req.Wait the call blocks
// until a slot frees up or the queue timeout elapses; otherwise rejection
// is immediate.
func (p *Pool) Spawn(ctx context.Context, req SpawnRequest) (*Process, error) {
	if req.EstimatedMemory <= 0 {
		req.EstimatedMemory = defaultMemoryEstimate
	}

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		err := p.admitLocked(req)
		if err == nil {
			break
		}
		p.countRejection(err)
		if !req.Wait {
			p.mu.Unlock()
			return nil, err
		}
		if waitErr := p.waitLocked(ctx); waitErr != nil {
			p.mu.Unlock()
			return nil, waitErr
		}
	}

	proc, err := p.startLocked(ctx, req)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// admitLocked checks all budgets. Caller holds p.mu.
func (p *Pool) admitLocked(req SpawnRequest) error {
	if len(p.procs) >= p.cfg.MaxProcesses {
		return ErrPoolSaturated
	}

	var reserved int64
	for _, proc := range p.procs {
		reserved += proc.estimatedMemory
	}
	if reserved+req.EstimatedMemory > p.cfg.MemoryBudgetBytes.Bytes() {
		return ErrMemoryBudget
	}

	if err := p.checkFDHeadroom(); err != nil {
		return err
	}
	return nil
}

// checkFDHeadroom rejects when open descriptors are within the configured
// margin of the rlimit.
func (p *Pool) checkFDHeadroom() error {
	if p.cfg.FDBudget <= 0 {
		return nil
	}
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return nil
	}
	self, err := gopsproc.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	open, err := self.NumFDs()
	if err != nil {
		return nil
	}
	if uint64(open)+uint64(p.cfg.FDBudget) > limit.Cur {
		return ErrFDBudget
	}
	return nil
}

// waitLocked blocks on the admission condition with the queue timeout.
// Caller holds p.mu; the lock is held again on return.
func (p *Pool) waitLocked(ctx context.Context) error {
	timeout := p.cfg.QueueTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		case <-time.After(time.Until(deadline)):
		}
		p.cond.Broadcast()
	}()

	p.cond.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if time.Now().After(deadline) {
		return ErrQueueTimeout
	}
	return nil
}

func (p *Pool) countRejection(err error) {
	if p.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrMemoryBudget):
		p.metrics.SpawnRejectedMemoryTotal.Inc()
	case errors.Is(err, ErrFDBudget):
		p.metrics.SpawnRejectedFDTotal.Inc()
	case errors.Is(err, ErrPoolSaturated):
		p.metrics.SpawnRejectedCapacityTotal.Inc()
	}
}

// startLocked launches the child and its supervisor. Caller holds p.mu.
func (p *Pool) startLocked(ctx context.Context, req SpawnRequest) (*Process, error) {
	p.nextID++
	proc, err := newProcess(ctx, p.nextID, req, p.logger)
	if err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	p.procs[proc.id] = proc
	if p.metrics != nil {
		p.metrics.FFmpegProcessesActive.Set(float64(len(p.procs)))
	}

	p.wg.Add(1)
	go p.supervise(proc)

	p.logger.Info("process admitted",
		slog.Int64("proc_id", proc.id),
		slog.String("channel_id", req.ChannelID.String()),
		slog.Int("pid", proc.PID()),
		slog.Int("pool_size", len(p.procs)),
	)
	return proc, nil
}

// supervise watches one child: exit, startup timeout, and max age.
func (p *Pool) supervise(proc *Process) {
	defer p.wg.Done()

	startupTimer := time.NewTimer(p.startupTimeout)
	defer startupTimer.Stop()

	maxAge := p.cfg.MaxAge
	var ageCh <-chan time.Time
	if maxAge > 0 {
		ageTimer := time.NewTimer(maxAge)
		defer ageTimer.Stop()
		ageCh = ageTimer.C
	}

	for {
		select {
		case <-proc.exited:
			p.release(proc)
			return

		case <-startupTimer.C:
			if proc.HasProducedOutput() {
				continue
			}
			p.logger.Warn("killing process: no output before startup timeout",
				slog.Int64("proc_id", proc.id),
				slog.Duration("startup_timeout", p.startupTimeout),
			)
			proc.markFailure(ErrStartupTimeout)
			_ = proc.kill()

		case <-ageCh:
			p.logger.Info("restart-aging process past max age",
				slog.Int64("proc_id", proc.id),
				slog.Duration("max_age", maxAge),
			)
			proc.markFailure(ErrMaxAge)
			_ = proc.terminate()
			ageCh = nil
		}
	}
}

// release removes an exited child from the pool and wakes waiters.
func (p *Pool) release(proc *Process) {
	p.mu.Lock()
	delete(p.procs, proc.id)
	size := len(p.procs)
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.FFmpegProcessesActive.Set(float64(size))
	}
	p.logger.Info("process released",
		slog.Int64("proc_id", proc.id),
		slog.String("channel_id", proc.channelID.String()),
		slog.Int("pool_size", size),
	)
}

// Stop terminates a child gracefully, force-killing after the grace
// period, and waits for it to be fully released.
func (p *Pool) Stop(proc *Process, grace time.Duration) error {
	if proc == nil {
		return nil
	}
	_ = proc.terminate()

	select {
	case <-proc.exited:
		return nil
	case <-time.After(grace):
	}

	if err := proc.kill(); err != nil {
		return err
	}
	<-proc.exited
	return nil
}

// Active returns the number of running children.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// ActiveForChannel returns the number of running children tagged with the
// channel.
func (p *Pool) ActiveForChannel(channelID models.ULID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, proc := range p.procs {
		if proc.channelID == channelID {
			n++
		}
	}
	return n
}

// Snapshot returns stats for all running children.
func (p *Pool) Snapshot() []ProcessStats {
	p.mu.Lock()
	procs := make([]*Process, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.mu.Unlock()

	stats := make([]ProcessStats, 0, len(procs))
	for _, proc := range procs {
		stats = append(stats, proc.Stats())
	}
	return stats
}

// StartMonitor refreshes CPU and RSS samples for every child at the
// configured interval until ctx is canceled.
func (p *Pool) StartMonitor(ctx context.Context) {
	interval := p.cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				procs := make([]*Process, 0, len(p.procs))
				for _, proc := range p.procs {
					procs = append(procs, proc)
				}
				p.mu.Unlock()
				for _, proc := range procs {
					proc.sample()
				}
			}
		}
	}()
}

// Close terminates all children and waits for every supervisor to finish.
// The pool admits nothing afterwards.
func (p *Pool) Close(grace time.Duration) {
	p.mu.Lock()
	p.closed = true
	procs := make([]*Process, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, proc := range procs {
		_ = p.Stop(proc, grace)
	}
	p.wg.Wait()
}
