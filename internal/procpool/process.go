package procpool

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/airwavetv/airwave/internal/models"
)

// Supervisor failure reasons attached to a process before it is killed.
var (
	ErrStartupTimeout = errors.New("process produced no output before startup timeout")
	ErrMaxAge         = errors.New("process exceeded max age")
)

// stderrBuffer bounds the per-process stderr line channel. The classifier
// consumes it; when nobody reads, old lines are dropped.
const stderrBuffer = 256

// ProcessStats is a point-in-time health sample for one child.
type ProcessStats struct {
	ProcID      int64         `json:"proc_id"`
	PID         int           `json:"pid"`
	ChannelID   models.ULID   `json:"channel_id"`
	Tags        []string      `json:"tags,omitempty"`
	CPUPercent  float64       `json:"cpu_percent"`
	RSSBytes    uint64        `json:"rss_bytes"`
	OutputBytes int64         `json:"output_bytes"`
	Uptime      time.Duration `json:"uptime"`
}

// Process is one admitted FFmpeg child. Its stdout is consumed by the
// stream layer; the pool supervises lifecycle and health.
type Process struct {
	id              int64
	channelID       models.ULID
	tags            []string
	estimatedMemory int64
	startedAt       time.Time

	cmd    *exec.Cmd
	stdout io.ReadCloser
	gops   *gopsproc.Process

	stderrCh chan string

	outputBytes atomic.Int64
	lastOutput  atomic.Int64 // unix nanos; zero until first byte

	cpuPercent atomicFloat64
	rssBytes   atomic.Uint64

	failMu  sync.Mutex
	failure error

	exited   chan struct{}
	exitErr  error
	termOnce sync.Once
	killOnce sync.Once
}

// atomicFloat64 stores a float64 via bit casting.
type atomicFloat64 struct{ bits atomic.Uint64 }

func (f *atomicFloat64) Store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat64) Load() float64   { return math.Float64frombits(f.bits.Load()) }

// newProcess launches the command with stdout piped and stderr scanned
// into a line channel.
func newProcess(ctx context.Context, id int64, req SpawnRequest, logger *slog.Logger) (*Process, error) {
	cmd := exec.CommandContext(ctx, req.Binary, req.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &Process{
		id:              id,
		channelID:       req.ChannelID,
		tags:            req.Tags,
		estimatedMemory: req.EstimatedMemory,
		startedAt:       time.Now(),
		cmd:             cmd,
		stdout:          stdout,
		stderrCh:        make(chan string, stderrBuffer),
		exited:          make(chan struct{}),
	}
	if gops, err := gopsproc.NewProcess(int32(cmd.Process.Pid)); err == nil {
		proc.gops = gops
	}

	go proc.scanStderr(stderr, logger)
	go proc.waitExit()

	return proc, nil
}

// scanStderr tees child stderr into the line channel, dropping lines when
// the consumer lags.
func (p *Process) scanStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case p.stderrCh <- line:
		default:
			logger.Debug("dropping stderr line, consumer lagging",
				slog.Int64("proc_id", p.id))
		}
	}
	close(p.stderrCh)
}

func (p *Process) waitExit() {
	p.exitErr = p.cmd.Wait()
	close(p.exited)
}

// Stdout is the child's MPEG-TS output. Exactly one reader owns it.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Stderr delivers the child's stderr line by line. Closed on exit.
func (p *Process) Stderr() <-chan string {
	return p.stderrCh
}

// Exited is closed when the child has exited and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the exit error; valid only after Exited is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.exitErr
	default:
		return nil
	}
}

// PID returns the child's OS process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ChannelID returns the channel this child is tagged with.
func (p *Process) ChannelID() models.ULID {
	return p.channelID
}

// ID returns the pool-assigned process identifier.
func (p *Process) ID() int64 {
	return p.id
}

// MarkOutput records that n output bytes were read from the child. The
// stream layer calls this; the supervisor uses it for startup and stall
// detection.
func (p *Process) MarkOutput(n int) {
	p.outputBytes.Add(int64(n))
	p.lastOutput.Store(time.Now().UnixNano())
}

// HasProducedOutput reports whether any stdout byte has been observed.
func (p *Process) HasProducedOutput() bool {
	return p.lastOutput.Load() != 0
}

// LastOutputAt returns the time of the most recent stdout byte, zero if
// none yet.
func (p *Process) LastOutputAt() time.Time {
	n := p.lastOutput.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// markFailure records why the supervisor decided to kill the child.
func (p *Process) markFailure(err error) {
	p.failMu.Lock()
	if p.failure == nil {
		p.failure = err
	}
	p.failMu.Unlock()
}

// Failure returns the supervisor-recorded failure reason, if any.
func (p *Process) Failure() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.failure
}

// terminate sends SIGTERM to the child's process group.
func (p *Process) terminate() error {
	var err error
	p.termOnce.Do(func() {
		if p.cmd.Process != nil {
			err = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
		}
	})
	return err
}

// kill force-kills the child's process group.
func (p *Process) kill() error {
	var err error
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			err = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		}
	})
	return err
}

// sample refreshes CPU and RSS from the OS.
func (p *Process) sample() {
	if p.gops == nil {
		return
	}
	if cpu, err := p.gops.CPUPercent(); err == nil {
		p.cpuPercent.Store(cpu)
	}
	if mem, err := p.gops.MemoryInfo(); err == nil && mem != nil {
		p.rssBytes.Store(mem.RSS)
	}
}

// Stats returns the latest health sample.
func (p *Process) Stats() ProcessStats {
	return ProcessStats{
		ProcID:      p.id,
		PID:         p.PID(),
		ChannelID:   p.channelID,
		Tags:        p.tags,
		CPUPercent:  p.cpuPercent.Load(),
		RSSBytes:    p.rssBytes.Load(),
		OutputBytes: p.outputBytes.Load(),
		Uptime:      time.Since(p.startedAt),
	}
}
