package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/coins"
)

// Status is the lifecycle state of a supervised miner process.
type Status string

const (
	StatusStopped     Status = "stopped"
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusUnhealthy   Status = "unhealthy"
	StatusBackoffWait Status = "backoff_wait"
	StatusFailed      Status = "failed"
)

// Target identifies the miner process for one coin/algorithm pair.
type Target struct {
	Coin      coins.Coin      `json:"coin"`
	Algorithm coins.Algorithm `json:"algorithm"`
	Binary    string          `json:"binary"`
	Args      []string        `json:"args"`
}

// Config controls restart backoff and health heuristics.
type Config struct {
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffResetAfter time.Duration `yaml:"backoff_reset_after"`
	FailureCeiling    int           `yaml:"failure_ceiling"`
	HealthGrace       time.Duration `yaml:"health_grace"`
	StopGrace         time.Duration `yaml:"stop_grace"`
	ProgressKeywords  []string      `yaml:"progress_keywords"`
}

// LaunchError reports a miner process that could not be started.
type LaunchError struct {
	Target Target
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s miner %q: %v", e.Target.Coin, e.Target.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ErrFailed is returned when a start is requested on a supervisor that has
// exhausted its restart budget.
var ErrFailed = fmt.Errorf("supervisor failed: restart budget exhausted")

// Process is a launched miner process. The supervisor is the only component
// that ever touches it; everyone else observes State snapshots.
type Process interface {
	// Output delivers combined stdout/stderr lines until the process exits.
	Output() <-chan string
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Stop requests graceful termination, escalating to a forced kill
	// after the grace period. It does not wait for exit.
	Stop(grace time.Duration) error
}

// Launcher starts miner processes. Injectable so the state machine is
// testable without spawning anything real.
type Launcher interface {
	Launch(ctx context.Context, target Target) (Process, error)
}

// LogEntry is one captured miner output line.
type LogEntry struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

const logRingSize = 64

// gpuIdleThreshold is the utilization percentage below which the GPU is
// considered idle for health purposes.
const gpuIdleThreshold = 1.0

// State is an immutable snapshot of the supervisor's process state.
type State struct {
	Target              Target    `json:"target"`
	Status              Status    `json:"status"`
	StartTime           time.Time `json:"start_time,omitempty"`
	RestartCount        int       `json:"restart_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastExitCode        *int      `json:"last_exit_code,omitempty"`
	NextRestartAt       time.Time `json:"next_restart_at,omitempty"`
	LastProgress        time.Time `json:"last_progress,omitempty"`
}

// Supervisor keeps one external miner process alive, detecting failure and
// applying a bounded-retry restart policy.
type Supervisor struct {
	logger   *zap.Logger
	config   Config
	target   Target
	launcher Launcher
	matcher  func(string) bool

	mu                  sync.Mutex
	status              Status
	proc                Process
	procDone            chan struct{}
	startTime           time.Time
	restartCount        int
	consecutiveFailures int
	lastExitCode        *int
	nextRestartAt       time.Time
	lastProgress        time.Time
	stopping            bool

	logs     [logRingSize]LogEntry
	logIndex int
	logCount int
}

// New creates a supervisor for one mining target.
func New(logger *zap.Logger, config Config, target Target, launcher Launcher) *Supervisor {
	s := &Supervisor{
		logger:   logger.With(zap.String("coin", string(target.Coin))),
		config:   config,
		target:   target,
		launcher: launcher,
		status:   StatusStopped,
	}
	s.matcher = keywordMatcher(config.ProgressKeywords)
	return s
}

// SetProgressMatcher replaces the progress heuristic. What counts as a
// "making progress" log line varies by miner, so the default keyword match
// is only a default.
func (s *Supervisor) SetProgressMatcher(matcher func(string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if matcher != nil {
		s.matcher = matcher
	}
}

func keywordMatcher(keywords []string) func(string) bool {
	if len(keywords) == 0 {
		keywords = []string{"accepted", "share found", "new job"}
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return func(line string) bool {
		line = strings.ToLower(line)
		for _, k := range lowered {
			if strings.Contains(line, k) {
				return true
			}
		}
		return false
	}
}

// Start launches the miner process. A supervisor in the Failed state
// rejects the request; the caller must construct a new one to retry.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusFailed:
		return ErrFailed
	case StatusStopped:
		return s.launchLocked(ctx)
	default:
		return nil
	}
}

// launchLocked starts the process and transitions to Starting. On launch
// failure it records the failure and schedules a backoff retry, unless the
// failure ceiling is hit. Caller holds s.mu.
func (s *Supervisor) launchLocked(ctx context.Context) error {
	proc, err := s.launcher.Launch(ctx, s.target)
	if err != nil {
		launchErr := &LaunchError{Target: s.target, Err: err}
		s.logger.Error("Miner launch failed", zap.Error(launchErr))
		s.recordFailureLocked(nil)
		return launchErr
	}

	now := time.Now().UTC()
	s.proc = proc
	s.procDone = make(chan struct{})
	s.status = StatusStarting
	s.startTime = now
	s.lastProgress = now
	s.stopping = false

	s.logger.Info("Miner starting",
		zap.String("binary", s.target.Binary),
		zap.Int("restart_count", s.restartCount),
	)

	go s.consumeOutput(proc)
	go s.waitForExit(proc, s.procDone)
	return nil
}

func (s *Supervisor) consumeOutput(proc Process) {
	for line := range proc.Output() {
		s.recordLine(line)
	}
}

func (s *Supervisor) recordLine(line string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[s.logIndex] = LogEntry{Time: now, Line: line}
	s.logIndex = (s.logIndex + 1) % logRingSize
	if s.logCount < logRingSize {
		s.logCount++
	}

	// First output from the child confirms it came up.
	if s.status == StatusStarting {
		s.status = StatusRunning
		s.logger.Info("Miner running")
	}

	if s.matcher(line) {
		s.lastProgress = now
	}
}

func (s *Supervisor) waitForExit(proc Process, done chan struct{}) {
	code, err := proc.Wait()
	close(done)
	s.onExit(code, err)
}

// onExit handles process termination, whether requested or not.
func (s *Supervisor) onExit(code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proc = nil
	s.restartCount++
	exitCode := code
	s.lastExitCode = &exitCode

	if s.stopping {
		s.status = StatusStopped
		s.stopping = false
		s.logger.Info("Miner stopped", zap.Int("exit_code", code))
		return
	}

	s.logger.Warn("Miner exited unexpectedly",
		zap.Int("exit_code", code),
		zap.Error(err),
	)
	s.recordFailureLocked(&exitCode)
}

// recordFailureLocked increments the failure count and either schedules a
// backoff retry or declares the supervisor Failed. Caller holds s.mu.
func (s *Supervisor) recordFailureLocked(exitCode *int) {
	s.consecutiveFailures++
	if exitCode != nil {
		s.lastExitCode = exitCode
	}

	if s.consecutiveFailures >= s.config.FailureCeiling {
		s.status = StatusFailed
		s.logger.Error("Miner failed permanently",
			zap.Int("consecutive_failures", s.consecutiveFailures),
			zap.Int("failure_ceiling", s.config.FailureCeiling),
		)
		return
	}

	delay := s.backoffDelay(s.consecutiveFailures)
	s.nextRestartAt = time.Now().UTC().Add(delay)
	s.status = StatusBackoffWait
	s.logger.Info("Miner restart scheduled",
		zap.Duration("backoff", delay),
		zap.Int("consecutive_failures", s.consecutiveFailures),
	)
}

// backoffDelay doubles per consecutive failure, capped at the maximum.
func (s *Supervisor) backoffDelay(failures int) time.Duration {
	delay := s.config.BackoffInitial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.config.BackoffMax {
			return s.config.BackoffMax
		}
	}
	if delay > s.config.BackoffMax {
		delay = s.config.BackoffMax
	}
	return delay
}

// Tick advances the state machine. Called once per orchestrator tick with
// the current GPU utilization, which serves as a secondary progress signal
// when the miner's log output is inscrutable.
func (s *Supervisor) Tick(ctx context.Context, gpuUtilization float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	switch s.status {
	case StatusBackoffWait:
		if !now.Before(s.nextRestartAt) {
			if err := s.launchLocked(ctx); err != nil {
				s.logger.Debug("Backoff relaunch failed", zap.Error(err))
			}
		}

	case StatusStarting, StatusRunning:
		// A sustained healthy run earns the failure budget back.
		if s.consecutiveFailures > 0 && now.Sub(s.startTime) >= s.config.BackoffResetAfter {
			s.logger.Info("Backoff reset after sustained healthy run")
			s.consecutiveFailures = 0
		}

		noProgress := now.Sub(s.lastProgress) > s.config.HealthGrace
		gpuIdle := gpuUtilization < gpuIdleThreshold
		if noProgress && gpuIdle {
			s.logger.Warn("Miner unhealthy: no progress signal",
				zap.Duration("since_progress", now.Sub(s.lastProgress)),
				zap.Float64("gpu_utilization", gpuUtilization),
			)
			s.status = StatusUnhealthy
			if s.proc != nil {
				if err := s.proc.Stop(s.config.StopGrace); err != nil {
					s.logger.Error("Failed to stop unhealthy miner", zap.Error(err))
				}
			}
		}

	case StatusUnhealthy:
		// The exit surfaces in onExit. Until then, keep re-requesting the
		// stop; a single failed SIGTERM must not wedge the state machine.
		if s.proc != nil {
			if err := s.proc.Stop(s.config.StopGrace); err != nil {
				s.logger.Error("Failed to stop unhealthy miner", zap.Error(err))
			}
		}
	}
}

// Stop requests graceful termination and waits for the process to exit, up
// to the stop grace period plus a margin. Idempotent when already stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusStopped || s.status == StatusFailed {
		s.mu.Unlock()
		return nil
	}
	if s.proc == nil {
		s.status = StatusStopped
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	proc := s.proc
	done := s.procDone
	grace := s.config.StopGrace
	s.mu.Unlock()

	if err := proc.Stop(grace); err != nil {
		return fmt.Errorf("stop miner: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace + grace/2):
		return fmt.Errorf("miner did not exit within grace period")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current process state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		Target:              s.target,
		Status:              s.status,
		StartTime:           s.startTime,
		RestartCount:        s.restartCount,
		ConsecutiveFailures: s.consecutiveFailures,
		NextRestartAt:       s.nextRestartAt,
		LastProgress:        s.lastProgress,
	}
	if s.lastExitCode != nil {
		code := *s.lastExitCode
		state.LastExitCode = &code
	}
	return state
}

// RecentLogs returns up to n of the most recent captured miner lines,
// oldest first.
func (s *Supervisor) RecentLogs(n int) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || s.logCount == 0 {
		return []LogEntry{}
	}
	if n > s.logCount {
		n = s.logCount
	}

	entries := make([]LogEntry, 0, n)
	start := s.logIndex - n
	if s.logCount < logRingSize {
		start = s.logCount - n
	}
	if start < 0 {
		start += logRingSize
	}
	for i := 0; i < n; i++ {
		entries = append(entries, s.logs[(start+i)%logRingSize])
	}
	return entries
}
