package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExecLauncher launches real miner binaries with os/exec.
type ExecLauncher struct {
	logger *zap.Logger
}

// NewExecLauncher creates a launcher for real miner processes.
func NewExecLauncher(logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger}
}

// Launch resolves the miner binary on PATH and starts it with combined
// stdout/stderr capture.
func (l *ExecLauncher) Launch(ctx context.Context, target Target) (Process, error) {
	path, err := exec.LookPath(target.Binary)
	if err != nil {
		return nil, fmt.Errorf("miner binary not found: %w", err)
	}

	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, path, target.Args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("start miner process: %w", err)
	}

	l.logger.Debug("Miner process started",
		zap.String("path", path),
		zap.Int("pid", cmd.Process.Pid),
	)

	proc := &execProcess{
		logger: l.logger,
		cmd:    cmd,
		pipeW:  pw,
		output: make(chan string, 128),
		waited: make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			select {
			case proc.output <- scanner.Text():
			default:
				// Consumer fell behind; drop rather than block the child.
			}
		}
		close(proc.output)
	}()

	return proc, nil
}

type execProcess struct {
	logger *zap.Logger
	cmd    *exec.Cmd
	pipeW  *io.PipeWriter
	output chan string

	waitOnce sync.Once
	waited   chan struct{}
	waitCode int
	waitErr  error
}

func (p *execProcess) Output() <-chan string { return p.output }

func (p *execProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.pipeW.Close()
		if p.cmd.ProcessState != nil {
			p.waitCode = p.cmd.ProcessState.ExitCode()
		} else {
			p.waitCode = -1
		}
		close(p.waited)
	})
	return p.waitCode, p.waitErr
}

// Stop sends SIGTERM, then SIGKILL once the grace period lapses without
// the process exiting. The waited channel is the only exit signal here;
// cmd.ProcessState belongs to the Wait goroutine.
func (p *execProcess) Stop(grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal miner process: %w", err)
	}

	go func() {
		select {
		case <-p.waited:
		case <-time.After(grace):
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("Failed to kill miner process after grace period", zap.Error(err))
			}
		}
	}()
	return nil
}
