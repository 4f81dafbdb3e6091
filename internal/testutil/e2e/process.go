package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is a storyflow invocation running in the background.
type Process struct {
	cmd    *exec.Cmd
	stdout *syncBuffer
	stderr *syncBuffer

	// exited is closed when the process exits.
	exited chan struct{}
	// exitErr stores the error from cmd.Wait() for multiple reads.
	exitErr error
}

// Start runs storyflow in the background. The process is killed during
// cleanup if it is still running.
func (h *Harness) Start(args ...string) (*Process, error) {
	cmd := exec.Command(Binary, append([]string{"--no-color"}, args...)...)
	cmd.Dir = h.Dir
	cmd.Env = h.Env()

	p := &Process{
		cmd:    cmd,
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		exited: make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting storyflow: %w", err)
	}

	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	h.OnCleanup(func() {
		if !p.IsDone() {
			_ = p.Kill()
			<-p.exited
		}
	})
	return p, nil
}

// Kill forcefully terminates the process (SIGKILL).
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// WaitWithTimeout waits for the process to exit with a timeout.
func (p *Process) WaitWithTimeout(timeout time.Duration) error {
	select {
	case <-p.exited:
		return p.exitErr
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for process to exit")
	}
}

// IsDone returns true if the process has exited.
func (p *Process) IsDone() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running.
func (p *Process) ExitCode() int {
	if !p.IsDone() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Stdout returns the captured stdout output.
func (p *Process) Stdout() string {
	return p.stdout.String()
}

// Stderr returns the captured stderr output.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// syncBuffer is a bytes.Buffer safe for a writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
