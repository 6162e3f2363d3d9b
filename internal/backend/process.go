package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// pipeGrace bounds how long a cancelled command may keep its output pipes
// open through leftover children.
const pipeGrace = 2 * time.Second

// newCommand starts name in its own process group. Cancelling ctx kills the
// whole group, not just the direct child.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = pipeGrace
	return cmd
}

// runCaptured runs cmd to completion with both streams buffered. While it
// runs, cmd is registered with pm (if any) so shutdown can kill it.
func runCaptured(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (stdout, stderr []byte, err error) {
	var out, errOut bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errOut

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	pm.Track(cmd)
	err = cmd.Wait()
	pm.Untrack(cmd)

	stdout, stderr = out.Bytes(), errOut.Bytes()
	switch {
	case err == nil:
		return stdout, stderr, nil
	case ctx.Err() != nil:
		return stdout, stderr, fmt.Errorf("command interrupted: %w", ctx.Err())
	case len(stderr) > 0:
		return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", err, bytes.TrimSpace(stderr))
	default:
		return stdout, stderr, fmt.Errorf("command failed: %w", err)
	}
}

// killGroup sends SIGKILL to the process group led by cmd.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager tracks running capability subprocesses so the pool can
// terminate them all on shutdown. A nil manager tracks nothing.
type ProcessManager struct {
	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{running: make(map[*exec.Cmd]struct{})}
}

// Track registers a started command.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.running[cmd] = struct{}{}
	pm.mu.Unlock()
}

// Untrack forgets cmd once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.running, cmd)
	pm.mu.Unlock()
}

// KillAll kills the process group of every tracked command.
func (pm *ProcessManager) KillAll() error {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var errs []error
	for cmd := range pm.running {
		errs = append(errs, killGroup(cmd))
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked commands.
func (pm *ProcessManager) Count() int {
	if pm == nil {
		return 0
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.running)
}
