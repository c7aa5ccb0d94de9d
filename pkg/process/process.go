// Package process runs and supervises the external tools the daemon drives:
// the speech renderer, pitch shifter, audio player and capture process.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// DefaultGrace is how long a process gets between SIGTERM and SIGKILL
const DefaultGrace = 2 * time.Second

// ErrEmptyCommand is returned for a blank command line
var ErrEmptyCommand = errors.New("empty command")

// Build parses a configured command line (shell quoting allowed, no shell
// expansion) and appends args. The command starts in its own process group.
func Build(commandLine string, args ...string) (*exec.Cmd, error) {
	words, err := shellwords.NewParser().Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", commandLine, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(words[0], append(words[1:], args...)...)
	Set(cmd)
	return cmd, nil
}

// Terminate sends SIGTERM to the process group, waits up to grace for
// waitCh, then sends SIGKILL and drains waitCh. It returns the wait error.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		incTerminate("SIGTERM", "error")
	} else {
		incTerminate("SIGTERM", "sent")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		logging.Warnf("process", "pid %d ignored SIGTERM for %s, sending SIGKILL", cmd.Process.Pid, grace)
		if err := Kill(cmd, syscall.SIGKILL); err != nil {
			incTerminate("SIGKILL", "error")
		} else {
			incTerminate("SIGKILL", "sent")
		}
		return <-waitCh
	}
}

// Options control how a supervised process is started
type Options struct {
	// Stdin is fed to the process; nil means /dev/null
	Stdin io.Reader
	// StderrLines bounds the retained stderr tail
	StderrLines int
	// OnStderr is called for every stderr line, from a reader goroutine
	OnStderr func(line string)
}

// Process is a started external command with its stderr drained
type Process struct {
	name   string
	cmd    *exec.Cmd
	stderr *LineRing

	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

// Start launches cmd and begins draining its stderr
func Start(name string, cmd *exec.Cmd, opts Options) (*Process, error) {
	p := &Process{
		name:   name,
		cmd:    cmd,
		stderr: NewLineRing(opts.StderrLines),
		done:   make(chan struct{}),
	}

	cmd.Stdin = opts.Stdin
	cmd.Stdout = io.Discard
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stderr pipe: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		incExit(name, "start_failed")
		return nil, fmt.Errorf("%s: start: %w", name, err)
	}
	logging.Debugf("process", "%s started (pid %d): %v", name, cmd.Process.Pid, cmd.Args)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(pipe)
		scanner.Split(scanLines)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			p.stderr.Add(line)
			if opts.OnStderr != nil {
				opts.OnStderr(line)
			}
		}
		// Keep the pipe drained if a line overflowed the scanner
		_, _ = io.Copy(io.Discard, pipe)
	}()

	go func() {
		// Reads must finish before Wait closes the pipe
		<-readDone
		err := cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		if err != nil {
			incExit(name, "error")
		} else {
			incExit(name, "ok")
		}
		close(p.done)
	}()

	return p, nil
}

// scanLines splits on \n or \r; progress output rewrites one line with \r
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Name returns the tool name
func (p *Process) Name() string {
	return p.name
}

// Pid returns the OS process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until exit and returns the wait error
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal
func (p *Process) ExitCode() int {
	if !p.Exited() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// StderrTail returns the newest n stderr lines
func (p *Process) StderrTail(n int) []string {
	return p.stderr.LastN(n)
}

// Terminate stops the process (SIGTERM, grace, SIGKILL) and waits for it
func (p *Process) Terminate(grace time.Duration) error {
	if p.Exited() {
		return p.Wait()
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- p.Wait()
	}()
	return Terminate(p.cmd, waitCh, grace)
}

// WaitContext waits for exit or ctx; on ctx expiry the process is
// terminated and ctx.Err() is returned.
func (p *Process) WaitContext(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return p.Wait()
	case <-ctx.Done():
		logging.Warnf("process", "%s (pid %d) interrupted: %v", p.name, p.Pid(), ctx.Err())
		_ = p.Terminate(grace)
		return ctx.Err()
	}
}

// Run starts cmd and waits for it, honouring ctx
func Run(ctx context.Context, name string, cmd *exec.Cmd, opts Options, grace time.Duration) (*Process, error) {
	p, err := Start(name, cmd, opts)
	if err != nil {
		return nil, err
	}
	return p, p.WaitContext(ctx, grace)
}
