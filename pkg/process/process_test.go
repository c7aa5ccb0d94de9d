package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestBuild(t *testing.T) {
	t.Run("Quoted Arguments", func(t *testing.T) {
		cmd, err := Build(`piper --model "en_US hfc" -q`, "--output_file", "/tmp/x.wav")
		require.NoError(t, err)
		assert.Equal(t, []string{"piper", "--model", "en_US hfc", "-q", "--output_file", "/tmp/x.wav"}, cmd.Args)
		require.NotNil(t, cmd.SysProcAttr)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Build("   ")
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})

	t.Run("Unterminated Quote", func(t *testing.T) {
		_, err := Build(`sox "unterminated`)
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	t.Run("Success", func(t *testing.T) {
		cmd, err := Build("sh -c", "exit 0")
		require.NoError(t, err)
		p, err := Run(context.Background(), "ok", cmd, Options{}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, p.ExitCode())
	})

	t.Run("Non Zero Exit With Stderr", func(t *testing.T) {
		cmd, err := Build("sh -c", "echo first >&2; echo 'no such sink' >&2; exit 3")
		require.NoError(t, err)

		var seen []string
		p, err := Run(context.Background(), "player", cmd, Options{
			OnStderr: func(line string) { seen = append(seen, line) },
		}, time.Second)

		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
		assert.Equal(t, 3, p.ExitCode())
		assert.Equal(t, []string{"first", "no such sink"}, p.StderrTail(5))
		assert.Equal(t, []string{"first", "no such sink"}, seen)
	})

	t.Run("Stdin Is Fed", func(t *testing.T) {
		cmd, err := Build("sh -c", "read line; [ \"$line\" = hello ]")
		require.NoError(t, err)
		_, err = Run(context.Background(), "stdin", cmd, Options{Stdin: strings.NewReader("hello\n")}, time.Second)
		assert.NoError(t, err)
	})

	t.Run("Context Timeout Terminates", func(t *testing.T) {
		cmd, err := Build("sleep 10")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		p, err := Run(ctx, "sleep", cmd, Options{}, time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, p.Exited())
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("Missing Binary", func(t *testing.T) {
		cmd, err := Build("definitely-not-a-real-binary-rigmacros")
		require.NoError(t, err)
		_, err = Run(context.Background(), "missing", cmd, Options{}, time.Second)
		assert.Error(t, err)
	})
}

func TestTerminate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	t.Run("Graceful", func(t *testing.T) {
		cmd, err := Build("sleep 10")
		require.NoError(t, err)
		p, err := Start("sleep", cmd, Options{})
		require.NoError(t, err)

		start := time.Now()
		_ = p.Terminate(2 * time.Second)
		assert.True(t, p.Exited())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Escalates To SIGKILL", func(t *testing.T) {
		cmd, err := Build("sh -c", "trap '' TERM; while :; do sleep 0.05; done")
		require.NoError(t, err)
		p, err := Start("stubborn", cmd, Options{})
		require.NoError(t, err)

		// Give the shell time to install its trap
		time.Sleep(100 * time.Millisecond)

		start := time.Now()
		err = p.Terminate(200 * time.Millisecond)
		assert.Error(t, err)
		assert.True(t, p.Exited())
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
		assert.Equal(t, -1, p.ExitCode())
	})

	t.Run("Already Exited", func(t *testing.T) {
		cmd, err := Build("sh -c", "exit 0")
		require.NoError(t, err)
		p, err := Start("quick", cmd, Options{})
		require.NoError(t, err)
		require.NoError(t, p.Wait())
		assert.NoError(t, p.Terminate(time.Second))
	})

	t.Run("Nil Command", func(t *testing.T) {
		assert.NoError(t, Terminate(nil, nil, time.Second))
	})
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	_, _ = r.Write([]byte("a\nb\n\nc\r\nd\n"))

	assert.Equal(t, []string{"b", "c", "d"}, r.LastN(0))
	assert.Equal(t, []string{"c", "d"}, r.LastN(2))
	assert.Equal(t, "c\nd", r.Tail(2))

	empty := NewLineRing(0)
	assert.Empty(t, empty.LastN(5))
}

func TestStderrCarriageReturns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	cmd, err := Build("sh -c", `printf 'Input #0\nsize=1kB\rsize=2kB\rsize=3kB\n' >&2`)
	require.NoError(t, err)
	p, err := Run(context.Background(), "capture", cmd, Options{StderrLines: 10}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"Input #0", "size=1kB", "size=2kB", "size=3kB"}, p.StderrTail(10))
}
