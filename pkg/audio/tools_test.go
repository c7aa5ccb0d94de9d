package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops a shell script into dir and returns a command line for it
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return "sh " + path
}

const fakeRenderer = `out=""
scale=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_file) out="$2"; shift ;;
    --length-scale) scale="$2"; shift ;;
  esac
  shift
done
dir=$(dirname "$0")
cat > "$dir/stdin.txt"
echo "$scale" > "$dir/scale.txt"
cp "$dir/fixture.wav" "$out"
`

func TestToolsRender(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteToneWAV(filepath.Join(dir, "fixture.wav"), 200*time.Millisecond, 700, 8000))

	tools := Tools{Renderer: writeScript(t, dir, "render.sh", fakeRenderer)}
	out := filepath.Join(dir, "tts_n9oh.wav")

	require.NoError(t, tools.Render(context.Background(), ",, November Nine Oscar HOTEL", 0.72, out))

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, ",, November Nine Oscar HOTEL\n", string(stdin))

	scale, err := os.ReadFile(filepath.Join(dir, "scale.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0.72", strings.TrimSpace(string(scale)))

	_, err = ReadWAVInfo(out)
	assert.NoError(t, err)
}

func TestToolsPitchShift(t *testing.T) {
	dir := t.TempDir()
	tools := Tools{Pitch: writeScript(t, dir, "sox.sh", `cp "$1" "$2"; echo "$3 $4" > "$(dirname "$0")/args.txt"`)}

	in := filepath.Join(dir, "in.wav")
	require.NoError(t, WriteToneWAV(in, 100*time.Millisecond, 700, 8000))
	out := filepath.Join(dir, "out.wav")

	require.NoError(t, tools.PitchShift(context.Background(), in, out, -300))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pitch -300", strings.TrimSpace(string(args)))
	assert.FileExists(t, out)
}

func TestToolsPlay(t *testing.T) {
	dir := t.TempDir()

	t.Run("Success", func(t *testing.T) {
		tools := Tools{Player: writeScript(t, dir, "ok.sh", `test -n "$1"`)}
		assert.NoError(t, tools.Play(context.Background(), "/tmp/x.wav"))
	})

	t.Run("Non Zero Exit", func(t *testing.T) {
		tools := Tools{Player: writeScript(t, dir, "fail.sh", "echo 'Failed to connect: Connection refused' >&2\nexit 1\n")}
		err := tools.Play(context.Background(), "/tmp/x.wav")

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr), "expected ToolError, got %v", err)
		assert.Equal(t, "player", toolErr.Tool)
		assert.Equal(t, 1, toolErr.ExitCode)
		assert.Contains(t, toolErr.Stderr, "Connection refused")
		assert.Contains(t, toolErr.Error(), "player exited with status 1")
	})

	t.Run("Timeout", func(t *testing.T) {
		tools := Tools{Player: writeScript(t, dir, "slow.sh", "sleep 10\n"), Grace: 200 * time.Millisecond}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := tools.Play(ctx, "/tmp/x.wav")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Missing Binary", func(t *testing.T) {
		tools := Tools{Player: "no-such-player-rigmacros"}
		err := tools.Play(context.Background(), "/tmp/x.wav")

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, -1, toolErr.ExitCode)
	})
}

func TestToolsCheckModel(t *testing.T) {
	assert.NoError(t, Tools{}.CheckModel(context.Background()))

	dir := t.TempDir()
	tools := Tools{ModelCheck: writeScript(t, dir, "check.sh", "exit 2\n")}
	assert.Error(t, tools.CheckModel(context.Background()))
}
