package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/process"
)

const stderrTailLines = 5

// ToolError reports an external tool that ran but failed
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Renderer turns prompt text into a WAV file at out
type Renderer interface {
	Render(ctx context.Context, text string, lengthScale float64, out string) error
}

// PitchShifter writes a pitch-shifted copy of in to out
type PitchShifter interface {
	PitchShift(ctx context.Context, in, out string, cents int) error
}

// Player plays a file through the transmit audio chain, blocking until done
type Player interface {
	Play(ctx context.Context, path string) error
}

// Tools runs the configured command-line tools
type Tools struct {
	Renderer   string // e.g. "piper --model en_US-hfc_male-medium"
	ModelCheck string // optional, run once before rendering
	Pitch      string // e.g. "sox"
	Player     string // e.g. "paplay"

	// Grace between SIGTERM and SIGKILL when a tool is interrupted
	Grace time.Duration
}

// Render runs the renderer with text on stdin
func (t Tools) Render(ctx context.Context, text string, lengthScale float64, out string) error {
	return t.run(ctx, "renderer", t.Renderer, strings.NewReader(text+"\n"),
		"--output_file", out,
		"--length-scale", strconv.FormatFloat(lengthScale, 'f', -1, 64))
}

// PitchShift runs "<pitch> in out pitch <cents>"
func (t Tools) PitchShift(ctx context.Context, in, out string, cents int) error {
	return t.run(ctx, "pitch", t.Pitch, nil, in, out, "pitch", strconv.Itoa(cents))
}

// Play runs the player on path and waits for it to exit
func (t Tools) Play(ctx context.Context, path string) error {
	return t.run(ctx, "player", t.Player, nil, path)
}

// CheckModel runs the optional model check command
func (t Tools) CheckModel(ctx context.Context) error {
	if strings.TrimSpace(t.ModelCheck) == "" {
		return nil
	}
	return t.run(ctx, "model_check", t.ModelCheck, nil)
}

func (t Tools) run(ctx context.Context, tool, commandLine string, stdin io.Reader, args ...string) error {
	cmd, err := process.Build(commandLine, args...)
	if err != nil {
		return &ToolError{Tool: tool, ExitCode: -1, Err: err}
	}

	grace := t.Grace
	if grace <= 0 {
		grace = process.DefaultGrace
	}

	logging.Debugf("audio", "Running %s: %s", tool, strings.Join(cmd.Args, " "))
	p, err := process.Run(ctx, tool, cmd, process.Options{Stdin: stdin, StderrLines: 50}, grace)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}

		var exitErr *exec.ExitError
		if p != nil && errors.As(err, &exitErr) {
			return &ToolError{
				Tool:     tool,
				ExitCode: p.ExitCode(),
				Stderr:   strings.Join(p.StderrTail(stderrTailLines), " | "),
				Err:      err,
			}
		}
		return &ToolError{Tool: tool, ExitCode: -1, Err: err}
	}
	return nil
}
