package keyer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/config"
)

var (
	// ErrAlreadyTransmitting is returned when a keying operation is in
	// flight or the rig reports PTT active
	ErrAlreadyTransmitting = errors.New("already transmitting")
	// ErrPortUnavailable is returned when the serial PTT line is not open
	ErrPortUnavailable = errors.New("serial port unavailable")
	// ErrUnknownAction is returned for an unconfigured memory or prompt id
	ErrUnknownAction = errors.New("unknown action")
	// ErrPromptNotReady is returned when a prompt has no rendered file in time
	ErrPromptNotReady = audio.ErrPromptNotReady
	// ErrPlaybackTimeout is returned when playback outlives its bound
	ErrPlaybackTimeout = errors.New("playback timed out")
	// ErrTransport matches every TransportError
	ErrTransport = errors.New("transport error")
)

// TransportError reports a failed exchange with the rig or the serial line
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) match
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ActionKind selects what a keying operation plays
type ActionKind string

const (
	ActionMemory ActionKind = "memory"
	ActionPrompt ActionKind = "prompt"
)

// PlayAction is either a rig voice memory or a synthesized prompt
type PlayAction struct {
	Kind ActionKind `json:"kind"`
	ID   string     `json:"id"`
}

// PlayHardwareMemory plays a rig-resident voice memory such as "T1"
func PlayHardwareMemory(memoryID string) PlayAction {
	return PlayAction{Kind: ActionMemory, ID: memoryID}
}

// PlaySynthesizedPrompt plays a rendered prompt such as "n9oh"
func PlaySynthesizedPrompt(promptID string) PlayAction {
	return PlayAction{Kind: ActionPrompt, ID: promptID}
}

func (a PlayAction) String() string {
	return string(a.Kind) + ":" + a.ID
}

// Result records how each step of a keying operation went
type Result struct {
	ID        string        `json:"id"`
	Action    PlayAction    `json:"action"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Keyed   bool `json:"keyed"`
	Unkeyed bool `json:"unkeyed"`

	// Mode handling, prompts only
	PriorMode    string `json:"prior_mode,omitempty"`
	DataMode     string `json:"data_mode,omitempty"`
	ModeSwitched bool   `json:"mode_switched"`
	Restored     bool   `json:"restored"`

	// Memory channel or played file
	Channel  int    `json:"channel,omitempty"`
	PlayPath string `json:"play_path,omitempty"`

	// Player outcome; ToolExitCode is -1 when the tool did not run or exit
	ToolExitCode int    `json:"tool_exit_code"`
	ToolError    string `json:"tool_error,omitempty"`

	Error string `json:"error,omitempty"`
}

// Line is the serial PTT line as the coordinator uses it
type Line interface {
	IsOpen() bool
	SetPTT(active bool) error
	SendFrame(frame []byte) error
	VoiceMemoryFrame(channel int) ([]byte, error)
}

// Prompts is the render cache as the coordinator uses it
type Prompts interface {
	Has(id string) bool
	WaitReady(ctx context.Context, id string, timeout time.Duration) bool
	PreparePlayback(ctx context.Context, id string) (string, error)
}

// Timing holds the settle delays and bounds of the keying protocol
type Timing struct {
	PromptWait        time.Duration
	DataModeSettle    time.Duration
	RestoreSettle     time.Duration
	CIVSettle         time.Duration
	MeterInitialDelay time.Duration
	MeterPollInterval time.Duration
	MemoryTimeout     time.Duration
	PlaybackTimeout   time.Duration

	// PrepareTimeout bounds the pitch shift, which runs before PTT is asserted
	PrepareTimeout time.Duration
	// RestoreTimeout bounds the mode restore once the caller's context is done
	RestoreTimeout time.Duration
}

// DefaultTiming returns the stock IC-7300 timings
func DefaultTiming() Timing {
	return Timing{
		PromptWait:        5 * time.Second,
		DataModeSettle:    200 * time.Millisecond,
		RestoreSettle:     100 * time.Millisecond,
		CIVSettle:         50 * time.Millisecond,
		MeterInitialDelay: 300 * time.Millisecond,
		MeterPollInterval: 100 * time.Millisecond,
		MemoryTimeout:     60 * time.Second,
		PlaybackTimeout:   120 * time.Second,
		PrepareTimeout:    30 * time.Second,
		RestoreTimeout:    5 * time.Second,
	}
}

// TimingFromConfig converts the keyer config section; unset values keep
// their defaults
func TimingFromConfig(cfg *config.Config) Timing {
	t := DefaultTiming()
	set := func(dst *time.Duration, v int, unit time.Duration) {
		if v > 0 {
			*dst = time.Duration(v) * unit
		}
	}
	set(&t.PromptWait, cfg.Keyer.PromptWait, time.Millisecond)
	set(&t.DataModeSettle, cfg.Keyer.DataModeSettle, time.Millisecond)
	set(&t.RestoreSettle, cfg.Keyer.RestoreSettle, time.Millisecond)
	set(&t.CIVSettle, cfg.Keyer.CIVSettle, time.Millisecond)
	set(&t.MeterInitialDelay, cfg.Keyer.MeterInitialDelay, time.Millisecond)
	set(&t.MeterPollInterval, cfg.Keyer.MeterPollInterval, time.Millisecond)
	set(&t.MemoryTimeout, cfg.Keyer.MemoryTimeout, time.Second)
	set(&t.PlaybackTimeout, cfg.Keyer.PlaybackTimeout, time.Second)
	set(&t.PrepareTimeout, cfg.Keyer.PrepareTimeout, time.Second)
	return t
}

func findMemory(memories []config.Memory, id string) (config.Memory, bool) {
	for _, m := range memories {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return config.Memory{}, false
}

// sleepCtx waits d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
