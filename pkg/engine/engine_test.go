package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/client"
	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/protocol"
	"github.com/dougsko/rigmacros/pkg/recorder"
	"github.com/dougsko/rigmacros/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// holdPlayer blocks in Play until released
type holdPlayer struct {
	mu      sync.Mutex
	played  []string
	started chan struct{}
	release chan struct{}
}

func newHoldPlayer(hold bool) *holdPlayer {
	p := &holdPlayer{started: make(chan struct{}, 4)}
	if hold {
		p.release = make(chan struct{})
	}
	return p
}

func (p *holdPlayer) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	p.played = append(p.played, path)
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *holdPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type testRig struct {
	engine *CoreEngine
	line   *hardware.MockLine
	rig    *hardware.MockRig
	dir    string
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Rig.Mock = true
	cfg.Serial.Mock = true
	cfg.Tools.WorkDir = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "history.db")
	cfg.API.UnixSocket = filepath.Join(dir, "rig.sock")
	cfg.Poller.Interval = 20
	cfg.Keyer.DataModeSettle = 1
	cfg.Keyer.RestoreSettle = 1
	cfg.Keyer.CIVSettle = 1
	cfg.Keyer.MeterInitialDelay = 5
	cfg.Keyer.MeterPollInterval = 5
	cfg.Recording.SaveDir = filepath.Join(dir, "QSO Recordings")
	cfg.Recording.StopGrace = 1000
	return cfg
}

func startEngine(t *testing.T, cfg *config.Config, player audio.Player) *testRig {
	t.Helper()

	line := hardware.NewMockLine()
	rig := hardware.NewMockRig()
	hw := hardware.NewHardwareManagerWith(hardware.HardwareConfig{MockRig: true, MockSerial: true}, line, rig)

	e := NewCoreEngine(cfg, Options{
		Hardware: hw,
		Renderer: audio.ToneRenderer{},
		Player:   player,
	})
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })

	return &testRig{engine: e, line: line, rig: rig, dir: cfg.Tools.WorkDir}
}

func waitPromptsReady(t *testing.T, e *CoreEngine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range e.Prompts() {
		require.True(t, e.cache.WaitReady(ctx, p.ID, 5*time.Second), "prompt %s not ready", p.ID)
	}
}

func TestEngineLifecycle(t *testing.T) {
	cfg := testConfig(t)
	tr := startEngine(t, cfg, newHoldPlayer(false))
	e := tr.engine

	if !e.IsRunning() {
		t.Fatal("Expected engine to be running")
	}
	if _, err := os.Stat(cfg.API.UnixSocket); err != nil {
		t.Fatalf("Expected socket file, got: %v", err)
	}

	c := client.NewSocketClient(cfg.API.UnixSocket)
	require.NoError(t, c.Ping())

	status, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, Version, status.Version)
	assert.True(t, status.LineOpen)
	assert.False(t, status.PTT)
	assert.Equal(t, string(recorder.StateIdle), status.Recording)

	require.Eventually(t, func() bool { return e.Rig().Valid() }, 2*time.Second, 10*time.Millisecond)
	rig, err := c.GetRig()
	require.NoError(t, err)
	assert.Equal(t, "USB @ 14.150 MHz | VFO A | Split OFF", rig.String())

	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
	assert.False(t, tr.line.State().PTT)
	_, err = os.Stat(cfg.API.UnixSocket)
	assert.True(t, os.IsNotExist(err), "Expected socket file removed")

	// Stop is idempotent
	assert.NoError(t, e.Stop())

	_, err = e.Submit(keyer.PlayHardwareMemory("T1"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSpeakPromptViaSocket(t *testing.T) {
	cfg := testConfig(t)
	player := newHoldPlayer(false)
	tr := startEngine(t, cfg, player)
	waitPromptsReady(t, tr.engine)

	c := client.NewSocketClient(cfg.API.UnixSocket)
	res, err := c.SpeakPrompt("n9oh")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Keyed)
	assert.True(t, res.Unkeyed)
	assert.Equal(t, "USB", res.PriorMode)
	assert.Equal(t, "USB-D", res.DataMode)
	assert.True(t, res.Restored)
	assert.Equal(t, []string{"USB-D", "USB"}, tr.rig.ModeHistory())
	assert.Equal(t, []bool{true, false}, tr.line.Transitions())
	require.Len(t, player.Played(), 1)
	assert.Equal(t, filepath.Join(tr.dir, "tts_n9oh.wav"), player.Played()[0])

	assert.Equal(t, "TTS N9OH finished", tr.engine.Message())

	history, err := c.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "prompt", history[0].Kind)
	assert.Equal(t, "n9oh", history[0].ActionID)
	assert.True(t, history[0].Success)
}

func TestKeyMemory(t *testing.T) {
	cfg := testConfig(t)
	tr := startEngine(t, cfg, newHoldPlayer(false))

	c := client.NewSocketClient(cfg.API.UnixSocket)
	res, err := c.KeyMemory("T1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Channel)
	assert.Empty(t, res.PriorMode, "memories never touch the mode")

	writes := tr.line.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "FEFE94E3280001FD", hardware.FormatFrame(writes[0]))
	assert.Equal(t, "T1 finished", tr.engine.Message())

	t.Run("Unknown Memory", func(t *testing.T) {
		res, err := c.KeyMemory("T9")
		assert.Error(t, err)
		require.NotNil(t, res)
		assert.False(t, res.Keyed)
		assert.Len(t, tr.line.Writes(), 1)
	})
}

func TestSubmitWhileBusy(t *testing.T) {
	cfg := testConfig(t)
	player := newHoldPlayer(true)
	tr := startEngine(t, cfg, player)
	e := tr.engine
	waitPromptsReady(t, e)

	first, err := e.Submit(keyer.PlaySynthesizedPrompt("73"))
	require.NoError(t, err)

	select {
	case <-player.started:
	case <-time.After(5 * time.Second):
		t.Fatal("player never started")
	}
	assert.True(t, e.Busy())
	assert.True(t, e.Status().Keying)

	_, err = e.Submit(keyer.PlayHardwareMemory("T1"))
	assert.ErrorIs(t, err, keyer.ErrAlreadyTransmitting)
	assert.Equal(t, "Already transmitting", e.Message())

	_, err = e.ToggleSplit(context.Background())
	assert.ErrorIs(t, err, keyer.ErrAlreadyTransmitting)
	assert.Zero(t, tr.rig.CountCalls("rig.set_split"))

	close(player.release)
	out := <-first
	require.NoError(t, out.Err)
	assert.True(t, out.Result.Unkeyed)
	assert.False(t, e.Busy())

	// Nothing ran for the rejected memory
	assert.Empty(t, tr.line.Writes())

	_, err = e.KeyMemory(context.Background(), "T1")
	assert.NoError(t, err)
}

func TestStopDuringTransmission(t *testing.T) {
	cfg := testConfig(t)
	player := newHoldPlayer(true)
	tr := startEngine(t, cfg, player)
	e := tr.engine
	waitPromptsReady(t, e)

	done, err := e.Submit(keyer.PlaySynthesizedPrompt("n9oh"))
	require.NoError(t, err)
	<-player.started

	require.NoError(t, e.Stop())

	out := <-done
	assert.Error(t, out.Err)
	assert.True(t, out.Result.Unkeyed)
	assert.True(t, out.Result.Restored)
	assert.False(t, tr.line.State().PTT)
	assert.Equal(t, "USB", tr.rig.ModeHistory()[len(tr.rig.ModeHistory())-1])
}

func TestMacros(t *testing.T) {
	cfg := testConfig(t)
	cfg.Poller.Disabled = true
	tr := startEngine(t, cfg, newHoldPlayer(false))
	e := tr.engine
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (string, error)
		want string
	}{
		{"Frequency And Mode", func() (string, error) { return e.SetFrequencyAndMode(ctx, 14074000, "usb") }, "USB @ 14.074 MHz"},
		{"SSB Band", func() (string, error) { return e.ApplyBand(ctx, "ssb", "40m") }, "LSB @ 7.125 MHz"},
		{"CW Band", func() (string, error) { return e.ApplyBand(ctx, "cw", "20m") }, "CW @ 14.000 MHz"},
		{"Split On", func() (string, error) { return e.ToggleSplit(ctx) }, "Split mode: ON"},
		{"Split Off", func() (string, error) { return e.ToggleSplit(ctx) }, "Split mode: OFF"},
		{"VFO B", func() (string, error) { return e.ToggleVFO(ctx) }, "Switched to VFO B"},
		{"VFO A", func() (string, error) { return e.ToggleVFO(ctx) }, "Switched to VFO A"},
		{"Copy A To B", func() (string, error) { return e.CopyVFOAToB(ctx) }, "VFO A → B copied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if e.Message() != tt.want {
				t.Errorf("Expected status %q, got %q", tt.want, e.Message())
			}
		})
	}

	t.Run("Unknown Band", func(t *testing.T) {
		_, err := e.ApplyBand(ctx, "ssb", "160m")
		assert.Error(t, err)
	})

	t.Run("Rig Unreachable", func(t *testing.T) {
		tr.rig.SetReachable(false)
		defer tr.rig.SetReachable(true)

		_, err := e.ToggleSplit(ctx)
		assert.ErrorIs(t, err, hardware.ErrRigUnreachable)
		assert.True(t, strings.HasPrefix(e.Message(), "Error: "), "got %q", e.Message())
	})
}

// slowRig parks SetFrequency until released
type slowRig struct {
	*hardware.MockRig
	entered chan struct{}
	release chan struct{}
}

func (r *slowRig) SetFrequency(ctx context.Context, hz float64) error {
	r.entered <- struct{}{}
	<-r.release
	return r.MockRig.SetFrequency(ctx, hz)
}

func TestMacroExcludesKeying(t *testing.T) {
	cfg := testConfig(t)
	cfg.Poller.Disabled = true

	line := hardware.NewMockLine()
	rig := &slowRig{MockRig: hardware.NewMockRig(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	hw := hardware.NewHardwareManagerWith(hardware.HardwareConfig{MockRig: true, MockSerial: true}, line, rig)

	e := NewCoreEngine(cfg, Options{Hardware: hw, Renderer: audio.ToneRenderer{}, Player: newHoldPlayer(false)})
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := e.ApplyBand(ctx, "ssb", "40m")
		done <- err
	}()

	select {
	case <-rig.entered:
	case <-time.After(5 * time.Second):
		close(rig.release)
		t.Fatal("macro never reached the rig")
	}

	_, err := e.Submit(keyer.PlayHardwareMemory("T1"))
	assert.ErrorIs(t, err, ErrRigBusy)
	assert.False(t, e.Busy(), "Expected rejected submission to leave nothing pending")
	assert.Equal(t, "Rig busy", e.Message())

	_, err = e.ToggleSplit(ctx)
	assert.ErrorIs(t, err, ErrRigBusy)

	close(rig.release)
	require.NoError(t, <-done)
	assert.Equal(t, "LSB @ 7.125 MHz", e.Message())
	assert.Empty(t, line.Transitions(), "Expected nothing keyed during the macro")
	assert.Equal(t, []string{"LSB"}, rig.ModeHistory())

	res, err := e.KeyMemory(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, res.Unkeyed)
}

func TestSocketCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Poller.Disabled = true
	startEngine(t, cfg, newHoldPlayer(false))
	c := client.NewSocketClient(cfg.API.UnixSocket)

	msg, err := c.SetFrequency(7074000, "USB-D")
	require.NoError(t, err)
	assert.Equal(t, "USB-D @ 7.074 MHz", msg)

	msg, err = c.SetBand("ssb", "20m")
	require.NoError(t, err)
	assert.Equal(t, "USB @ 14.150 MHz", msg)

	msg, err = c.ToggleSplit()
	require.NoError(t, err)
	assert.Equal(t, "Split mode: ON", msg)

	prompts, err := c.GetPrompts()
	require.NoError(t, err)
	assert.Len(t, prompts, len(cfg.Prompts))

	entries, err := c.GetLog(5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 5)

	resp, err := c.SendCommand("BOGUS")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")

	resp, err = c.SendCommand("FREQ:abc:USB")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "parse error")

	assert.Error(t, c.Rerender("nope"))
}

func TestRecordingFlow(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cfg := testConfig(t)
	cfg.Poller.Disabled = true
	capture := filepath.Join(cfg.Tools.WorkDir, "ffmpeg.sh")
	require.NoError(t, os.WriteFile(capture, []byte(`#!/bin/sh
for a; do out="$a"; done
echo "captured audio" > "$out"
trap 'exit 255' TERM
while :; do sleep 0.05; done
`), 0755))
	cfg.Recording.Capture = "sh " + capture

	tr := startEngine(t, cfg, newHoldPlayer(false))
	e := tr.engine

	s, msg, err := e.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, "Recording started: "+s.FilePath, msg)
	require.Eventually(t, func() bool {
		_, err := os.Stat(s.FilePath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, msg, err = e.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, "Recording stopped: "+filepath.Base(s.FilePath), msg)

	_, msg, err = e.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, "Not recording", msg)

	saved, msg, err := e.SaveRecording("")
	require.NoError(t, err)
	assert.Equal(t, "Saved: "+filepath.Base(s.FilePath), msg)
	assert.FileExists(t, saved.FilePath)

	_, _, err = e.DeleteRecording(false)
	assert.ErrorIs(t, err, recorder.ErrConfirmationRequired)
	assert.Equal(t, "Delete cancelled", e.Message())
	assert.FileExists(t, saved.FilePath)

	_, msg, err = e.DeleteRecording(true)
	require.NoError(t, err)
	assert.Equal(t, "Deleted: "+filepath.Base(s.FilePath), msg)
	assert.NoFileExists(t, saved.FilePath)

	_, _, err = e.PlayRecording()
	assert.ErrorIs(t, err, recorder.ErrNothingToPlay)
	assert.Equal(t, "No recording to play", e.Message())

	events, err := e.Store().GetRecordingEvents(s.ID, 0)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Event)
	}
	assert.Equal(t, []string{
		storage.RecordingDeleted,
		storage.RecordingSaved,
		storage.RecordingStopped,
		storage.RecordingStarted,
	}, kinds)
}

func TestHistoryWithoutStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Poller.Disabled = true

	line := hardware.NewMockLine()
	hw := hardware.NewHardwareManagerWith(hardware.HardwareConfig{}, line, hardware.NewMockRig())
	e := NewCoreEngine(cfg, Options{Hardware: hw, Renderer: audio.ToneRenderer{}, DisableStore: true})
	require.NoError(t, e.Start())
	defer e.Stop()

	assert.Nil(t, e.Store())
	resp := e.HandleCommand(context.Background(), &protocol.Command{Type: protocol.CmdHistory})
	assert.False(t, resp.Success)
}

func TestFinishedMessage(t *testing.T) {
	t1 := keyer.PlayHardwareMemory("T1")
	n9oh := keyer.PlaySynthesizedPrompt("n9oh")

	tests := []struct {
		name   string
		action keyer.PlayAction
		err    error
		want   string
	}{
		{"Memory Done", t1, nil, "T1 finished"},
		{"Prompt Done", n9oh, nil, "TTS N9OH finished"},
		{"Busy", t1, keyer.ErrAlreadyTransmitting, "Already transmitting"},
		{"No Port", t1, keyer.ErrPortUnavailable, "Serial port not available"},
		{"Not Rendered", n9oh, keyer.ErrPromptNotReady, "TTS generation failed"},
		{"Player Failed", n9oh, &audio.ToolError{Tool: "player", ExitCode: 1}, "TTS N9OH failed: player exited with status 1"},
		{"Prompt Error", n9oh, errors.New("boom"), "TTS error: boom"},
		{"Memory Error", t1, errors.New("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finishedMessage(tt.action, tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
