package keyer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/logging"
)

// Config wires a Coordinator to the hardware it drives
type Config struct {
	Line     Line
	Rig      hardware.RigClient
	Prompts  Prompts
	Player   audio.Player
	Memories []config.Memory
	Timing   Timing
}

// Coordinator runs keying operations one at a time: guard, key, act,
// unkey, restore.
type Coordinator struct {
	line     Line
	rig      hardware.RigClient
	prompts  Prompts
	player   audio.Player
	memories []config.Memory
	timing   Timing

	busy atomic.Bool
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.Timing.RestoreTimeout <= 0 {
		cfg.Timing.RestoreTimeout = DefaultTiming().RestoreTimeout
	}
	if cfg.Timing.PrepareTimeout <= 0 {
		cfg.Timing.PrepareTimeout = DefaultTiming().PrepareTimeout
	}
	return &Coordinator{
		line:     cfg.Line,
		rig:      cfg.Rig,
		prompts:  cfg.Prompts,
		player:   cfg.Player,
		memories: cfg.Memories,
		timing:   cfg.Timing,
	}
}

// Busy reports whether a keying operation is in flight
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

// Memories returns the configured voice memories
func (c *Coordinator) Memories() []config.Memory {
	return append([]config.Memory(nil), c.memories...)
}

// isRejection reports errors returned by the guards, before anything was keyed
func isRejection(err error) bool {
	return errors.Is(err, ErrAlreadyTransmitting) ||
		errors.Is(err, ErrPortUnavailable) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrPromptNotReady)
}

// KeyAndPlay keys the transmitter, plays the action and unkeys. A second
// call while one is in flight is rejected with ErrAlreadyTransmitting and
// touches nothing. Whatever happens after PTT is asserted, PTT is released
// and, for prompts, the prior mode is restored before this returns.
func (c *Coordinator) KeyAndPlay(ctx context.Context, action PlayAction) (res Result, err error) {
	res = Result{
		ID:           uuid.NewString(),
		Action:       action,
		StartedAt:    time.Now(),
		ToolExitCode: -1,
	}

	if !c.busy.CompareAndSwap(false, true) {
		err = fmt.Errorf("%w: %s rejected", ErrAlreadyTransmitting, action)
		res.Error = err.Error()
		keyingTotal.WithLabelValues(string(action.Kind), "rejected").Inc()
		return res, err
	}
	defer c.busy.Store(false)

	log := logging.GetGlobalLogger().WithFields(map[string]interface{}{
		"op":     res.ID[:8],
		"action": action.String(),
	})

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		if err != nil {
			res.Error = err.Error()
		}
		keyingTotal.WithLabelValues(string(action.Kind), resultLabel(err)).Inc()
		if res.Keyed {
			keyingDuration.WithLabelValues(string(action.Kind)).Observe(res.Duration.Seconds())
		}
	}()

	err = c.run(ctx, action, &res, log)
	if err != nil {
		if isRejection(err) {
			log.Warnf("keyer", "Rejected: %v", err)
		} else {
			log.Errorf("keyer", "Keying failed: %v", err)
		}
	} else {
		log.Infof("keyer", "Done in %s", time.Since(res.StartedAt).Round(time.Millisecond))
	}
	return res, err
}

func (c *Coordinator) run(ctx context.Context, action PlayAction, res *Result, log *logging.FieldLogger) (err error) {
	if c.line == nil || !c.line.IsOpen() {
		return ErrPortUnavailable
	}

	switch action.Kind {
	case ActionMemory:
		mem, ok := findMemory(c.memories, action.ID)
		if !ok {
			return fmt.Errorf("%w: memory %q", ErrUnknownAction, action.ID)
		}
		res.Channel = mem.Channel
	case ActionPrompt:
		if c.prompts == nil || !c.prompts.Has(action.ID) {
			return fmt.Errorf("%w: prompt %q", ErrUnknownAction, action.ID)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownAction, action.Kind)
	}

	ptt, err := c.rig.GetPTT(ctx)
	if err != nil {
		return transportErr("PTT check", err)
	}
	if ptt {
		return fmt.Errorf("%w: rig reports PTT active", ErrAlreadyTransmitting)
	}

	if action.Kind == ActionPrompt {
		if !c.prompts.WaitReady(ctx, action.ID, c.timing.PromptWait) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrPromptNotReady, action.ID)
		}
		if err := c.preparePrompt(ctx, action.ID, res); err != nil {
			return err
		}
		c.switchToDataMode(ctx, res, log)
		if res.PriorMode != "" {
			defer func() {
				if rerr := c.restoreMode(ctx, res, log); rerr != nil && err == nil {
					err = rerr
				}
			}()
		}
	}

	// Registered after the restore so it runs first
	defer func() {
		if uerr := c.unkey(res, log); uerr != nil && err == nil {
			err = uerr
		}
	}()

	if err := c.line.SetPTT(true); err != nil {
		return transportErr("PTT assert", err)
	}
	res.Keyed = true
	pttAsserted.Set(1)
	log.Info("keyer", "PTT ON")

	if action.Kind == ActionMemory {
		return c.playMemory(ctx, res, log)
	}
	return c.playPrompt(ctx, res, log)
}

// preparePrompt resolves the file to play, pitch shifting it if needed.
// It runs unkeyed and in the original mode, bounded by PrepareTimeout.
func (c *Coordinator) preparePrompt(ctx context.Context, id string, res *Result) error {
	pctx, cancel := context.WithTimeout(ctx, c.timing.PrepareTimeout)
	defer cancel()

	path, err := c.prompts.PreparePlayback(pctx, id)
	switch {
	case err == nil:
		res.PlayPath = path
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: pitch shift of %s still running after %s", ErrPlaybackTimeout, id, c.timing.PrepareTimeout)
	default:
		return err
	}
}

// switchToDataMode snapshots the current mode and moves to its data
// variant. Failures are logged; an empty PriorMode means nothing to restore.
func (c *Coordinator) switchToDataMode(ctx context.Context, res *Result, log *logging.FieldLogger) {
	prior, err := c.rig.GetMode(ctx)
	if err != nil {
		log.Warnf("keyer", "Could not read mode, keying without data mode: %v", err)
		return
	}
	res.PriorMode = prior
	res.DataMode = hardware.DataMode(prior)
	if res.DataMode == prior {
		log.Debugf("keyer", "Already in data mode %s", prior)
		return
	}

	if err := c.rig.SetMode(ctx, res.DataMode); err != nil {
		log.Warnf("keyer", "Could not switch to %s: %v", res.DataMode, err)
		return
	}
	res.ModeSwitched = true
	log.Infof("keyer", "Mode %s -> %s", prior, res.DataMode)
	if err := sleepCtx(ctx, c.timing.DataModeSettle); err != nil {
		log.Debugf("keyer", "Data mode settle interrupted: %v", err)
	}
}

// restoreMode puts back the snapshotted mode. It runs even when ctx is
// already done, bounded by RestoreTimeout.
func (c *Coordinator) restoreMode(ctx context.Context, res *Result, log *logging.FieldLogger) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timing.RestoreTimeout)
	defer cancel()

	if err := c.rig.SetMode(rctx, res.PriorMode); err != nil {
		restoreFailures.Inc()
		log.Errorf("keyer", "Failed to restore mode %s: %v", res.PriorMode, err)
		return transportErr("mode restore", err)
	}
	res.Restored = true
	log.Infof("keyer", "Mode restored to %s", res.PriorMode)
	_ = sleepCtx(rctx, c.timing.RestoreSettle)
	return nil
}

// unkey releases PTT; the release is always written even if the assert failed
func (c *Coordinator) unkey(res *Result, log *logging.FieldLogger) error {
	if err := c.line.SetPTT(false); err != nil {
		log.Errorf("keyer", "Failed to release PTT: %v", err)
		return transportErr("PTT release", err)
	}
	pttAsserted.Set(0)
	res.Unkeyed = true
	if res.Keyed {
		log.Info("keyer", "PTT OFF")
	}
	return nil
}

// playMemory triggers a rig voice memory and waits for the power meter to
// drop back to zero
func (c *Coordinator) playMemory(ctx context.Context, res *Result, log *logging.FieldLogger) error {
	if err := sleepCtx(ctx, c.timing.CIVSettle); err != nil {
		return err
	}

	frame, err := c.line.VoiceMemoryFrame(res.Channel)
	if err != nil {
		return err
	}
	if err := c.line.SendFrame(frame); err != nil {
		return transportErr("CI-V write", err)
	}
	log.Infof("keyer", "Sent CI-V %s (memory channel %d)", hardware.FormatFrame(frame), res.Channel)

	deadline := time.NewTimer(c.timing.MemoryTimeout)
	defer deadline.Stop()

	wait := c.timing.MeterInitialDelay
	for {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-deadline.C:
			timer.Stop()
			return fmt.Errorf("%w: memory %d still transmitting after %s",
				ErrPlaybackTimeout, res.Channel, c.timing.MemoryTimeout)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		watts, err := c.rig.GetPowerMeter(ctx)
		if err != nil {
			return transportErr("power meter read", err)
		}
		if watts <= 0 {
			log.Debug("keyer", "Power meter at zero, memory finished")
			return nil
		}
		wait = c.timing.MeterPollInterval
	}
}

// playPrompt runs the player on the prepared file. A non-zero exit is
// recorded in the Result and returned; unkey and restore still follow.
func (c *Coordinator) playPrompt(ctx context.Context, res *Result, log *logging.FieldLogger) error {
	pctx, cancel := context.WithTimeout(ctx, c.timing.PlaybackTimeout)
	defer cancel()

	log.Infof("keyer", "Playing %s", res.PlayPath)
	err := c.player.Play(pctx, res.PlayPath)

	var toolErr *audio.ToolError
	switch {
	case err == nil:
		res.ToolExitCode = 0
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: player still running after %s", ErrPlaybackTimeout, c.timing.PlaybackTimeout)
	case errors.As(err, &toolErr):
		res.ToolExitCode = toolErr.ExitCode
		res.ToolError = toolErr.Error()
		log.Errorf("keyer", "Playback failed: %v", toolErr)
		return toolErr
	default:
		res.ToolError = err.Error()
		return err
	}
}
