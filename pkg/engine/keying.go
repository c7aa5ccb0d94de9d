package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/storage"
)

// Submit queues a keying operation for the worker. While one is queued or
// running the submission is rejected with ErrAlreadyTransmitting.
func (e *CoreEngine) Submit(action keyer.PlayAction) (<-chan KeyOutcome, error) {
	if !e.running.Load() {
		return nil, ErrNotRunning
	}
	if !e.pending.CompareAndSwap(false, true) {
		e.setMessage("Already transmitting")
		return nil, fmt.Errorf("%w: %s rejected", keyer.ErrAlreadyTransmitting, action)
	}
	if e.macro.Load() {
		e.pending.Store(false)
		e.setMessage("Rig busy")
		return nil, fmt.Errorf("%w: %s rejected", ErrRigBusy, action)
	}

	t := keyTask{action: action, done: make(chan KeyOutcome, 1)}
	e.setMessage(playingMessage(action))
	select {
	case e.tasks <- t:
		return t.done, nil
	default:
		e.pending.Store(false)
		e.setMessage("Already transmitting")
		return nil, fmt.Errorf("%w: %s rejected", keyer.ErrAlreadyTransmitting, action)
	}
}

// Key submits action and waits for it to finish or for ctx to end. The
// operation itself is not cancelled by ctx; it always unwinds on the worker.
func (e *CoreEngine) Key(ctx context.Context, action keyer.PlayAction) (keyer.Result, error) {
	done, err := e.Submit(action)
	if err != nil {
		return keyer.Result{Action: action, ToolExitCode: -1, Error: err.Error()}, err
	}
	select {
	case out := <-done:
		return out.Result, out.Err
	case <-ctx.Done():
		return keyer.Result{Action: action, ToolExitCode: -1}, ctx.Err()
	}
}

// KeyMemory plays the rig voice memory id, e.g. "T1"
func (e *CoreEngine) KeyMemory(ctx context.Context, id string) (keyer.Result, error) {
	return e.Key(ctx, keyer.PlayHardwareMemory(id))
}

// SpeakPrompt transmits the synthesized prompt id, e.g. "n9oh"
func (e *CoreEngine) SpeakPrompt(ctx context.Context, id string) (keyer.Result, error) {
	return e.Key(ctx, keyer.PlaySynthesizedPrompt(id))
}

// Busy reports whether a keying operation is queued or running
func (e *CoreEngine) Busy() bool {
	return e.pending.Load()
}

// keyWorker runs keying operations one at a time
func (e *CoreEngine) keyWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Nothing can be queued once running is false
			select {
			case t := <-e.tasks:
				t.done <- KeyOutcome{
					Result: keyer.Result{Action: t.action, ToolExitCode: -1, Error: ErrNotRunning.Error()},
					Err:    ErrNotRunning,
				}
				e.pending.Store(false)
			default:
			}
			return nil
		case t := <-e.tasks:
			res, err := e.coordinator.KeyAndPlay(ctx, t.action)
			e.finishKeying(res, err)
			e.pending.Store(false)
			t.done <- KeyOutcome{Result: res, Err: err}
		}
	}
}

// finishKeying publishes, journals and stores a finished operation
func (e *CoreEngine) finishKeying(res keyer.Result, err error) {
	msg := finishedMessage(res.Action, err)
	if err != nil {
		logging.Warnf("engine", "%s: %v", res.Action, err)
	}
	e.setMessage(msg)
	e.bus.Publish(Event{Type: EventKeying, Message: msg, Data: res})

	if e.store == nil {
		return
	}
	_, storeErr := e.store.RecordKeying(storage.KeyingEvent{
		OperationID:  res.ID,
		Kind:         string(res.Action.Kind),
		ActionID:     res.Action.ID,
		StartedAt:    res.StartedAt,
		Duration:     res.Duration,
		Success:      err == nil,
		Keyed:        res.Keyed,
		Unkeyed:      res.Unkeyed,
		PriorMode:    res.PriorMode,
		Restored:     res.Restored,
		ToolExitCode: res.ToolExitCode,
		Error:        res.Error,
	})
	if storeErr != nil {
		logging.Warnf("engine", "Failed to record keying operation: %v", storeErr)
	}
}

func actionLabel(a keyer.PlayAction) string {
	if a.Kind == keyer.ActionPrompt {
		return "TTS " + strings.ToUpper(a.ID)
	}
	return strings.ToUpper(a.ID)
}

func playingMessage(a keyer.PlayAction) string {
	if a.Kind == keyer.ActionPrompt {
		return "Playing " + actionLabel(a) + "..."
	}
	return "Playing " + actionLabel(a)
}

// finishedMessage renders the status line shown after an operation
func finishedMessage(a keyer.PlayAction, err error) string {
	var toolErr *audio.ToolError
	switch {
	case err == nil:
		return actionLabel(a) + " finished"
	case errors.Is(err, keyer.ErrAlreadyTransmitting):
		return "Already transmitting"
	case errors.Is(err, keyer.ErrPortUnavailable):
		return "Serial port not available"
	case errors.Is(err, keyer.ErrPromptNotReady):
		return "TTS generation failed"
	case errors.As(err, &toolErr):
		return fmt.Sprintf("%s failed: %s exited with status %d", actionLabel(a), toolErr.Tool, toolErr.ExitCode)
	case a.Kind == keyer.ActionPrompt:
		return fmt.Sprintf("TTS error: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
