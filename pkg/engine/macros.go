package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/logging"
)

// rigMacro runs fn unless a transmission or another macro is in flight,
// and turns its outcome into the status line. No keying task can be
// submitted while fn runs.
func (e *CoreEngine) rigMacro(name string, fn func(rig hardware.RigClient) (string, error)) (string, error) {
	if !e.macro.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: %s refused", ErrRigBusy, name)
	}
	defer e.macro.Store(false)

	if e.pending.Load() {
		e.setMessage("Already transmitting")
		return "", fmt.Errorf("%w: %s refused", keyer.ErrAlreadyTransmitting, name)
	}

	rig := e.hardwareManager.Rig()
	if rig == nil {
		return "", fmt.Errorf("%s: %w", name, hardware.ErrRigUnreachable)
	}

	msg, err := fn(rig)
	if err != nil {
		logging.Errorf("engine", "%s error: %v", name, err)
		e.setMessage(fmt.Sprintf("Error: %v", err))
		return "", err
	}
	e.setMessage(msg)
	return msg, nil
}

// SetFrequencyAndMode tunes VFO A and sets its mode
func (e *CoreEngine) SetFrequencyAndMode(ctx context.Context, hz float64, mode string) (string, error) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	return e.rigMacro("Freq/mode", func(rig hardware.RigClient) (string, error) {
		if err := rig.SetFrequency(ctx, hz); err != nil {
			return "", err
		}
		if err := rig.SetMode(ctx, mode); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s @ %s", mode, hardware.FormatMHz(hz)), nil
	})
}

// ApplyBand applies a CW or SSB band preset
func (e *CoreEngine) ApplyBand(ctx context.Context, kind, band string) (string, error) {
	preset, err := hardware.LookupBand(kind, band)
	if err != nil {
		return "", err
	}
	return e.SetFrequencyAndMode(ctx, preset.Frequency, preset.Mode)
}

// ToggleSplit flips split operation
func (e *CoreEngine) ToggleSplit(ctx context.Context) (string, error) {
	return e.rigMacro("Split toggle", func(rig hardware.RigClient) (string, error) {
		split, err := rig.GetSplit(ctx)
		if err != nil {
			return "", err
		}
		if err := rig.SetSplit(ctx, !split); err != nil {
			return "", err
		}
		if split {
			return "Split mode: OFF", nil
		}
		return "Split mode: ON", nil
	})
}

// ToggleVFO swaps the active VFO
func (e *CoreEngine) ToggleVFO(ctx context.Context) (string, error) {
	return e.rigMacro("VFO toggle", func(rig hardware.RigClient) (string, error) {
		vfo, err := rig.GetVFO(ctx)
		if err != nil {
			return "", err
		}
		next := hardware.OtherVFO(vfo)
		if err := rig.SetVFO(ctx, next); err != nil {
			return "", err
		}
		return "Switched to VFO " + next, nil
	})
}

// CopyVFOAToB copies VFO A onto VFO B
func (e *CoreEngine) CopyVFOAToB(ctx context.Context) (string, error) {
	return e.rigMacro("VFO copy", func(rig hardware.RigClient) (string, error) {
		if err := rig.CopyVFOAToB(ctx); err != nil {
			return "", err
		}
		return "VFO A → B copied", nil
	})
}

// BandPresets returns the CW and SSB preset tables
func BandPresets() map[string][]hardware.BandPreset {
	return map[string][]hardware.BandPreset{
		hardware.PresetCW:  hardware.CWBands,
		hardware.PresetSSB: hardware.SSBBands,
	}
}
