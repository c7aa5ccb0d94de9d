package hardware

import (
	"context"
	"errors"
	"testing"
)

func TestMockRig(t *testing.T) {
	ctx := context.Background()
	rig := NewMockRig()

	t.Run("Frequency And Mode", func(t *testing.T) {
		if err := rig.SetFrequency(ctx, 7125000); err != nil {
			t.Fatalf("Failed to set frequency: %v", err)
		}
		if err := rig.SetMode(ctx, ModeLSB); err != nil {
			t.Fatalf("Failed to set mode: %v", err)
		}

		freq, err := rig.GetFrequency(ctx)
		if err != nil || freq != 7125000 {
			t.Errorf("Expected 7125000, got %v (err=%v)", freq, err)
		}
		mode, err := rig.GetMode(ctx)
		if err != nil || mode != ModeLSB {
			t.Errorf("Expected LSB, got %s (err=%v)", mode, err)
		}
	})

	t.Run("VFO Copy And Split", func(t *testing.T) {
		if err := rig.CopyVFOAToB(ctx); err != nil {
			t.Fatalf("Failed to copy VFO: %v", err)
		}
		freqB, _ := rig.GetFrequencyB(ctx)
		modeB, _ := rig.GetModeB(ctx)
		if freqB != 7125000 || modeB != ModeLSB {
			t.Errorf("Expected VFO B 7125000 LSB, got %v %s", freqB, modeB)
		}

		if err := rig.SetSplit(ctx, true); err != nil {
			t.Fatalf("Failed to set split: %v", err)
		}
		if split, _ := rig.GetSplit(ctx); !split {
			t.Error("Expected split on")
		}

		if err := rig.SetVFO(ctx, "b"); err != nil {
			t.Fatalf("Failed to set VFO: %v", err)
		}
		if vfo, _ := rig.GetVFO(ctx); vfo != VFOB {
			t.Errorf("Expected VFO B, got %s", vfo)
		}
		if err := rig.SetVFO(ctx, "C"); !errors.Is(err, ErrRigProtocol) {
			t.Errorf("Expected ErrRigProtocol for bad VFO, got: %v", err)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		rig.SetReachable(false)
		defer rig.SetReachable(true)

		if _, err := rig.GetPTT(ctx); !errors.Is(err, ErrRigUnreachable) {
			t.Errorf("Expected ErrRigUnreachable, got: %v", err)
		}
	})

	t.Run("Injected Failure", func(t *testing.T) {
		rig.FailMethod("rig.set_mode", ErrRigProtocol)
		if err := rig.SetMode(ctx, ModeUSB); !errors.Is(err, ErrRigProtocol) {
			t.Errorf("Expected ErrRigProtocol, got: %v", err)
		}
		rig.FailMethod("rig.set_mode", nil)
		if err := rig.SetMode(ctx, ModeUSB); err != nil {
			t.Errorf("Expected failure cleared, got: %v", err)
		}
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := rig.GetMode(cctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	})

	t.Run("Call Log", func(t *testing.T) {
		if rig.CountCalls("rig.set_mode") < 2 {
			t.Errorf("Expected set_mode calls recorded, got %v", rig.Calls())
		}
		history := rig.ModeHistory()
		if history[len(history)-1] != ModeUSB {
			t.Errorf("Expected last mode USB, got %v", history)
		}
	})
}

func TestMockLine(t *testing.T) {
	line := NewMockLine()

	if !line.IsOpen() {
		t.Fatal("Expected mock line open")
	}
	if err := line.SetPTT(true); err != nil {
		t.Fatalf("Failed to set PTT: %v", err)
	}
	if err := line.SetCW(true); err != nil {
		t.Fatalf("Failed to set CW: %v", err)
	}
	if s := line.State(); !s.PTT || !s.CW {
		t.Errorf("Expected both signals high, got %+v", s)
	}

	var hooked []byte
	line.OnWrite(func(frame []byte) { hooked = frame })
	if err := line.Write([]byte{0xfe, 0xfd}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if len(hooked) != 2 {
		t.Errorf("Expected write hook to see the frame, got %v", hooked)
	}

	if err := line.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if s := line.State(); s.PTT || s.CW {
		t.Errorf("Expected both signals low after close, got %+v", s)
	}
	if err := line.SetPTT(true); !errors.Is(err, ErrLineClosed) {
		t.Errorf("Expected ErrLineClosed, got: %v", err)
	}
}
