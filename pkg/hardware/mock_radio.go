package hardware

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// MockRig implements RigClient in memory for tests and bench use
type MockRig struct {
	mutex sync.RWMutex

	// Mock state
	reachable  bool
	frequencyA float64
	frequencyB float64
	modeA      string
	modeB      string
	vfo        string
	split      bool
	ptt        bool
	power      float64
	txUntil    time.Time

	failures map[string]error
	calls    []string
	modeLog  []string
}

// NewMockRig creates a reachable mock rig on 20m USB
func NewMockRig() *MockRig {
	return &MockRig{
		reachable:  true,
		frequencyA: 14150000,
		frequencyB: 14150000,
		modeA:      ModeUSB,
		modeB:      ModeUSB,
		vfo:        VFOA,
		failures:   make(map[string]error),
	}
}

// SetReachable simulates the rig-control daemon going away
func (r *MockRig) SetReachable(reachable bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reachable = reachable
}

// FailMethod makes method return err until cleared with a nil err
func (r *MockRig) FailMethod(method string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err == nil {
		delete(r.failures, method)
		return
	}
	r.failures[method] = err
}

// SetPTT sets the PTT state the rig reports
func (r *MockRig) SetPTT(on bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ptt = on
}

// SetPower sets a constant power meter reading
func (r *MockRig) SetPower(watts float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.power = watts
}

// Transmit makes the power meter read watts for d, then zero
func (r *MockRig) Transmit(watts float64, d time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.power = watts
	r.txUntil = time.Now().Add(d)
}

// Calls returns the methods invoked so far, in order
func (r *MockRig) Calls() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// ModeHistory returns every mode set on VFO A, in order
func (r *MockRig) ModeHistory() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]string, len(r.modeLog))
	copy(out, r.modeLog)
	return out
}

// CountCalls returns how often method was invoked
func (r *MockRig) CountCalls(method string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	n := 0
	for _, c := range r.calls {
		if c == method {
			n++
		}
	}
	return n
}

// enter records the call and applies reachability and injected failures.
// Must be called with the lock held.
func (r *MockRig) enter(ctx context.Context, method string) error {
	r.calls = append(r.calls, method)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mock %s: %w: %w", method, ErrRigUnreachable, err)
	}
	if !r.reachable {
		return fmt.Errorf("mock %s: %w: connection refused", method, ErrRigUnreachable)
	}
	if err, ok := r.failures[method]; ok {
		return fmt.Errorf("mock %s: %w", method, err)
	}
	return nil
}

// GetFrequency gets the mock VFO A frequency
func (r *MockRig) GetFrequency(ctx context.Context) (float64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_vfoA"); err != nil {
		return 0, err
	}
	return r.frequencyA, nil
}

// SetFrequency sets the mock VFO A frequency
func (r *MockRig) SetFrequency(ctx context.Context, hz float64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "main.set_frequency"); err != nil {
		return err
	}
	logging.Debugf("mockrig", "Setting frequency to %.0f Hz (%s)", hz, FormatMHz(hz))
	r.frequencyA = hz
	return nil
}

// GetFrequencyB gets the mock VFO B frequency
func (r *MockRig) GetFrequencyB(ctx context.Context) (float64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_vfoB"); err != nil {
		return 0, err
	}
	return r.frequencyB, nil
}

// GetMode gets the mock VFO A mode
func (r *MockRig) GetMode(ctx context.Context) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_mode"); err != nil {
		return "", err
	}
	return r.modeA, nil
}

// SetMode sets the mock VFO A mode
func (r *MockRig) SetMode(ctx context.Context, mode string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.set_mode"); err != nil {
		return err
	}
	logging.Debugf("mockrig", "Setting mode to %s", mode)
	r.modeA = mode
	r.modeLog = append(r.modeLog, mode)
	return nil
}

// GetModeB gets the mock VFO B mode
func (r *MockRig) GetModeB(ctx context.Context) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_modeB"); err != nil {
		return "", err
	}
	return r.modeB, nil
}

// GetVFO gets the active mock VFO
func (r *MockRig) GetVFO(ctx context.Context) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_AB"); err != nil {
		return "", err
	}
	return r.vfo, nil
}

// SetVFO selects the active mock VFO
func (r *MockRig) SetVFO(ctx context.Context, vfo string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.set_AB"); err != nil {
		return err
	}
	vfo = strings.ToUpper(vfo)
	if vfo != VFOA && vfo != VFOB {
		return fmt.Errorf("mock rig.set_AB: %w: bad VFO %q", ErrRigProtocol, vfo)
	}
	r.vfo = vfo
	return nil
}

// CopyVFOAToB copies mock VFO A onto VFO B
func (r *MockRig) CopyVFOAToB(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.vfoA2B"); err != nil {
		return err
	}
	r.frequencyB = r.frequencyA
	r.modeB = r.modeA
	return nil
}

// GetSplit gets the mock split state
func (r *MockRig) GetSplit(ctx context.Context) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_split"); err != nil {
		return false, err
	}
	return r.split, nil
}

// SetSplit sets the mock split state
func (r *MockRig) SetSplit(ctx context.Context, on bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.set_split"); err != nil {
		return err
	}
	r.split = on
	return nil
}

// GetPTT gets the mock rig PTT state
func (r *MockRig) GetPTT(ctx context.Context) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_ptt"); err != nil {
		return false, err
	}
	return r.ptt, nil
}

// GetPowerMeter gets the mock forward power
func (r *MockRig) GetPowerMeter(ctx context.Context) (float64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.enter(ctx, "rig.get_pwrmeter"); err != nil {
		return 0, err
	}
	if !r.txUntil.IsZero() && time.Now().After(r.txUntil) {
		r.power = 0
		r.txUntil = time.Time{}
	}
	return r.power, nil
}
