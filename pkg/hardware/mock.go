package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// MockLine implements PTTLine for testing
type MockLine struct {
	mu     sync.Mutex
	open   bool
	state  LineState
	writes [][]byte

	// transitions records every SetPTT value in order
	transitions []bool

	failPTTOn  error
	failPTTOff error
	failWrite  error

	onWrite func(frame []byte)
}

// NewMockLine creates an open mock line with both signals low
func NewMockLine() *MockLine {
	return &MockLine{open: true}
}

// FailPTT makes asserting (on=true) or releasing (on=false) PTT fail
func (m *MockLine) FailPTT(on bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.failPTTOn = err
	} else {
		m.failPTTOff = err
	}
}

// FailWrite makes frame writes fail with err
func (m *MockLine) FailWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = err
}

// OnWrite registers a hook called with each written frame
func (m *MockLine) OnWrite(fn func(frame []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// Writes returns copies of every frame written
func (m *MockLine) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	for i, w := range m.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Transitions returns every PTT value set, in order
func (m *MockLine) Transitions() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.transitions...)
}

// IsOpen reports whether the mock line is open
func (m *MockLine) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// SetPTT sets the mock RTS state
func (m *MockLine) SetPTT(active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrLineClosed
	}
	if active && m.failPTTOn != nil {
		return fmt.Errorf("%w: %v", ErrLineIO, m.failPTTOn)
	}
	if !active && m.failPTTOff != nil {
		return fmt.Errorf("%w: %v", ErrLineIO, m.failPTTOff)
	}
	m.transitions = append(m.transitions, active)
	m.state.PTT = active
	logging.Debugf("mockline", "RTS set to %t", active)
	return nil
}

// SetCW sets the mock DTR state
func (m *MockLine) SetCW(active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrLineClosed
	}
	m.state.CW = active
	return nil
}

// Write records a frame
func (m *MockLine) Write(frame []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrLineClosed
	}
	if m.failWrite != nil {
		err := m.failWrite
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrLineIO, err)
	}
	m.writes = append(m.writes, append([]byte(nil), frame...))
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

// State returns the mock signal state
func (m *MockLine) State() LineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close lowers both signals and marks the line closed
func (m *MockLine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = LineState{}
	m.open = false
	return nil
}
