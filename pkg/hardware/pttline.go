package hardware

import (
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/dougsko/rigmacros/pkg/logging"
)

var (
	// ErrLineIO wraps failures toggling or writing the serial line
	ErrLineIO = errors.New("serial line I/O error")
	// ErrLineClosed is returned when the serial line is not open
	ErrLineClosed = errors.New("serial line not open")
)

// LineState is the control-signal state of the PTT line
type LineState struct {
	PTT bool `json:"ptt"` // RTS
	CW  bool `json:"cw"`  // DTR
}

// PTTLine is a serial control line carrying PTT on RTS and CW key on DTR.
// The same port carries raw CI-V command frames.
type PTTLine interface {
	IsOpen() bool
	SetPTT(active bool) error
	SetCW(active bool) error
	Write(frame []byte) error
	State() LineState
	Close() error
}

// SerialLine implements PTTLine on a real serial port
type SerialLine struct {
	device string
	mu     sync.Mutex
	port   serial.Port
	state  LineState
}

// OpenSerialLine opens device with both control signals low
func OpenSerialLine(device string, baudRate int) (*SerialLine, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: false,
			DTR: false,
		},
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	// Some drivers ignore the initial bits; force both low explicitly
	if err := port.SetRTS(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: RTS low: %v", ErrLineIO, device, err)
	}
	if err := port.SetDTR(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: DTR low: %v", ErrLineIO, device, err)
	}

	logging.Infof("serial", "Serial port %s opened with RTS=LOW, DTR=LOW", device)
	return &SerialLine{device: device, port: port}, nil
}

// IsOpen reports whether the port is open
func (l *SerialLine) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// SetPTT drives RTS
func (l *SerialLine) SetPTT(active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrLineClosed
	}
	if err := l.port.SetRTS(active); err != nil {
		return fmt.Errorf("%w: %s: set RTS %t: %v", ErrLineIO, l.device, active, err)
	}
	l.state.PTT = active
	return nil
}

// SetCW drives DTR
func (l *SerialLine) SetCW(active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrLineClosed
	}
	if err := l.port.SetDTR(active); err != nil {
		return fmt.Errorf("%w: %s: set DTR %t: %v", ErrLineIO, l.device, active, err)
	}
	l.state.CW = active
	return nil
}

// Write sends a raw frame down the port
func (l *SerialLine) Write(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrLineClosed
	}
	n, err := l.port.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: %s: write: %v", ErrLineIO, l.device, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: %s: short write %d/%d", ErrLineIO, l.device, n, len(frame))
	}
	return nil
}

// State returns the last commanded signal state
func (l *SerialLine) State() LineState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close lowers both signals and closes the port
func (l *SerialLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}

	var errs []error
	if err := l.port.SetRTS(false); err != nil {
		errs = append(errs, fmt.Errorf("RTS low: %w", err))
	}
	if err := l.port.SetDTR(false); err != nil {
		errs = append(errs, fmt.Errorf("DTR low: %w", err))
	}
	if err := l.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	l.port = nil
	l.state = LineState{}

	logging.Infof("serial", "Serial port %s closed", l.device)
	return errors.Join(errs...)
}
