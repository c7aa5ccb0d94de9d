package hardware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// HardwareConfig represents hardware configuration
type HardwareConfig struct {
	SerialDevice      string
	BaudRate          int
	MockSerial        bool
	RigAddress        byte
	ControllerAddress byte

	RigURL     string
	RigTimeout time.Duration
	MockRig    bool
}

// HardwareManager owns the PTT line and the rig-control client
type HardwareManager struct {
	config HardwareConfig
	mutex  sync.RWMutex

	// Hardware interfaces
	line      PTTLine
	rig       RigClient
	pttActive bool

	// State
	initialized bool
}

// NewHardwareManager creates a new hardware manager
func NewHardwareManager(config HardwareConfig) *HardwareManager {
	if config.RigAddress == 0 {
		config.RigAddress = DefaultRigAddress
	}
	if config.ControllerAddress == 0 {
		config.ControllerAddress = DefaultControllerAddress
	}
	return &HardwareManager{
		config: config,
	}
}

// NewHardwareManagerWith creates an initialized manager around existing
// interfaces. line may be nil to model a port that failed to open.
func NewHardwareManagerWith(config HardwareConfig, line PTTLine, rig RigClient) *HardwareManager {
	h := NewHardwareManager(config)
	h.line = line
	h.rig = rig
	h.initialized = true
	return h
}

// Initialize opens the serial line and creates the rig client.
// A serial port that cannot be opened is logged and left closed so the
// rest of the daemon keeps working; keying then reports the port unavailable.
func (h *HardwareManager) Initialize() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initialized {
		return nil
	}

	logging.Info("hardware", "Initializing hardware manager...")

	if h.config.MockRig {
		h.rig = NewMockRig()
		logging.Info("hardware", "Rig control: mock rig")
	} else {
		if h.config.RigURL == "" {
			return fmt.Errorf("rig url is required")
		}
		h.rig = NewFlrigClient(h.config.RigURL, h.config.RigTimeout)
		logging.Infof("hardware", "Rig control: flrig at %s", h.config.RigURL)
	}

	if h.config.MockSerial {
		line := NewMockLine()
		// Let a mock rig "transmit" for a few seconds per memory frame
		if mockRig, ok := h.rig.(*MockRig); ok {
			line.OnWrite(func(frame []byte) {
				mockRig.Transmit(10, 3*time.Second)
			})
		}
		h.line = line
		logging.Info("hardware", "PTT line: mock serial line")
	} else {
		line, err := OpenSerialLine(h.config.SerialDevice, h.config.BaudRate)
		if err != nil {
			logging.Warnf("hardware", "Could not open serial port: %v", err)
		} else {
			h.line = line
		}
	}

	h.initialized = true
	logging.Info("hardware", "Hardware manager initialized")
	return nil
}

// Close lowers every control signal and closes the line
func (h *HardwareManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return nil
	}

	logging.Info("hardware", "Shutting down hardware manager...")

	var errs []error
	if h.line != nil {
		if err := h.releaseLocked(); err != nil {
			errs = append(errs, err)
		}
		if err := h.line.Close(); err != nil {
			logging.Errorf("hardware", "Error closing serial line: %v", err)
			errs = append(errs, err)
		}
		h.line = nil
	}

	h.initialized = false
	logging.Info("hardware", "Hardware manager shut down")
	return errors.Join(errs...)
}

// IsOpen reports whether the PTT line is open
func (h *HardwareManager) IsOpen() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.line != nil && h.line.IsOpen()
}

// Rig returns the rig-control client
func (h *HardwareManager) Rig() RigClient {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.rig
}

// SetPTT controls the PTT (Push-To-Talk) output
func (h *HardwareManager) SetPTT(active bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.setPTTLocked(active)
}

// setPTTLocked sets PTT state (must be called with lock held).
// Releases are always written to the line, even when already low.
func (h *HardwareManager) setPTTLocked(active bool) error {
	if h.line == nil {
		return ErrLineClosed
	}

	if err := h.line.SetPTT(active); err != nil {
		return fmt.Errorf("failed to set PTT: %w", err)
	}
	if h.pttActive != active {
		logging.Infof("hardware", "PTT %s (RTS)", map[bool]string{true: "ON", false: "OFF"}[active])
	}
	h.pttActive = active
	return nil
}

// GetPTT returns the current PTT state
func (h *HardwareManager) GetPTT() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.pttActive
}

// ForceRelease drives PTT and CW low regardless of tracked state
func (h *HardwareManager) ForceRelease() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.line == nil {
		return nil
	}
	return h.releaseLocked()
}

func (h *HardwareManager) releaseLocked() error {
	var errs []error
	if err := h.line.SetPTT(false); err != nil {
		errs = append(errs, fmt.Errorf("failed to release PTT: %w", err))
	} else {
		h.pttActive = false
	}
	if err := h.line.SetCW(false); err != nil {
		errs = append(errs, fmt.Errorf("failed to release CW key: %w", err))
	}
	return errors.Join(errs...)
}

// SendFrame writes a raw CI-V frame to the line
func (h *HardwareManager) SendFrame(frame []byte) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.line == nil {
		return ErrLineClosed
	}
	if err := h.line.Write(frame); err != nil {
		return fmt.Errorf("failed to send CI-V frame %s: %w", FormatFrame(frame), err)
	}
	return nil
}

// VoiceMemoryFrame builds the voice memory command using the configured addresses
func (h *HardwareManager) VoiceMemoryFrame(channel int) ([]byte, error) {
	return VoiceMemoryFrame(h.config.RigAddress, h.config.ControllerAddress, channel)
}

// LineState returns the PTT line signal state
func (h *HardwareManager) LineState() LineState {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.line == nil {
		return LineState{}
	}
	return h.line.State()
}

// IsInitialized returns whether hardware is initialized
func (h *HardwareManager) IsInitialized() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.initialized
}

// GetConfig returns the hardware configuration
func (h *HardwareManager) GetConfig() HardwareConfig {
	return h.config
}
