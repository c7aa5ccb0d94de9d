package hardware

import (
	"fmt"
	"strings"
)

// CI-V framing bytes
const (
	civPreamble byte = 0xfe
	civEnd      byte = 0xfd

	civCmdVoiceTX    byte = 0x28
	civSubVoiceTXMem byte = 0x00
)

// Default CI-V addresses: IC-7300 and a generic controller
const (
	DefaultRigAddress        byte = 0x94
	DefaultControllerAddress byte = 0xe3
)

// civFrame wraps cmd, subcmd and data as fe fe <rig> <ctl> ... fd
func civFrame(rigAddress, controllerAddress byte, cmd byte, data ...byte) []byte {
	pkt := append([]byte{civPreamble, civPreamble}, []byte{rigAddress, controllerAddress, cmd}...)
	pkt = append(pkt, data...)
	return append(pkt, civEnd)
}

// VoiceMemoryFrame builds the "transmit voice memory" command for
// channel 1..8, e.g. FEFE94E3280001FD for T1 on an IC-7300.
func VoiceMemoryFrame(rigAddress, controllerAddress byte, channel int) ([]byte, error) {
	if channel < 1 || channel > 8 {
		return nil, fmt.Errorf("voice memory channel out of range: %d", channel)
	}
	return civFrame(rigAddress, controllerAddress, civCmdVoiceTX, civSubVoiceTXMem, byte(channel)), nil
}

// FormatFrame renders a CI-V frame as upper-case hex for the log
func FormatFrame(frame []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", frame))
}
