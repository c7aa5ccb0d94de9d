package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRigUnreachable means the rig-control daemon could not be reached
	ErrRigUnreachable = errors.New("rig unreachable")
	// ErrRigProtocol means the daemon answered with a fault or an unreadable reply
	ErrRigProtocol = errors.New("rig protocol error")
	// ErrUnknownBand is returned for a band with no preset
	ErrUnknownBand = errors.New("unknown band")
)

// RigClient defines the rig-control operations used by the daemon.
// Frequencies are in Hz and refer to VFO A unless the method says otherwise.
type RigClient interface {
	GetFrequency(ctx context.Context) (float64, error)
	SetFrequency(ctx context.Context, hz float64) error
	GetFrequencyB(ctx context.Context) (float64, error)

	GetMode(ctx context.Context) (string, error)
	SetMode(ctx context.Context, mode string) error
	GetModeB(ctx context.Context) (string, error)

	GetVFO(ctx context.Context) (string, error)
	SetVFO(ctx context.Context, vfo string) error
	CopyVFOAToB(ctx context.Context) error

	GetSplit(ctx context.Context) (bool, error)
	SetSplit(ctx context.Context, on bool) error

	GetPTT(ctx context.Context) (bool, error)
	// GetPowerMeter returns forward power in watts
	GetPowerMeter(ctx context.Context) (float64, error)
}

// VFO names
const (
	VFOA = "A"
	VFOB = "B"
)

// RadioMode constants for the modes the IC-7300 reports through flrig
const (
	ModeUSB   = "USB"
	ModeLSB   = "LSB"
	ModeCW    = "CW"
	ModeCWR   = "CW-R"
	ModeRTTY  = "RTTY"
	ModeRTTYR = "RTTY-R"
	ModeFM    = "FM"
	ModeAM    = "AM"
)

const dataSuffix = "-D"

// IsDataMode reports whether mode is a data sub-mode variant
func IsDataMode(mode string) bool {
	return strings.Contains(mode, dataSuffix)
}

// DataMode returns the data sub-mode variant of mode.
// Modes already carrying the data marker are returned unchanged.
func DataMode(mode string) string {
	if IsDataMode(mode) {
		return mode
	}
	return mode + dataSuffix
}

// BaseMode strips the data marker from mode
func BaseMode(mode string) string {
	return strings.Replace(mode, dataSuffix, "", 1)
}

// OtherVFO returns the VFO that is not vfo
func OtherVFO(vfo string) string {
	if strings.EqualFold(vfo, VFOA) {
		return VFOB
	}
	return VFOA
}

// BandPreset is a one-touch frequency and mode setting
type BandPreset struct {
	Band      string  `json:"band"`
	Frequency float64 `json:"frequency"`
	Mode      string  `json:"mode"`
}

// Preset kinds
const (
	PresetCW  = "cw"
	PresetSSB = "ssb"
)

// CWBands are the CW band-edge presets
var CWBands = []BandPreset{
	{Band: "10m", Frequency: 28000000, Mode: ModeCW},
	{Band: "12m", Frequency: 24900000, Mode: ModeCW},
	{Band: "15m", Frequency: 21000000, Mode: ModeCW},
	{Band: "20m", Frequency: 14000000, Mode: ModeCW},
	{Band: "40m", Frequency: 7000000, Mode: ModeCW},
}

// SSBBands are the phone presets; 40m follows the LSB convention
var SSBBands = []BandPreset{
	{Band: "10m", Frequency: 28300000, Mode: ModeUSB},
	{Band: "12m", Frequency: 24952000, Mode: ModeUSB},
	{Band: "15m", Frequency: 21200000, Mode: ModeUSB},
	{Band: "20m", Frequency: 14150000, Mode: ModeUSB},
	{Band: "40m", Frequency: 7125000, Mode: ModeLSB},
}

// LookupBand finds the preset for kind ("cw" or "ssb") and band ("20m")
func LookupBand(kind, band string) (BandPreset, error) {
	var table []BandPreset
	switch strings.ToLower(kind) {
	case PresetCW:
		table = CWBands
	case PresetSSB:
		table = SSBBands
	default:
		return BandPreset{}, fmt.Errorf("%w: preset kind %q", ErrUnknownBand, kind)
	}

	for _, p := range table {
		if strings.EqualFold(p.Band, band) {
			return p, nil
		}
	}
	return BandPreset{}, fmt.Errorf("%w: no %s preset for %q", ErrUnknownBand, strings.ToUpper(kind), band)
}

// FormatMHz renders a frequency in Hz the way the status line shows it
func FormatMHz(hz float64) string {
	return fmt.Sprintf("%.3f MHz", hz/1e6)
}
