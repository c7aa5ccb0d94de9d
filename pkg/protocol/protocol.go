package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadArguments is returned when a known command has malformed arguments
var ErrBadArguments = errors.New("bad command arguments")

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	Rig       string    `json:"rig"`
	VFOB      string    `json:"vfo_b,omitempty"`
	Message   string    `json:"message"`
	PTT       bool      `json:"ptt"`
	LineOpen  bool      `json:"line_open"`
	Keying    bool      `json:"keying"`
	Recording string    `json:"recording"`
	Uptime    string    `json:"uptime"`
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
}

// Protocol commands
const (
	CmdStatus   = "STATUS"
	CmdRig      = "RIG"
	CmdPing     = "PING"
	CmdQuit     = "QUIT"
	CmdKey      = "KEY"
	CmdTTS      = "TTS"
	CmdPrompts  = "PROMPTS"
	CmdRerender = "RERENDER"
	CmdFreq     = "FREQ"
	CmdBand     = "BAND"
	CmdSplit    = "SPLIT"
	CmdVFO      = "VFO"
	CmdCopyAB   = "COPYAB"
	CmdRec      = "REC"
	CmdLog      = "LOG"
	CmdHistory  = "HISTORY"
)

// REC sub-commands
const (
	RecStart  = "START"
	RecStop   = "STOP"
	RecSave   = "SAVE"
	RecDelete = "DELETE"
	RecPlay   = "PLAY"
	RecStatus = "STATUS"
)

// ParseCommand parses a text command into a Command struct.
// Unknown verbs parse without arguments and are rejected by the engine.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(strings.TrimSpace(parts[0])),
		Args: make(map[string]interface{}),
	}

	var args string
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch cmd.Type {
	case CmdKey:
		// KEY:T1
		if args == "" {
			return nil, fmt.Errorf("%w: KEY needs a memory id", ErrBadArguments)
		}
		cmd.Args["memory"] = args

	case CmdTTS, CmdRerender:
		// TTS:n9oh
		if args == "" {
			return nil, fmt.Errorf("%w: %s needs a prompt id", ErrBadArguments, cmd.Type)
		}
		cmd.Args["prompt"] = args

	case CmdFreq:
		// FREQ:14150000:USB
		freqParts := strings.SplitN(args, ":", 2)
		hz, err := strconv.ParseFloat(freqParts[0], 64)
		if err != nil || hz <= 0 {
			return nil, fmt.Errorf("%w: invalid frequency %q", ErrBadArguments, freqParts[0])
		}
		if len(freqParts) < 2 || strings.TrimSpace(freqParts[1]) == "" {
			return nil, fmt.Errorf("%w: FREQ needs a mode", ErrBadArguments)
		}
		cmd.Args["frequency"] = hz
		cmd.Args["mode"] = strings.ToUpper(strings.TrimSpace(freqParts[1]))

	case CmdBand:
		// BAND:ssb:20m
		bandParts := strings.SplitN(args, ":", 2)
		kind := strings.ToLower(bandParts[0])
		if kind != "cw" && kind != "ssb" {
			return nil, fmt.Errorf("%w: band kind must be cw or ssb, got %q", ErrBadArguments, bandParts[0])
		}
		if len(bandParts) < 2 || bandParts[1] == "" {
			return nil, fmt.Errorf("%w: BAND needs a band", ErrBadArguments)
		}
		cmd.Args["kind"] = kind
		cmd.Args["band"] = strings.ToLower(bandParts[1])

	case CmdRec:
		// REC:SAVE:/path/with:colons.mp3 or REC:DELETE:CONFIRM
		recParts := strings.SplitN(args, ":", 2)
		action := strings.ToUpper(recParts[0])
		switch action {
		case RecStart, RecStop, RecPlay, RecStatus:
		case RecSave:
			if len(recParts) > 1 {
				cmd.Args["path"] = recParts[1]
			}
		case RecDelete:
			if len(recParts) > 1 {
				if !strings.EqualFold(recParts[1], "CONFIRM") {
					return nil, fmt.Errorf("%w: REC:DELETE takes only CONFIRM", ErrBadArguments)
				}
				cmd.Args["confirm"] = true
			}
		default:
			return nil, fmt.Errorf("%w: unknown REC action %q", ErrBadArguments, recParts[0])
		}
		cmd.Args["action"] = action

	case CmdLog, CmdHistory:
		// LOG:50
		if args != "" {
			n, err := strconv.Atoi(args)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid count %q", ErrBadArguments, args)
			}
			cmd.Args["limit"] = n
		}
	}

	return cmd, nil
}

// StringArg returns a string argument or ""
func (c *Command) StringArg(key string) string {
	s, _ := c.Args[key].(string)
	return s
}

// IntArg returns an integer argument or def
func (c *Command) IntArg(key string, def int) int {
	if n, ok := c.Args[key].(int); ok {
		return n
	}
	return def
}

// FloatArg returns a numeric argument or 0
func (c *Command) FloatArg(key string) float64 {
	f, _ := c.Args[key].(float64)
	return f
}

// BoolArg returns a boolean argument or false
func (c *Command) BoolArg(key string) bool {
	b, _ := c.Args[key].(bool)
	return b
}

// FormatResponse converts a Response to JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Decode re-marshals Data[key] into out
func (r *Response) Decode(key string, out interface{}) error {
	value, ok := r.Data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}
