package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/poller"
	"github.com/dougsko/rigmacros/pkg/protocol"
	"github.com/dougsko/rigmacros/pkg/recorder"
	"github.com/dougsko/rigmacros/pkg/storage"
)

// KeyTimeout bounds KEY and TTS, which wait for the whole transmission
const KeyTimeout = 3 * time.Minute

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the per-command timeout for short commands
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	return c.send(cmd, c.timeout)
}

func (c *SocketClient) send(cmd string, timeout time.Duration) (*protocol.Response, error) {
	// Connect to Unix socket
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	// Responses carry journal and history lists
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// call sends cmd and turns a failed response into an error
func (c *SocketClient) call(cmd, what string, timeout time.Duration) (*protocol.Response, error) {
	resp, err := c.send(cmd, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s error: %s", what, resp.Error)
	}
	return resp, nil
}

// message runs a command whose reply is a single status message
func (c *SocketClient) message(cmd, what string) (string, error) {
	resp, err := c.call(cmd, what, c.timeout)
	if err != nil {
		return "", err
	}
	msg, _ := resp.Data["message"].(string)
	return msg, nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.call(protocol.CmdStatus, "status", c.timeout)
	if err != nil {
		return nil, err
	}

	var status protocol.Status
	if err := resp.Decode("status", &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// GetRig gets the latest rig snapshot
func (c *SocketClient) GetRig() (*poller.RigStatus, error) {
	resp, err := c.call(protocol.CmdRig, "rig", c.timeout)
	if err != nil {
		return nil, err
	}

	var rig poller.RigStatus
	if err := resp.Decode("rig", &rig); err != nil {
		return nil, fmt.Errorf("failed to parse rig status: %w", err)
	}
	return &rig, nil
}

// KeyMemory plays a rig voice memory and waits for the result.
// A failed operation returns its Result together with the error.
func (c *SocketClient) KeyMemory(memoryID string) (*keyer.Result, error) {
	return c.key(fmt.Sprintf("%s:%s", protocol.CmdKey, memoryID))
}

// SpeakPrompt transmits a synthesized prompt and waits for the result
func (c *SocketClient) SpeakPrompt(promptID string) (*keyer.Result, error) {
	return c.key(fmt.Sprintf("%s:%s", protocol.CmdTTS, promptID))
}

func (c *SocketClient) key(cmd string) (*keyer.Result, error) {
	resp, err := c.send(cmd, KeyTimeout)
	if err != nil {
		return nil, err
	}

	var result *keyer.Result
	if _, ok := resp.Data["result"]; ok {
		result = &keyer.Result{}
		if err := resp.Decode("result", result); err != nil {
			return nil, fmt.Errorf("failed to parse result: %w", err)
		}
	}
	if !resp.Success {
		return result, errors.New(resp.Error)
	}
	return result, nil
}

// GetPrompts lists the prompts and their render state
func (c *SocketClient) GetPrompts() ([]audio.PromptInfo, error) {
	resp, err := c.call(protocol.CmdPrompts, "prompts", c.timeout)
	if err != nil {
		return nil, err
	}

	var prompts []audio.PromptInfo
	if err := resp.Decode("prompts", &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	return prompts, nil
}

// Rerender starts a fresh render of a prompt
func (c *SocketClient) Rerender(promptID string) error {
	_, err := c.call(fmt.Sprintf("%s:%s", protocol.CmdRerender, promptID), "rerender", c.timeout)
	return err
}

// SetFrequency sets VFO A frequency and mode
func (c *SocketClient) SetFrequency(hz int64, mode string) (string, error) {
	return c.message(fmt.Sprintf("%s:%d:%s", protocol.CmdFreq, hz, mode), "frequency")
}

// SetBand applies a band preset, kind is "cw" or "ssb"
func (c *SocketClient) SetBand(kind, band string) (string, error) {
	return c.message(fmt.Sprintf("%s:%s:%s", protocol.CmdBand, kind, band), "band")
}

// ToggleSplit flips split operation
func (c *SocketClient) ToggleSplit() (string, error) {
	return c.message(protocol.CmdSplit, "split")
}

// ToggleVFO swaps the active VFO
func (c *SocketClient) ToggleVFO() (string, error) {
	return c.message(protocol.CmdVFO, "vfo")
}

// CopyVFOAToB copies VFO A to VFO B
func (c *SocketClient) CopyVFOAToB() (string, error) {
	return c.message(protocol.CmdCopyAB, "copy")
}

// Record runs a REC sub-command and returns the resulting session, if any
func (c *SocketClient) Record(action string, arg string) (*recorder.Session, string, error) {
	cmd := fmt.Sprintf("%s:%s", protocol.CmdRec, action)
	if arg != "" {
		cmd += ":" + arg
	}

	resp, err := c.call(cmd, "recording", c.timeout)
	if err != nil {
		return nil, "", err
	}

	msg, _ := resp.Data["message"].(string)
	if _, ok := resp.Data["session"]; !ok {
		return nil, msg, nil
	}
	var session recorder.Session
	if err := resp.Decode("session", &session); err != nil {
		return nil, msg, fmt.Errorf("failed to parse session: %w", err)
	}
	return &session, msg, nil
}

// GetLog gets the most recent diagnostic journal entries
func (c *SocketClient) GetLog(limit int) ([]logging.JournalEntry, error) {
	cmd := protocol.CmdLog
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdLog, limit)
	}

	resp, err := c.call(cmd, "log", c.timeout)
	if err != nil {
		return nil, err
	}

	entries := []logging.JournalEntry{}
	if _, ok := resp.Data["entries"]; !ok {
		return entries, nil
	}
	if err := resp.Decode("entries", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse log: %w", err)
	}
	return entries, nil
}

// GetHistory gets recent keying operations from the store
func (c *SocketClient) GetHistory(limit int) ([]storage.KeyingEvent, error) {
	cmd := protocol.CmdHistory
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdHistory, limit)
	}

	resp, err := c.call(cmd, "history", c.timeout)
	if err != nil {
		return nil, err
	}

	events := []storage.KeyingEvent{}
	if _, ok := resp.Data["events"]; !ok {
		return events, nil
	}
	if err := resp.Decode("events", &events); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return events, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call(protocol.CmdPing, "ping", c.timeout)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
