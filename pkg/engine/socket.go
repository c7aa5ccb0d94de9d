package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/protocol"
	"github.com/dougsko/rigmacros/pkg/recorder"
)

// macroTimeout bounds the rig calls of one socket command
const macroTimeout = 10 * time.Second

// acceptConnections accepts and handles socket connections
func (e *CoreEngine) acceptConnections(ctx context.Context) error {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || !e.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warnf("engine", "Socket accept error: %v", err)
			continue
		}

		e.connMu.Lock()
		e.conns[conn] = struct{}{}
		e.connMu.Unlock()
		if !e.running.Load() {
			conn.Close()
		}

		e.connWG.Add(1)
		go func() {
			defer e.connWG.Done()
			defer func() {
				e.connMu.Lock()
				delete(e.conns, conn)
				e.connMu.Unlock()
			}()
			e.handleConnection(ctx, conn)
		}()
	}
}

func (e *CoreEngine) closeConnections() {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	for conn := range e.conns {
		conn.Close()
	}
}

// handleConnection handles a single socket connection
func (e *CoreEngine) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.HandleCommand(ctx, cmd)
		conn.Write([]byte(response.String() + "\n"))

		// Close connection after QUIT command
		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// HandleCommand processes a single command
func (e *CoreEngine) HandleCommand(ctx context.Context, cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.Status(),
		})

	case protocol.CmdRig:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"rig": e.Rig(),
		})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "73",
		})

	case protocol.CmdKey:
		return keyResponse(e.KeyMemory(ctx, cmd.StringArg("memory")))

	case protocol.CmdTTS:
		return keyResponse(e.SpeakPrompt(ctx, cmd.StringArg("prompt")))

	case protocol.CmdPrompts:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"prompts": e.Prompts(),
		})

	case protocol.CmdRerender:
		id := cmd.StringArg("prompt")
		if err := e.Rerender(id); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": e.Message(),
		})

	case protocol.CmdFreq:
		return e.macroResponse(ctx, func(ctx context.Context) (string, error) {
			return e.SetFrequencyAndMode(ctx, cmd.FloatArg("frequency"), cmd.StringArg("mode"))
		})

	case protocol.CmdBand:
		return e.macroResponse(ctx, func(ctx context.Context) (string, error) {
			return e.ApplyBand(ctx, cmd.StringArg("kind"), cmd.StringArg("band"))
		})

	case protocol.CmdSplit:
		return e.macroResponse(ctx, e.ToggleSplit)

	case protocol.CmdVFO:
		return e.macroResponse(ctx, e.ToggleVFO)

	case protocol.CmdCopyAB:
		return e.macroResponse(ctx, e.CopyVFOAToB)

	case protocol.CmdRec:
		return e.handleRecording(cmd)

	case protocol.CmdLog:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"entries": e.Log(cmd.IntArg("limit", 50)),
		})

	case protocol.CmdHistory:
		events, err := e.History(cmd.IntArg("limit", 20))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"events": events,
			"count":  len(events),
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

// keyResponse carries the Result on success and on failure
func keyResponse(res keyer.Result, err error) *protocol.Response {
	data := map[string]interface{}{
		"result": res,
	}
	if err != nil {
		resp := protocol.NewErrorResponse(err.Error())
		resp.Data = data
		return resp
	}
	return protocol.NewSuccessResponse(data)
}

func (e *CoreEngine) macroResponse(ctx context.Context, fn func(ctx context.Context) (string, error)) *protocol.Response {
	ctx, cancel := context.WithTimeout(ctx, macroTimeout)
	defer cancel()

	msg, err := fn(ctx)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"message": msg,
	})
}

func (e *CoreEngine) handleRecording(cmd *protocol.Command) *protocol.Response {
	var (
		data = map[string]interface{}{}
		msg  string
		err  error
	)

	switch cmd.StringArg("action") {
	case protocol.RecStart:
		data["session"], msg, err = e.StartRecording()
	case protocol.RecStop:
		var res recorder.StopResult
		res, msg, err = e.StopRecording()
		data["stop"] = res
		if !res.NothingToStop {
			data["session"] = res.Session
		}
	case protocol.RecSave:
		data["session"], msg, err = e.SaveRecording(cmd.StringArg("path"))
	case protocol.RecDelete:
		data["session"], msg, err = e.DeleteRecording(cmd.BoolArg("confirm"))
	case protocol.RecPlay:
		data["session"], msg, err = e.PlayRecording()
	case protocol.RecStatus:
		st := e.Recording()
		data["state"] = st.State
		if st.Session != nil {
			data["session"] = *st.Session
		}
		return protocol.NewSuccessResponse(data)
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown REC action: %s", cmd.StringArg("action")))
	}

	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	data["message"] = msg
	return protocol.NewSuccessResponse(data)
}
