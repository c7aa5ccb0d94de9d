package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("STATUS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != "STATUS" {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for STATUS, got %d", len(cmd.Args))
		}
	})

	t.Run("KEY Command", func(t *testing.T) {
		cmd, err := ParseCommand("KEY:T1")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != CmdKey {
			t.Errorf("Expected type KEY, got %s", cmd.Type)
		}
		if cmd.StringArg("memory") != "T1" {
			t.Errorf("Expected memory T1, got %v", cmd.Args["memory"])
		}
	})

	t.Run("TTS Command", func(t *testing.T) {
		cmd, err := ParseCommand("tts:n9oh")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != CmdTTS {
			t.Errorf("Expected type TTS, got %s", cmd.Type)
		}
		// Prompt ids keep their case
		if cmd.StringArg("prompt") != "n9oh" {
			t.Errorf("Expected prompt n9oh, got %v", cmd.Args["prompt"])
		}
	})

	t.Run("FREQ Command", func(t *testing.T) {
		cmd, err := ParseCommand("FREQ:14150000:usb")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.FloatArg("frequency") != 14150000 {
			t.Errorf("Expected frequency 14150000, got %v", cmd.Args["frequency"])
		}
		if cmd.StringArg("mode") != "USB" {
			t.Errorf("Expected mode USB, got %v", cmd.Args["mode"])
		}
	})

	t.Run("BAND Command", func(t *testing.T) {
		cmd, err := ParseCommand("BAND:SSB:20M")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.StringArg("kind") != "ssb" {
			t.Errorf("Expected kind ssb, got %v", cmd.Args["kind"])
		}
		if cmd.StringArg("band") != "20m" {
			t.Errorf("Expected band 20m, got %v", cmd.Args["band"])
		}
	})

	t.Run("REC Commands", func(t *testing.T) {
		tests := []struct {
			text    string
			action  string
			path    string
			confirm bool
		}{
			{"REC:START", RecStart, "", false},
			{"rec:stop", RecStop, "", false},
			{"REC:SAVE", RecSave, "", false},
			{"REC:SAVE:/home/op/QSO Recordings/k1abc.mp3", RecSave, "/home/op/QSO Recordings/k1abc.mp3", false},
			{"REC:SAVE:/tmp/a:b.mp3", RecSave, "/tmp/a:b.mp3", false},
			{"REC:DELETE", RecDelete, "", false},
			{"REC:DELETE:CONFIRM", RecDelete, "", true},
			{"REC:PLAY", RecPlay, "", false},
			{"REC:STATUS", RecStatus, "", false},
		}

		for _, tt := range tests {
			t.Run(tt.text, func(t *testing.T) {
				cmd, err := ParseCommand(tt.text)
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				if cmd.Type != CmdRec {
					t.Errorf("Expected type REC, got %s", cmd.Type)
				}
				if cmd.StringArg("action") != tt.action {
					t.Errorf("Expected action %s, got %v", tt.action, cmd.Args["action"])
				}
				if cmd.StringArg("path") != tt.path {
					t.Errorf("Expected path %q, got %q", tt.path, cmd.StringArg("path"))
				}
				if cmd.BoolArg("confirm") != tt.confirm {
					t.Errorf("Expected confirm %t, got %t", tt.confirm, cmd.BoolArg("confirm"))
				}
			})
		}
	})

	t.Run("LOG and HISTORY Limits", func(t *testing.T) {
		cmd, err := ParseCommand("LOG:50")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.IntArg("limit", 0) != 50 {
			t.Errorf("Expected limit 50, got %v", cmd.Args["limit"])
		}

		cmd, err = ParseCommand("HISTORY")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.IntArg("limit", 20) != 20 {
			t.Errorf("Expected default limit 20, got %d", cmd.IntArg("limit", 20))
		}
	})

	t.Run("Bad Arguments", func(t *testing.T) {
		commands := []string{
			"KEY",
			"KEY:",
			"TTS",
			"RERENDER:",
			"FREQ",
			"FREQ:abc:USB",
			"FREQ:-5:USB",
			"FREQ:14150000",
			"BAND:fm:20m",
			"BAND:cw",
			"REC",
			"REC:PAUSE",
			"REC:DELETE:yes",
			"LOG:ten",
			"HISTORY:-1",
		}
		for _, cmdText := range commands {
			t.Run(cmdText, func(t *testing.T) {
				cmd, err := ParseCommand(cmdText)
				if !errors.Is(err, ErrBadArguments) {
					t.Errorf("Expected ErrBadArguments for %s, got: %v", cmdText, err)
				}
				if cmd != nil {
					t.Errorf("Expected nil command for %s, got %+v", cmdText, cmd)
				}
			})
		}
	})

	t.Run("Simple Commands", func(t *testing.T) {
		commands := []string{"QUIT", "PING", "RIG", "PROMPTS", "SPLIT", "VFO", "COPYAB"}
		for _, cmdText := range commands {
			t.Run(cmdText, func(t *testing.T) {
				cmd, err := ParseCommand(cmdText)
				if err != nil {
					t.Fatalf("Expected no error for %s, got: %v", cmdText, err)
				}
				if cmd.Type != cmdText {
					t.Errorf("Expected type %s, got %s", cmdText, cmd.Type)
				}
				if len(cmd.Args) != 0 {
					t.Errorf("Expected no args for %s, got %d", cmdText, len(cmd.Args))
				}
			})
		}
	})

	t.Run("Case Insensitive", func(t *testing.T) {
		cmd, err := ParseCommand("status")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != "STATUS" {
			t.Errorf("Expected uppercase STATUS, got %s", cmd.Type)
		}
	})

	t.Run("Whitespace Handling", func(t *testing.T) {
		cmd, err := ParseCommand("  KEY: T2  ")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.StringArg("memory") != "T2" {
			t.Errorf("Expected memory T2, got %v", cmd.Args["memory"])
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		cmd, err := ParseCommand("UNKNOWN:test")
		if err != nil {
			t.Fatalf("Expected no error for unknown command, got: %v", err)
		}
		if cmd.Type != "UNKNOWN" {
			t.Errorf("Expected type UNKNOWN, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for unknown command, got %d", len(cmd.Args))
		}
	})

	t.Run("Empty Command", func(t *testing.T) {
		cmd, err := ParseCommand("")
		if err != nil {
			t.Fatalf("Expected no error for empty command, got: %v", err)
		}
		if cmd.Type != "" {
			t.Errorf("Expected empty type, got %s", cmd.Type)
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("Success Response JSON", func(t *testing.T) {
		data := map[string]interface{}{
			"status": "USB @ 14.150 MHz | VFO A | Split OFF",
			"keying": false,
			"ptt":    false,
		}
		resp := NewSuccessResponse(data)

		if !resp.Success {
			t.Error("Expected success to be true")
		}
		if resp.Error != "" {
			t.Errorf("Expected no error, got %s", resp.Error)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != true {
			t.Error("Expected success true in JSON")
		}
		if parsed["data"] == nil {
			t.Error("Expected data in JSON")
		}
	})

	t.Run("Error Response JSON", func(t *testing.T) {
		resp := NewErrorResponse("already transmitting")

		if resp.Success {
			t.Error("Expected success to be false")
		}
		if resp.Data != nil {
			t.Errorf("Expected no data for error response, got %v", resp.Data)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["error"] != "already transmitting" {
			t.Errorf("Expected error in JSON, got %v", parsed["error"])
		}
	})
}

func TestResponseDecode(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	resp := NewSuccessResponse(map[string]interface{}{
		"status": Status{
			Rig:       "LSB @ 7.125 MHz | VFO A | Split ON",
			VFOB:      "LSB @ 7.130 MHz | VFO B",
			LineOpen:  true,
			Recording: "idle",
			StartTime: start,
			Version:   "0.1.0",
		},
	})

	// Round-trip through the wire as the client sees it
	var wire Response
	if err := json.Unmarshal([]byte(resp.String()), &wire); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	var status Status
	if err := wire.Decode("status", &status); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status.VFOB != "LSB @ 7.130 MHz | VFO B" {
		t.Errorf("Expected VFO B line, got %q", status.VFOB)
	}
	if !status.StartTime.Equal(start) {
		t.Errorf("Expected start time %v, got %v", start, status.StartTime)
	}

	if err := wire.Decode("missing", &status); err == nil {
		t.Error("Expected error for missing key")
	}
}
