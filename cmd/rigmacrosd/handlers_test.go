package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/engine"
	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/recorder"
)

func newTestDaemon(t *testing.T) (*RigDaemon, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Rig.Mock = true
	cfg.Serial.Mock = true
	cfg.Web.Disabled = true
	cfg.Poller.Disabled = true
	cfg.Tools.WorkDir = dir
	cfg.API.UnixSocket = filepath.Join(dir, "rig.sock")
	cfg.Storage.DatabasePath = filepath.Join(dir, "history.db")
	cfg.Keyer.CIVSettle = 1
	cfg.Keyer.MeterInitialDelay = 5
	cfg.Keyer.MeterPollInterval = 5

	hw := hardware.NewHardwareManagerWith(hardware.HardwareConfig{MockRig: true, MockSerial: true},
		hardware.NewMockLine(), hardware.NewMockRig())
	core := engine.NewCoreEngine(cfg, engine.Options{Hardware: hw, Renderer: audio.ToneRenderer{}})

	d, err := newRigDaemon(cfg, core)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Stop() })

	return d, d.webServer.Handler
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestStatusEndpoints(t *testing.T) {
	_, h := newTestDaemon(t)

	t.Run("Status", func(t *testing.T) {
		code, out := do(t, h, http.MethodGet, "/api/v1/status", nil)
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		daemon := out["daemon"].(map[string]interface{})
		assert.Equal(t, engine.Version, daemon["version"])
		assert.Equal(t, true, daemon["line_open"])
	})

	t.Run("Memories", func(t *testing.T) {
		code, out := do(t, h, http.MethodGet, "/api/v1/memories", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Len(t, out["memories"], 2)
	})

	t.Run("Bands", func(t *testing.T) {
		code, out := do(t, h, http.MethodGet, "/api/v1/bands", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, out, "cw")
		assert.Contains(t, out, "ssb")
	})

	t.Run("Prompts", func(t *testing.T) {
		code, out := do(t, h, http.MethodGet, "/api/v1/prompts", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.EqualValues(t, 3, out["count"])
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestRigMacroEndpoints(t *testing.T) {
	_, h := newTestDaemon(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		code    int
		message string
	}{
		{"Frequency", http.MethodPut, "/api/v1/rig/frequency", map[string]interface{}{"frequency": 14074000, "mode": "usb-d"}, http.StatusOK, "USB-D @ 14.074 MHz"},
		{"Frequency Missing Mode", http.MethodPut, "/api/v1/rig/frequency", map[string]interface{}{"frequency": 14074000}, http.StatusBadRequest, ""},
		{"Band", http.MethodPost, "/api/v1/rig/band/ssb/40m", nil, http.StatusOK, "LSB @ 7.125 MHz"},
		{"Unknown Band", http.MethodPost, "/api/v1/rig/band/ssb/160m", nil, http.StatusBadRequest, ""},
		{"Split", http.MethodPost, "/api/v1/rig/split", nil, http.StatusOK, "Split mode: ON"},
		{"VFO", http.MethodPost, "/api/v1/rig/vfo", nil, http.StatusOK, "Switched to VFO B"},
		{"Copy", http.MethodPost, "/api/v1/rig/copy-ab", nil, http.StatusOK, "VFO A → B copied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, h, tt.method, tt.path, tt.body)
			if code != tt.code {
				t.Fatalf("Expected %d, got %d (%v)", tt.code, code, out)
			}
			if tt.message != "" && out["message"] != tt.message {
				t.Errorf("Expected message %q, got %v", tt.message, out["message"])
			}
		})
	}
}

func TestKeyEndpoint(t *testing.T) {
	_, h := newTestDaemon(t)

	code, out := do(t, h, http.MethodPost, "/api/v1/key/t1", nil)
	require.Equal(t, http.StatusOK, code, out)
	result := out["result"].(map[string]interface{})
	assert.EqualValues(t, 1, result["channel"])
	assert.Equal(t, true, result["unkeyed"])

	code, _ = do(t, h, http.MethodPost, "/api/v1/key/T9", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(t, h, http.MethodGet, "/api/v1/history?kind=memory", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, out["count"])

	code, out = do(t, h, http.MethodGet, "/api/v1/history?failed=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"])

	code, _ = do(t, h, http.MethodGet, "/api/v1/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(t, h, http.MethodGet, "/api/v1/history/summary", nil)
	require.Equal(t, http.StatusOK, code)
	stats := out["stats"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["total_operations"])
}

func TestRecordingEndpoints(t *testing.T) {
	_, h := newTestDaemon(t)

	code, out := do(t, h, http.MethodGet, "/api/v1/recording", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(recorder.StateIdle), out["state"])

	code, out = do(t, h, http.MethodPost, "/api/v1/recording/stop", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Not recording", out["message"])

	code, _ = do(t, h, http.MethodPost, "/api/v1/recording/save", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodDelete, "/api/v1/recording", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/recording/play", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEventsWebSocket(t *testing.T) {
	_, h := newTestDaemon(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?types=status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greeting engine.Event
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, engine.EventStatus, greeting.Type)

	code, _ := do(t, h, http.MethodPost, "/api/v1/rig/split", nil)
	require.Equal(t, http.StatusOK, code)

	for {
		var ev engine.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, engine.EventStatus, ev.Type, "filter passes status events only")
		if ev.Message == "Split mode: ON" {
			break
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("memory: %w", keyer.ErrUnknownAction), http.StatusBadRequest},
		{hardware.ErrUnknownBand, http.StatusBadRequest},
		{recorder.ErrNothingToPlay, http.StatusNotFound},
		{fmt.Errorf("%w: T1 rejected", keyer.ErrAlreadyTransmitting), http.StatusConflict},
		{fmt.Errorf("%w: Split toggle refused", engine.ErrRigBusy), http.StatusConflict},
		{recorder.ErrConfirmationRequired, http.StatusPreconditionRequired},
		{keyer.ErrPortUnavailable, http.StatusServiceUnavailable},
		{keyer.ErrPromptNotReady, http.StatusServiceUnavailable},
		{fmt.Errorf("get split: %w", hardware.ErrRigUnreachable), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := httpStatus(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestEventFilter(t *testing.T) {
	f := eventFilter([]string{"status, keying", "rig"})
	assert.True(t, f.allows(engine.EventStatus))
	assert.True(t, f.allows(engine.EventKeying))
	assert.True(t, f.allows(engine.EventRig))
	assert.False(t, f.allows(engine.EventLog))

	assert.True(t, eventFilter(nil).allows(engine.EventLog))
}
