package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/engine"
	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/recorder"
	"github.com/dougsko/rigmacros/pkg/storage"
)

// macroTimeout bounds the rig calls of one HTTP request
const macroTimeout = 10 * time.Second

// httpStatus maps an engine error to a response code
func httpStatus(err error) int {
	switch {
	case errors.Is(err, keyer.ErrUnknownAction),
		errors.Is(err, audio.ErrUnknownPrompt),
		errors.Is(err, hardware.ErrUnknownBand):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrNothingToSave),
		errors.Is(err, recorder.ErrNothingToDelete),
		errors.Is(err, recorder.ErrNothingToPlay):
		return http.StatusNotFound
	case errors.Is(err, keyer.ErrAlreadyTransmitting),
		errors.Is(err, engine.ErrRigBusy),
		errors.Is(err, audio.ErrRenderInProgress),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrRecordingActive):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, keyer.ErrPortUnavailable),
		errors.Is(err, keyer.ErrPromptNotReady),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, hardware.ErrRigUnreachable),
		errors.Is(err, hardware.ErrRigProtocol):
		return http.StatusBadGateway
	case errors.Is(err, keyer.ErrPlaybackTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"error": err.Error(),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handleGetStatus returns daemon status via socket
func (d *RigDaemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "running",
		"callsign": d.config.Station.Callsign,
		"daemon":   status,
	})
}

// handleGetRig returns the latest rig snapshot via socket
func (d *RigDaemon) handleGetRig(c *gin.Context) {
	rig, err := d.socketClient.GetRig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rig":     rig,
		"display": rig.String(),
		"vfo_b":   rig.VFOBLine(),
	})
}

func (d *RigDaemon) handleGetMemories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"memories": d.coreEngine.Memories(),
	})
}

func (d *RigDaemon) handleGetBands(c *gin.Context) {
	c.JSON(http.StatusOK, engine.BandPresets())
}

// handleKeyMemory plays a rig voice memory. With wait=false the operation
// is queued and its outcome arrives on /ws.
func (d *RigDaemon) handleKeyMemory(c *gin.Context) {
	d.key(c, keyer.PlayHardwareMemory(strings.ToUpper(c.Param("memory"))))
}

// handleSpeakPrompt transmits a synthesized prompt
func (d *RigDaemon) handleSpeakPrompt(c *gin.Context) {
	d.key(c, keyer.PlaySynthesizedPrompt(c.Param("prompt")))
}

func (d *RigDaemon) key(c *gin.Context, action keyer.PlayAction) {
	if c.Query("wait") == "false" {
		if _, err := d.coreEngine.Submit(action); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status": "queued",
			"action": action,
		})
		return
	}

	res, err := d.coreEngine.Key(c.Request.Context(), action)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{
			"error":  err.Error(),
			"result": res,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "finished",
		"result": res,
	})
}

// handleGetPrompts lists prompts and their render state via socket
func (d *RigDaemon) handleGetPrompts(c *gin.Context) {
	prompts, err := d.socketClient.GetPrompts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"prompts": prompts,
		"count":   len(prompts),
	})
}

// handleRenderPrompt starts a fresh render of one prompt
func (d *RigDaemon) handleRenderPrompt(c *gin.Context) {
	if err := d.coreEngine.Rerender(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "rendering",
		"message": d.coreEngine.Message(),
	})
}

// macro runs a rig macro bounded by macroTimeout
func (d *RigDaemon) macro(c *gin.Context, fn func(ctx context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), macroTimeout)
	defer cancel()

	msg, err := fn(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": msg,
	})
}

// handleSetFrequency tunes VFO A and sets its mode
func (d *RigDaemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency float64 `json:"frequency" binding:"required,gt=0"`
		Mode      string  `json:"mode" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d.macro(c, func(ctx context.Context) (string, error) {
		return d.coreEngine.SetFrequencyAndMode(ctx, req.Frequency, req.Mode)
	})
}

// handleSetBand applies a CW or SSB band preset
func (d *RigDaemon) handleSetBand(c *gin.Context) {
	d.macro(c, func(ctx context.Context) (string, error) {
		return d.coreEngine.ApplyBand(ctx, c.Param("kind"), c.Param("band"))
	})
}

func (d *RigDaemon) handleToggleSplit(c *gin.Context) {
	d.macro(c, d.coreEngine.ToggleSplit)
}

func (d *RigDaemon) handleToggleVFO(c *gin.Context) {
	d.macro(c, d.coreEngine.ToggleVFO)
}

func (d *RigDaemon) handleCopyVFOAToB(c *gin.Context) {
	d.macro(c, d.coreEngine.CopyVFOAToB)
}

// handleGetRecording returns the recorder state
func (d *RigDaemon) handleGetRecording(c *gin.Context) {
	c.JSON(http.StatusOK, d.coreEngine.Recording())
}

func (d *RigDaemon) handleStartRecording(c *gin.Context) {
	session, msg, err := d.coreEngine.StartRecording()
	recordingResponse(c, session, msg, err)
}

func (d *RigDaemon) handleStopRecording(c *gin.Context) {
	res, msg, err := d.coreEngine.StopRecording()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"stop":    res,
	})
}

// handleSaveRecording saves to the optional JSON "path", or the save dir
func (d *RigDaemon) handleSaveRecording(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	session, msg, err := d.coreEngine.SaveRecording(req.Path)
	recordingResponse(c, session, msg, err)
}

func (d *RigDaemon) handlePlayRecording(c *gin.Context) {
	session, msg, err := d.coreEngine.PlayRecording()
	recordingResponse(c, session, msg, err)
}

// handleDeleteRecording deletes the recording; a saved one needs confirm=true
func (d *RigDaemon) handleDeleteRecording(c *gin.Context) {
	confirm := c.Query("confirm") == "true"
	session, msg, err := d.coreEngine.DeleteRecording(confirm)
	recordingResponse(c, session, msg, err)
}

func recordingResponse(c *gin.Context, session recorder.Session, msg string, err error) {
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"session": session,
	})
}

// handleGetLog returns recent diagnostic journal entries via socket
func (d *RigDaemon) handleGetLog(c *gin.Context) {
	entries, err := d.socketClient.GetLog(queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetHistory returns stored keying history
func (d *RigDaemon) handleGetHistory(c *gin.Context) {
	store := d.coreEngine.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "history store not available",
		})
		return
	}

	query := storage.KeyingQuery{
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
		Kind:       c.Query("kind"),
		ActionID:   c.Query("action"),
		FailedOnly: c.Query("failed") == "true",
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		query.Since = &t
	}

	events, err := store.GetKeyingEvents(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// handleGetHistorySummary returns per-action counts and lifetime totals
func (d *RigDaemon) handleGetHistorySummary(c *gin.Context) {
	store := d.coreEngine.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "history store not available",
		})
		return
	}

	summaries, err := store.GetActionSummaries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := store.GetKeyingStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actions": summaries,
		"stats":   stats,
	})
}
