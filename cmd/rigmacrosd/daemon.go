package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dougsko/rigmacros/pkg/client"
	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/engine"
	"github.com/dougsko/rigmacros/pkg/logging"
)

// RigDaemon runs the core engine and the HTTP API in front of it
type RigDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Core components
	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	webServer    *http.Server
}

// NewRigDaemon creates a new daemon instance
func NewRigDaemon(cfg *config.Config) (*RigDaemon, error) {
	return newRigDaemon(cfg, engine.NewCoreEngine(cfg, engine.Options{}))
}

func newRigDaemon(cfg *config.Config, core *engine.CoreEngine) (*RigDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &RigDaemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		coreEngine:   core,
		socketClient: client.NewSocketClient(cfg.API.UnixSocket),
	}

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the core engine, then the web server
func (d *RigDaemon) Start() error {
	logging.Info("daemon", "Starting rigmacrosd daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		d.coreEngine.Stop()
		return fmt.Errorf("failed to connect to core engine socket")
	}

	if d.config.Web.Disabled {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the web server, then the engine
func (d *RigDaemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	// Ends websocket streams
	d.cancel()

	if d.webServer != nil && !d.config.Web.Disabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "Web server shutdown error: %v", err)
		}
	}

	var err error
	if d.coreEngine != nil {
		if err = d.coreEngine.Stop(); err != nil {
			logging.Errorf("daemon", "Core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()

	logging.Info("daemon", "Daemon stopped")
	return err
}

// setupWebServer initializes the web server and routes
func (d *RigDaemon) setupWebServer() error {
	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:              addr,
		Handler:           d.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (d *RigDaemon) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/ws", d.handleEventsWebSocket)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/rig", d.handleGetRig)
		api.GET("/memories", d.handleGetMemories)
		api.GET("/bands", d.handleGetBands)

		api.POST("/key/:memory", d.handleKeyMemory)
		api.POST("/tts/:prompt", d.handleSpeakPrompt)
		api.GET("/prompts", d.handleGetPrompts)
		api.POST("/prompts/:id/render", d.handleRenderPrompt)

		api.PUT("/rig/frequency", d.handleSetFrequency)
		api.POST("/rig/band/:kind/:band", d.handleSetBand)
		api.POST("/rig/split", d.handleToggleSplit)
		api.POST("/rig/vfo", d.handleToggleVFO)
		api.POST("/rig/copy-ab", d.handleCopyVFOAToB)

		api.GET("/recording", d.handleGetRecording)
		api.POST("/recording/start", d.handleStartRecording)
		api.POST("/recording/stop", d.handleStopRecording)
		api.POST("/recording/save", d.handleSaveRecording)
		api.POST("/recording/play", d.handlePlayRecording)
		api.DELETE("/recording", d.handleDeleteRecording)

		api.GET("/log", d.handleGetLog)
		api.GET("/history", d.handleGetHistory)
		api.GET("/history/summary", d.handleGetHistorySummary)
	}

	return router
}

// requestLogger sends gin access lines through the component logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Keep polling endpoints out of the operator journal
		if c.Request.URL.Path == "/metrics" || c.Request.Method == http.MethodGet {
			logging.Debugf("http", "%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
			return
		}
		logging.Infof("http", "%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
