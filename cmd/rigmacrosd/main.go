package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/engine"
	"github.com/dougsko/rigmacros/pkg/logging"
)

var (
	configPath = flag.StringP("config", "c", "config.yaml", "Configuration file path")
	socketPath = flag.String("socket", "", "Unix socket path (overrides api.unix_socket)")
	webPort    = flag.IntP("port", "p", 0, "Web API port (overrides web.port)")
	mock       = flag.Bool("mock", false, "Use the in-memory rig and serial line")
	noWeb      = flag.Bool("no-web", false, "Disable the HTTP API")
	version    = flag.BoolP("version", "v", false, "Show version information")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("rigmacrosd version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging system
	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "rigmacrosd version %s starting...", engine.Version)
	logging.Infof("main", "Station: %s (%s)", cfg.Station.Callsign, cfg.Station.Grid)
	logging.Infof("main", "Rig: %s, PTT line: %s", rigName(cfg), lineName(cfg))
	if !cfg.Web.Disabled {
		logging.Infof("main", "Web API: http://%s:%d/api/v1", cfg.Web.BindAddress, cfg.Web.Port)
	}

	daemon, err := NewRigDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Info("main", "rigmacrosd started successfully")

	// Wait for shutdown signal
	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "rigmacrosd stopped")
}

// applyFlags lets command-line flags override the loaded file
func applyFlags(cfg *config.Config) {
	if *socketPath != "" {
		cfg.API.UnixSocket = *socketPath
	}
	if flag.CommandLine.Changed("port") {
		cfg.Web.Port = *webPort
	}
	if *mock {
		cfg.Rig.Mock = true
		cfg.Serial.Mock = true
	}
	if *noWeb {
		cfg.Web.Disabled = true
	}
}

func rigName(cfg *config.Config) string {
	if cfg.Rig.Mock {
		return "mock"
	}
	return "flrig at " + cfg.Rig.URL
}

func lineName(cfg *config.Config) string {
	if cfg.Serial.Mock {
		return "mock"
	}
	return fmt.Sprintf("%s @ %d baud", cfg.Serial.Device, cfg.Serial.BaudRate)
}
