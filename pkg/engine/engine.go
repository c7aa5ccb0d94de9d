package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dougsko/rigmacros/pkg/audio"
	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/keyer"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/poller"
	"github.com/dougsko/rigmacros/pkg/protocol"
	"github.com/dougsko/rigmacros/pkg/recorder"
	"github.com/dougsko/rigmacros/pkg/storage"
)

// Version is reported in the daemon status
const Version = "0.1.0"

// ToneRendererName selects the built-in tone renderer instead of a synthesizer
const ToneRendererName = "tone"

var (
	// ErrNotRunning is returned for work submitted after Stop
	ErrNotRunning = errors.New("engine not running")
	// ErrRigBusy is returned while a rig macro is changing the rig
	ErrRigBusy = errors.New("rig macro in progress")
)

// Options overrides the parts the engine would otherwise build from config
type Options struct {
	SocketPath string

	// Hardware defaults to a manager built from the serial and rig sections
	Hardware *hardware.HardwareManager

	// Tool overrides; each defaults to the configured command line
	Renderer audio.Renderer
	Pitcher  audio.PitchShifter
	Player   audio.Player

	// DisableStore runs without the sqlite history
	DisableStore bool
}

// KeyOutcome is what a keying task reports when it finishes
type KeyOutcome struct {
	Result keyer.Result
	Err    error
}

type keyTask struct {
	action keyer.PlayAction
	done   chan KeyOutcome
}

// CoreEngine owns the hardware and every supervisor, runs the keying worker
// and serves the unix socket
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	startTime  time.Time

	hardwareManager *hardware.HardwareManager
	cache           *audio.RenderCache
	player          audio.Player
	coordinator     *keyer.Coordinator
	recorder        *recorder.Recorder
	poller          *poller.Poller
	store           *storage.EventStore
	journal         *logging.Journal
	bus             *EventBus

	// Depth one; pending is set from submission until the worker finishes
	tasks   chan keyTask
	pending atomic.Bool

	// Set while a rig macro runs. Submit and rigMacro each set their own
	// flag before reading the other's, so the two never overlap.
	macro atomic.Bool

	statusMu    sync.RWMutex
	lastMessage string

	running  atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	ctx      context.Context
	stopOnce sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	connWG sync.WaitGroup
}

// hardwareConfigFrom maps the serial and rig sections onto the hardware layer
func hardwareConfigFrom(cfg *config.Config) hardware.HardwareConfig {
	return hardware.HardwareConfig{
		SerialDevice:      cfg.Serial.Device,
		BaudRate:          cfg.Serial.BaudRate,
		MockSerial:        cfg.Serial.Mock,
		RigAddress:        byte(cfg.Serial.RigAddress),
		ControllerAddress: byte(cfg.Serial.ControllerAddress),
		RigURL:            cfg.Rig.URL,
		RigTimeout:        time.Duration(cfg.Rig.Timeout) * time.Millisecond,
		MockRig:           cfg.Rig.Mock,
	}
}

func promptSpecs(prompts []config.Prompt) []audio.PromptSpec {
	specs := make([]audio.PromptSpec, 0, len(prompts))
	for _, p := range prompts {
		specs = append(specs, audio.PromptSpec{
			ID:          p.ID,
			Label:       p.Label,
			Text:        p.Text,
			LengthScale: p.LengthScale,
			PitchCents:  p.PitchCents,
		})
	}
	return specs
}

// NewCoreEngine creates a new core engine
func NewCoreEngine(cfg *config.Config, opts Options) *CoreEngine {
	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.API.UnixSocket
	}

	e := &CoreEngine{
		config:     cfg,
		socketPath: socketPath,
		startTime:  time.Now(),
		journal:    logging.GetGlobalLogger().Journal(),
		bus:        NewEventBus(),
		tasks:      make(chan keyTask, 1),
		conns:      make(map[net.Conn]struct{}),
	}

	e.hardwareManager = opts.Hardware
	if e.hardwareManager == nil {
		e.hardwareManager = hardware.NewHardwareManager(hardwareConfigFrom(cfg))
	}

	tools := audio.Tools{
		Renderer:   cfg.Tools.Renderer,
		ModelCheck: cfg.Tools.ModelCheck,
		Pitch:      cfg.Tools.Pitch,
		Player:     cfg.Tools.Player,
		Grace:      time.Duration(cfg.Recording.StopGrace) * time.Millisecond,
	}
	var renderer audio.Renderer = tools
	if cfg.Tools.Renderer == ToneRendererName {
		renderer = audio.ToneRenderer{}
	}
	if opts.Renderer != nil {
		renderer = opts.Renderer
	}
	var pitcher audio.PitchShifter = tools
	if opts.Pitcher != nil {
		pitcher = opts.Pitcher
	}
	var player audio.Player = tools
	if opts.Player != nil {
		player = opts.Player
	}
	e.player = player

	cacheCfg := audio.CacheConfig{
		WorkDir:  cfg.Tools.WorkDir,
		Prompts:  promptSpecs(cfg.Prompts),
		Renderer: renderer,
		Pitcher:  pitcher,
	}
	if opts.Renderer == nil && cfg.Tools.Renderer != ToneRendererName && cfg.Tools.ModelCheck != "" {
		cacheCfg.ModelCheck = tools.CheckModel
	}
	e.cache = audio.NewRenderCache(cacheCfg)

	recCfg := recorder.ConfigFrom(cfg)
	recCfg.OnExit = e.onCaptureExit
	e.recorder = recorder.New(recCfg)

	e.poller = poller.New(e.hardwareManager.Rig(), time.Duration(cfg.Poller.Interval)*time.Millisecond)

	if !opts.DisableStore {
		store, err := storage.NewEventStore(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
		if err != nil {
			logging.Warnf("engine", "History store unavailable: %v", err)
		} else {
			e.store = store
		}
	}

	return e
}

// Start opens the hardware, starts the supervisors and the socket server
func (e *CoreEngine) Start() error {
	if e.running.Load() {
		return nil
	}

	if err := e.hardwareManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware manager: %w", err)
	}

	// The rig client exists only after Initialize
	e.poller = poller.New(e.hardwareManager.Rig(), time.Duration(e.config.Poller.Interval)*time.Millisecond)
	e.coordinator = keyer.NewCoordinator(keyer.Config{
		Line:     e.hardwareManager,
		Rig:      e.hardwareManager.Rig(),
		Prompts:  e.cache,
		Player:   e.player,
		Memories: e.config.Memories,
		Timing:   keyer.TimingFromConfig(e.config),
	})

	if err := os.MkdirAll(e.config.Tools.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	// Remove existing socket file
	os.Remove(e.socketPath)
	if err := os.MkdirAll(filepath.Dir(e.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket dir: %w", err)
	}

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		e.hardwareManager.Close()
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	e.listener = listener

	// Set socket permissions (readable/writable by owner and group)
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "Failed to set socket permissions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.ctx = ctx
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)
	e.running.Store(true)

	e.cache.Start()

	e.group.Go(func() error { return e.keyWorker(ctx) })
	e.group.Go(func() error { return e.acceptConnections(ctx) })
	e.group.Go(func() error { return e.forwardJournal(ctx) })
	if !e.config.Poller.Disabled {
		e.group.Go(func() error { return e.forwardRig(ctx) })
		e.group.Go(func() error { return e.poller.Run(ctx) })
	}

	logging.Infof("engine", "Core engine listening on %s", e.socketPath)
	e.setMessage("Ready")
	return nil
}

// Stop stops the recorder and the poller, forces PTT low and closes the line
func (e *CoreEngine) Stop() error {
	var errs []error
	e.stopOnce.Do(func() {
		logging.Info("engine", "Stopping core engine...")
		e.running.Store(false)

		if _, err := e.recorder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop recorder: %w", err))
		}

		if e.cancel != nil {
			e.cancel()
		}
		if e.listener != nil {
			e.listener.Close()
		}
		e.closeConnections()

		if e.group != nil {
			if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		e.connWG.Wait()

		if err := e.hardwareManager.ForceRelease(); err != nil {
			errs = append(errs, fmt.Errorf("release PTT: %w", err))
		}
		if err := e.hardwareManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close hardware: %w", err))
		}

		e.cache.Close()
		e.recorder.Close()
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		e.bus.Close()

		os.Remove(e.socketPath)
		logging.Info("engine", "Core engine stopped")
	})
	return errors.Join(errs...)
}

// IsRunning reports whether Start succeeded and Stop has not been called
func (e *CoreEngine) IsRunning() bool {
	return e.running.Load()
}

// Events returns the engine event bus
func (e *CoreEngine) Events() *EventBus {
	return e.bus
}

// Journal returns the diagnostic journal
func (e *CoreEngine) Journal() *logging.Journal {
	return e.journal
}

// Store returns the history store, nil when disabled
func (e *CoreEngine) Store() *storage.EventStore {
	return e.store
}

// Config returns the daemon configuration
func (e *CoreEngine) Config() *config.Config {
	return e.config
}

// setMessage records and publishes the operator status line
func (e *CoreEngine) setMessage(msg string) {
	e.statusMu.Lock()
	e.lastMessage = msg
	e.statusMu.Unlock()
	e.bus.Publish(Event{Type: EventStatus, Message: msg})
}

// Message returns the last operator status line
func (e *CoreEngine) Message() string {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.lastMessage
}

// Status returns the daemon status
func (e *CoreEngine) Status() protocol.Status {
	rig := e.poller.Latest()
	return protocol.Status{
		Rig:       rig.String(),
		VFOB:      rig.VFOBLine(),
		Message:   e.Message(),
		PTT:       e.hardwareManager.GetPTT(),
		LineOpen:  e.hardwareManager.IsOpen(),
		Keying:    e.pending.Load(),
		Recording: string(e.recorder.State()),
		Uptime:    time.Since(e.startTime).Truncate(time.Second).String(),
		StartTime: e.startTime,
		Version:   Version,
	}
}

// Rig returns the latest poller snapshot
func (e *CoreEngine) Rig() poller.RigStatus {
	return e.poller.Latest()
}

// Memories returns the configured voice memories
func (e *CoreEngine) Memories() []config.Memory {
	return append([]config.Memory(nil), e.config.Memories...)
}

// Prompts returns the prompts and their render state
func (e *CoreEngine) Prompts() []audio.PromptInfo {
	return e.cache.Prompts()
}

// Rerender starts a fresh render of prompt id
func (e *CoreEngine) Rerender(id string) error {
	if err := e.cache.Rerender(id); err != nil {
		return err
	}
	e.setMessage(fmt.Sprintf("Rendering TTS %s...", id))
	return nil
}

// Log returns the most recent journal entries
func (e *CoreEngine) Log(n int) []logging.JournalEntry {
	return e.journal.Recent(n)
}

// History returns recent keying operations from the store
func (e *CoreEngine) History(n int) ([]storage.KeyingEvent, error) {
	if e.store == nil {
		return nil, errors.New("history store not available")
	}
	return e.store.GetRecentKeying(n)
}

func (e *CoreEngine) forwardJournal(ctx context.Context) error {
	entries, cancel := e.journal.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			e.bus.Publish(Event{Type: EventLog, Time: entry.Time, Message: entry.String(), Data: entry})
		}
	}
}

func (e *CoreEngine) forwardRig(ctx context.Context) error {
	updates, cancel := e.poller.Subscribe(4)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			e.bus.Publish(Event{Type: EventRig, Message: s.String(), Data: s})
		}
	}
}
