// Package recorder supervises the QSO capture process and the recording it
// leaves behind.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dougsko/rigmacros/pkg/config"
	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/process"
)

// State is the capture state
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

var (
	ErrAlreadyRecording     = errors.New("already recording")
	ErrRecordingActive      = errors.New("recording in progress")
	ErrNothingToSave        = errors.New("no recording to save")
	ErrNothingToDelete      = errors.New("no recording to delete")
	ErrNothingToPlay        = errors.New("no recording to play")
	ErrConfirmationRequired = errors.New("recording has been saved; deletion requires confirmation")
)

var (
	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigmacros_recordings_total",
		Help: "Recording lifecycle transitions",
	}, []string{"event"})

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigmacros_recording_active",
		Help: "1 while a capture process is running",
	})
)

// Session describes the current recording
type Session struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	Active    bool      `json:"is_active"`
	Saved     bool      `json:"is_saved"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Size      int64     `json:"size"`
}

// StopResult reports what Stop did
type StopResult struct {
	NothingToStop bool    `json:"nothing_to_stop"`
	Session       Session `json:"session"`
	ExitCode      int     `json:"exit_code"`
}

// Config configures a Recorder
type Config struct {
	Capture     string   // capture command, e.g. "ffmpeg"
	Sources     []string // pulse sources, merged into one stereo file
	WorkDir     string
	SaveDir     string
	MediaPlayer string
	StopGrace   time.Duration
	StderrLines int

	// OnExit is called when the capture process dies on its own
	OnExit func(s Session, err error)
}

// ConfigFrom builds a recorder Config from the daemon config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Capture:     cfg.Recording.Capture,
		Sources:     cfg.Recording.Sources,
		WorkDir:     cfg.Tools.WorkDir,
		SaveDir:     config.ExpandHome(cfg.Recording.SaveDir),
		MediaPlayer: cfg.Recording.MediaPlayer,
		StopGrace:   time.Duration(cfg.Recording.StopGrace) * time.Millisecond,
		StderrLines: cfg.Recording.StderrBuffer,
	}
}

// Recorder runs at most one capture process and tracks the last session
type Recorder struct {
	cfg Config

	mu      sync.Mutex
	proc    *process.Process
	session *Session

	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// New creates an idle recorder
func New(cfg Config) *Recorder {
	if cfg.Capture == "" {
		cfg.Capture = "ffmpeg"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = process.DefaultGrace
	}
	return &Recorder{
		cfg:    cfg,
		now:    time.Now,
		rename: os.Rename,
	}
}

// captureArgs merges two or more pulse sources into one stereo file
func captureArgs(sources []string, out string) []string {
	args := []string{"-y"}
	for _, src := range sources {
		args = append(args, "-f", "pulse", "-i", src)
	}
	if len(sources) > 1 {
		inputs := ""
		for i := range sources {
			inputs += fmt.Sprintf("[%d:a]", i)
		}
		args = append(args,
			"-filter_complex", fmt.Sprintf("%samerge=inputs=%d[aout]", inputs, len(sources)),
			"-map", "[aout]")
	}
	return append(args, "-ac", "2", out)
}

// State returns the capture state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		return StateRecording
	}
	return StateIdle
}

// Session returns a snapshot of the current session
func (r *Recorder) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	s := *r.session
	if st, err := os.Stat(s.FilePath); err == nil {
		s.Size = st.Size()
	}
	return s, true
}

// Start launches the capture process into a new timestamped file
func (r *Recorder) Start() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil {
		return Session{}, ErrAlreadyRecording
	}
	if len(r.cfg.Sources) == 0 {
		return Session{}, errors.New("no capture sources configured")
	}
	if err := os.MkdirAll(r.cfg.WorkDir, 0755); err != nil {
		return Session{}, fmt.Errorf("create work dir: %w", err)
	}

	started := r.now()
	out := filepath.Join(r.cfg.WorkDir, fmt.Sprintf("qso-%s.mp3", started.Format("20060102_150405")))

	cmd, err := process.Build(r.cfg.Capture, captureArgs(r.cfg.Sources, out)...)
	if err != nil {
		return Session{}, err
	}
	p, err := process.Start("capture", cmd, process.Options{
		StderrLines: r.cfg.StderrLines,
		OnStderr:    logCaptureLine,
	})
	if err != nil {
		recordingsTotal.WithLabelValues("start_failed").Inc()
		logging.Errorf("recorder", "Recording error: %v", err)
		return Session{}, err
	}

	r.proc = p
	r.session = &Session{
		ID:        uuid.NewString(),
		FilePath:  out,
		Active:    true,
		StartedAt: started,
	}
	recordingActive.Set(1)
	recordingsTotal.WithLabelValues("started").Inc()
	logging.Infof("recorder", "Recording started: %s", out)
	logging.Debugf("recorder", "Capture command: %s", strings.Join(cmd.Args, " "))

	go r.watch(p)
	return *r.session, nil
}

func logCaptureLine(line string) {
	// Progress lines are frequent; keep them out of the journal
	if strings.HasPrefix(line, "size=") {
		logging.Debug("ffmpeg", line)
		return
	}
	logging.Info("ffmpeg", line)
}

// watch clears the session when the capture dies on its own
func (r *Recorder) watch(p *process.Process) {
	err := p.Wait()

	r.mu.Lock()
	if r.proc != p {
		r.mu.Unlock()
		return
	}
	r.proc = nil
	r.session.Active = false
	r.session.StoppedAt = r.now()
	s := *r.session
	onExit := r.cfg.OnExit
	r.mu.Unlock()

	recordingActive.Set(0)
	recordingsTotal.WithLabelValues("died").Inc()
	logging.Errorf("recorder", "Capture exited unexpectedly (status %d): %s",
		p.ExitCode(), strings.Join(p.StderrTail(3), " | "))
	if onExit != nil {
		onExit(s, err)
	}
}

// Stop terminates the capture. Stopping an idle recorder is not an error.
func (r *Recorder) Stop() (StopResult, error) {
	r.mu.Lock()
	p := r.proc
	if p == nil {
		r.mu.Unlock()
		return StopResult{NothingToStop: true, ExitCode: -1}, nil
	}
	r.proc = nil
	r.mu.Unlock()

	logging.Info("recorder", "Stopping recording...")
	if err := p.Terminate(r.cfg.StopGrace); err != nil {
		// ffmpeg exits non-zero on SIGTERM
		logging.Debugf("recorder", "Capture exit: %v", err)
	}
	recordingActive.Set(0)
	recordingsTotal.WithLabelValues("stopped").Inc()

	var s Session
	r.mu.Lock()
	if r.session != nil {
		r.session.Active = false
		r.session.StoppedAt = r.now()
		s = *r.session
	}
	r.mu.Unlock()

	logging.Infof("recorder", "Recording stopped: %s", filepath.Base(s.FilePath))
	return StopResult{Session: s, ExitCode: p.ExitCode()}, nil
}

// Save moves the stopped recording to dest. An empty dest means the save
// directory under the recording's own name; a directory dest keeps the name.
func (r *Recorder) Save(dest string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || !fileExists(r.session.FilePath) {
		return Session{}, ErrNothingToSave
	}
	if r.proc != nil {
		return Session{}, ErrRecordingActive
	}

	src := r.session.FilePath
	dest = r.resolveDest(dest, filepath.Base(src))
	if dest == src {
		r.session.Saved = true
		return *r.session, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Session{}, fmt.Errorf("save recording: %w", err)
	}
	if err := r.move(src, dest); err != nil {
		logging.Errorf("recorder", "Save failed: %v", err)
		return Session{}, fmt.Errorf("save recording: %w", err)
	}

	r.session.FilePath = dest
	r.session.Saved = true
	recordingsTotal.WithLabelValues("saved").Inc()
	logging.Infof("recorder", "Saved recording to: %s", dest)
	return *r.session, nil
}

func (r *Recorder) resolveDest(dest, name string) string {
	if strings.TrimSpace(dest) == "" {
		return filepath.Join(r.cfg.SaveDir, name)
	}
	dest = config.ExpandHome(dest)
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		return filepath.Join(dest, name)
	}
	if filepath.Ext(dest) == "" {
		dest += filepath.Ext(name)
	}
	return dest
}

// move renames src to dest, copying across filesystems
func (r *Recorder) move(src, dest string) error {
	err := r.rename(src, dest)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	logging.Debugf("recorder", "Cross-device save, copying %s", src)
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile writes dest atomically so a failed copy never leaves a partial file
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pf, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0644))
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, in); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

// Delete removes the recording. A saved recording needs confirm; an
// active capture is stopped first.
func (r *Recorder) Delete(confirm bool) (Session, error) {
	r.mu.Lock()
	if r.session == nil || !fileExists(r.session.FilePath) {
		r.mu.Unlock()
		return Session{}, ErrNothingToDelete
	}
	if r.session.Saved && !confirm {
		r.mu.Unlock()
		return Session{}, ErrConfirmationRequired
	}
	active := r.proc != nil
	r.mu.Unlock()

	if active {
		if _, err := r.Stop(); err != nil {
			return Session{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, ErrNothingToDelete
	}
	s := *r.session
	if err := os.Remove(s.FilePath); err != nil {
		return Session{}, fmt.Errorf("delete recording: %w", err)
	}
	r.session = nil
	recordingsTotal.WithLabelValues("deleted").Inc()
	logging.Infof("recorder", "Deleted: %s", s.FilePath)
	return s, nil
}

// Play opens the recording in the media player without waiting for it
func (r *Recorder) Play() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || !fileExists(r.session.FilePath) {
		return Session{}, ErrNothingToPlay
	}
	cmd, err := process.Build(r.cfg.MediaPlayer, r.session.FilePath)
	if err != nil {
		return Session{}, err
	}
	if _, err := process.Start("media_player", cmd, process.Options{StderrLines: 5}); err != nil {
		return Session{}, err
	}
	logging.Infof("recorder", "Playing: %s", r.session.FilePath)
	return *r.session, nil
}

// Close stops any active capture
func (r *Recorder) Close() error {
	_, err := r.Stop()
	return err
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
