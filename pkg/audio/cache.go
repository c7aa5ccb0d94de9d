package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// RenderStatus is the lifecycle state of a rendered prompt
type RenderStatus string

const (
	StatusPending RenderStatus = "pending"
	StatusReady   RenderStatus = "ready"
	StatusFailed  RenderStatus = "failed"
)

var (
	// ErrUnknownPrompt is returned for an id with no configured prompt
	ErrUnknownPrompt = errors.New("unknown prompt")
	// ErrRenderInProgress is returned when a render for the id is already running
	ErrRenderInProgress = errors.New("render already in progress")
	// ErrPromptNotReady is returned when a prompt has no playable file
	ErrPromptNotReady = errors.New("prompt not ready")
)

var renderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rigmacros_prompt_render_total",
	Help: "Prompt renders by result",
}, []string{"result"})

// PromptSpec is the static definition of a synthesized prompt
type PromptSpec struct {
	ID          string
	Label       string
	Text        string
	LengthScale float64
	PitchCents  int
}

// PromptInfo is a snapshot of one prompt and its render state
type PromptInfo struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Text        string        `json:"text"`
	LengthScale float64       `json:"length_scale"`
	PitchCents  int           `json:"pitch_cents"`
	Path        string        `json:"path"`
	Status      RenderStatus  `json:"status"`
	Rendering   bool          `json:"rendering"`
	LastError   string        `json:"last_error,omitempty"`
	Duration    time.Duration `json:"duration"`
	RenderedAt  time.Time     `json:"rendered_at,omitempty"`
	Audio       *WAVInfo      `json:"audio,omitempty"`
}

type cacheEntry struct {
	info     PromptInfo
	inflight bool
	// changed is closed and replaced on every state transition
	changed chan struct{}
}

// RenderCache renders prompts to WAV files once and tracks their readiness
type RenderCache struct {
	workDir  string
	renderer Renderer
	pitcher  PitchShifter
	checker  func(ctx context.Context) error

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CacheConfig configures a RenderCache
type CacheConfig struct {
	WorkDir  string
	Prompts  []PromptSpec
	Renderer Renderer
	Pitcher  PitchShifter
	// ModelCheck runs once before the startup renders; failure is logged only
	ModelCheck func(ctx context.Context) error
}

// NewRenderCache creates a cache with every prompt Pending
func NewRenderCache(cfg CacheConfig) *RenderCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &RenderCache{
		workDir:  cfg.WorkDir,
		renderer: cfg.Renderer,
		pitcher:  cfg.Pitcher,
		checker:  cfg.ModelCheck,
		entries:  make(map[string]*cacheEntry),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, p := range cfg.Prompts {
		c.entries[p.ID] = &cacheEntry{
			info: PromptInfo{
				ID:          p.ID,
				Label:       p.Label,
				Text:        p.Text,
				LengthScale: p.LengthScale,
				PitchCents:  p.PitchCents,
				Path:        c.renderedPath(p.ID),
				Status:      StatusPending,
			},
			changed: make(chan struct{}),
		}
		c.order = append(c.order, p.ID)
	}
	return c
}

func (c *RenderCache) renderedPath(id string) string {
	return filepath.Join(c.workDir, fmt.Sprintf("tts_%s.wav", id))
}

func (c *RenderCache) pitchedPath(id string) string {
	return filepath.Join(c.workDir, fmt.Sprintf("tts_%s_pitched.wav", id))
}

// Start runs the model check and then renders every prompt in order,
// in the background.
func (c *RenderCache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.checker != nil {
			logging.Info("audio", "Checking speech model...")
			if err := c.checker(c.ctx); err != nil {
				logging.Warnf("audio", "Speech model check failed: %v", err)
			} else {
				logging.Info("audio", "Speech model ready")
			}
		}

		logging.Info("audio", "Pre-rendering prompts...")
		for _, id := range c.order {
			if c.ctx.Err() != nil {
				return
			}
			if c.claim(id, false) {
				c.render(id)
			}
		}
		logging.Info("audio", "Prompt pre-rendering complete")
	}()
}

// Close cancels in-flight renders and waits for them
func (c *RenderCache) Close() {
	c.cancel()
	c.wg.Wait()
}

// EnsureRendered starts a background render for a Pending prompt.
// Ready, Failed and in-flight prompts are left alone.
func (c *RenderCache) EnsureRendered(id string) error {
	c.mu.Lock()
	if _, ok := c.entries[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	c.mu.Unlock()

	if c.claim(id, false) {
		c.spawn(id)
	}
	return nil
}

// Rerender discards the current file and renders id again in the background
func (c *RenderCache) Rerender(id string) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	if e.inflight {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRenderInProgress, id)
	}
	c.mu.Unlock()

	if !c.claim(id, true) {
		return fmt.Errorf("%w: %s", ErrRenderInProgress, id)
	}
	c.spawn(id)
	return nil
}

// claim marks id in-flight if a render should start. With force, Ready and
// Failed prompts are reset to Pending first.
func (c *RenderCache) claim(id string, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[id]
	if e.inflight {
		return false
	}
	if e.info.Status != StatusPending && !force {
		return false
	}

	e.inflight = true
	e.info.Status = StatusPending
	e.info.LastError = ""
	e.info.Rendering = true
	c.notifyLocked(e)
	return true
}

func (c *RenderCache) spawn(id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.render(id)
	}()
}

// render produces and validates the file for a claimed id
func (c *RenderCache) render(id string) {
	c.mu.Lock()
	e := c.entries[id]
	text, scale, path := e.info.Text, e.info.LengthScale, e.info.Path
	c.mu.Unlock()

	start := time.Now()
	logging.Infof("audio", "Rendering prompt %s", id)

	// Render beside the final path so a re-render never exposes a partial file
	tmp := path + ".rendering.wav"
	info, err := c.renderTo(text, scale, tmp)
	if err == nil {
		if err = os.Rename(tmp, path); err != nil {
			err = fmt.Errorf("install rendered file: %w", err)
		}
	}
	if err != nil {
		os.Remove(tmp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e.inflight = false
	e.info.Rendering = false
	if err != nil {
		e.info.Status = StatusFailed
		e.info.LastError = err.Error()
		e.info.Audio = nil
		e.info.Duration = 0
		renderTotal.WithLabelValues("failed").Inc()
		logging.Errorf("audio", "TTS generation failed for %s: %v", id, err)
	} else {
		e.info.Status = StatusReady
		e.info.Duration = info.Duration
		e.info.Audio = &info
		e.info.RenderedAt = time.Now()
		renderTotal.WithLabelValues("ready").Inc()
		logging.Infof("audio", "Prompt %s ready (%s, rendered in %s)",
			id, info.Duration.Round(10*time.Millisecond), time.Since(start).Round(time.Millisecond))
		if info.Clipping {
			logging.Warnf("audio", "Prompt %s is clipping (peak %.1f dBFS)", id, info.PeakLevel)
		}
	}
	c.notifyLocked(e)
}

func (c *RenderCache) renderTo(text string, scale float64, out string) (WAVInfo, error) {
	if c.renderer == nil {
		return WAVInfo{}, errors.New("no renderer configured")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return WAVInfo{}, err
	}
	if err := c.renderer.Render(c.ctx, text, scale, out); err != nil {
		return WAVInfo{}, err
	}
	return ReadWAVInfo(out)
}

// notifyLocked wakes WaitReady callers; must be called with the lock held
func (c *RenderCache) notifyLocked(e *cacheEntry) {
	close(e.changed)
	e.changed = make(chan struct{})
}

// IsReady reports whether id has a validated rendered file
func (c *RenderCache) IsReady(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.info.Status == StatusReady
}

// WaitReady blocks until id is Ready (true), Failed (false), timeout or ctx
// expiry (false).
func (c *RenderCache) WaitReady(ctx context.Context, id string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		e, ok := c.entries[id]
		if !ok {
			c.mu.Unlock()
			return false
		}
		switch e.info.Status {
		case StatusReady:
			c.mu.Unlock()
			return true
		case StatusFailed:
			c.mu.Unlock()
			return false
		}
		changed := e.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Status returns the render status of id
func (c *RenderCache) Status(id string) (RenderStatus, error) {
	info, err := c.Info(id)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// Info returns a snapshot of one prompt
func (c *RenderCache) Info(id string) (PromptInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return PromptInfo{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	return e.info, nil
}

// Path returns the rendered file path of a Ready prompt
func (c *RenderCache) Path(id string) (string, error) {
	info, err := c.Info(id)
	if err != nil {
		return "", err
	}
	if info.Status != StatusReady {
		return "", fmt.Errorf("%w: %s is %s", ErrPromptNotReady, id, info.Status)
	}
	return info.Path, nil
}

// Has reports whether id is a configured prompt
func (c *RenderCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Prompts returns snapshots of every prompt in configuration order
func (c *RenderCache) Prompts() []PromptInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PromptInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].info)
	}
	return out
}

// PreparePlayback returns the file to play for id. With a non-zero pitch
// the pitch-shifted copy is produced; if that fails the unshifted file is
// used and the failure logged.
func (c *RenderCache) PreparePlayback(ctx context.Context, id string) (string, error) {
	info, err := c.Info(id)
	if err != nil {
		return "", err
	}
	if info.Status != StatusReady {
		return "", fmt.Errorf("%w: %s is %s", ErrPromptNotReady, id, info.Status)
	}

	if info.PitchCents == 0 || c.pitcher == nil {
		return info.Path, nil
	}

	pitched := c.pitchedPath(id)
	logging.Infof("audio", "Applying pitch shift: %d cents", info.PitchCents)
	if err := c.pitcher.PitchShift(ctx, info.Path, pitched, info.PitchCents); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.Warnf("audio", "Pitch shift failed, using unshifted audio: %v", err)
		return info.Path, nil
	}
	return pitched, nil
}
