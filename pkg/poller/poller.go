// Package poller periodically reads the rig's state for the status line.
// It never writes to the rig.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dougsko/rigmacros/pkg/hardware"
	"github.com/dougsko/rigmacros/pkg/logging"
)

// DefaultInterval matches the status refresh of the original panel
const DefaultInterval = 2 * time.Second

var (
	pollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigmacros_rig_poll_total",
		Help: "Rig status polls by result",
	}, []string{"result"})

	frequencyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigmacros_rig_frequency_hz",
		Help: "Last polled VFO A frequency",
	})

	splitGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigmacros_rig_split",
		Help: "1 when split is on",
	})
)

// RigStatus is one snapshot of the rig
type RigStatus struct {
	FrequencyA float64 `json:"frequency_a"`
	Mode       string  `json:"mode"`
	VFO        string  `json:"vfo"`
	Split      bool    `json:"split"`

	// Only read while split is on
	FrequencyB float64 `json:"frequency_b,omitempty"`
	ModeB      string  `json:"mode_b,omitempty"`

	// UpdatedAt is the last successful poll, PolledAt the last attempt
	UpdatedAt time.Time `json:"updated_at"`
	PolledAt  time.Time `json:"polled_at"`
	Error     string    `json:"error,omitempty"`
}

// Valid reports whether at least one poll succeeded
func (s RigStatus) Valid() bool {
	return !s.UpdatedAt.IsZero()
}

// String renders "USB @ 14.150 MHz | VFO A | Split OFF"
func (s RigStatus) String() string {
	if !s.Valid() {
		if s.Error != "" {
			return "Rig status unavailable: " + s.Error
		}
		return "Rig status unavailable"
	}
	split := "Split OFF"
	if s.Split {
		split = "Split ON"
	}
	return fmt.Sprintf("%s @ %s | VFO %s | %s", s.Mode, hardware.FormatMHz(s.FrequencyA), s.VFO, split)
}

// VFOBLine renders the VFO B line shown while split is on
func (s RigStatus) VFOBLine() string {
	if !s.Valid() || !s.Split {
		return ""
	}
	return fmt.Sprintf("%s @ %s | VFO B", s.ModeB, hardware.FormatMHz(s.FrequencyB))
}

// Poller reads the rig every interval and fans snapshots out to subscribers
type Poller struct {
	rig      hardware.RigClient
	interval time.Duration

	mu     sync.RWMutex
	latest RigStatus
	subs   map[int]chan RigStatus
	nextID int
}

// New creates a poller
func New(rig hardware.RigClient, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		rig:      rig,
		interval: interval,
		subs:     make(map[int]chan RigStatus),
	}
}

// Run polls immediately and then every interval until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	logging.Infof("poller", "Polling rig every %s", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			logging.Info("poller", "Rig poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads the rig once, publishes and returns the snapshot. On error the
// previous values are kept and Error is set.
func (p *Poller) Poll(ctx context.Context) RigStatus {
	status, err := p.read(ctx)

	p.mu.Lock()
	now := time.Now()
	if err != nil {
		if ctx.Err() != nil {
			p.mu.Unlock()
			return p.Latest()
		}
		prev := p.latest.Error
		p.latest.Error = err.Error()
		p.latest.PolledAt = now
		status = p.latest
		p.mu.Unlock()

		pollTotal.WithLabelValues("error").Inc()
		// Log once per distinct failure, not every two seconds
		if prev != status.Error {
			logging.Warnf("poller", "Rig status poll error: %v", err)
		}
		p.publish(status)
		return status
	}

	status.UpdatedAt = now
	status.PolledAt = now
	if p.latest.Error != "" {
		logging.Info("poller", "Rig status poll recovered")
	}
	p.latest = status
	p.mu.Unlock()

	pollTotal.WithLabelValues("ok").Inc()
	frequencyGauge.Set(status.FrequencyA)
	if status.Split {
		splitGauge.Set(1)
	} else {
		splitGauge.Set(0)
	}
	p.publish(status)
	return status
}

func (p *Poller) read(ctx context.Context) (RigStatus, error) {
	var s RigStatus
	var err error

	if s.FrequencyA, err = p.rig.GetFrequency(ctx); err != nil {
		return s, err
	}
	if s.Mode, err = p.rig.GetMode(ctx); err != nil {
		return s, err
	}
	if s.VFO, err = p.rig.GetVFO(ctx); err != nil {
		return s, err
	}
	if s.Split, err = p.rig.GetSplit(ctx); err != nil {
		return s, err
	}
	if s.Split {
		if s.FrequencyB, err = p.rig.GetFrequencyB(ctx); err != nil {
			return s, err
		}
		if s.ModeB, err = p.rig.GetModeB(ctx); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Latest returns the most recent snapshot
func (p *Poller) Latest() RigStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Status returns the human status line of the latest snapshot
func (p *Poller) Status() string {
	return p.Latest().String()
}

// Subscribe returns a channel of snapshots. Slow subscribers miss updates.
func (p *Poller) Subscribe(buffer int) (<-chan RigStatus, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan RigStatus, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Poller) publish(s RigStatus) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
