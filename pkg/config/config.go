package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Memory describes one rig-resident voice keyer memory slot
type Memory struct {
	ID      string `yaml:"id"`
	Label   string `yaml:"label"`
	Channel int    `yaml:"channel"`
}

// Prompt describes one synthesized speech prompt
type Prompt struct {
	ID          string  `yaml:"id"`
	Label       string  `yaml:"label"`
	Text        string  `yaml:"text"`
	LengthScale float64 `yaml:"length_scale"`
	PitchCents  int     `yaml:"pitch_cents"`
}

// Config represents the rigmacros configuration
type Config struct {
	Station struct {
		Callsign string `yaml:"callsign"`
		Grid     string `yaml:"grid"`
	} `yaml:"station"`

	Rig struct {
		// flrig XML-RPC endpoint
		URL     string `yaml:"url"`
		Timeout int    `yaml:"timeout_ms"`
		Mock    bool   `yaml:"mock"`
	} `yaml:"rig"`

	Serial struct {
		Device   string `yaml:"device"`
		BaudRate int    `yaml:"baud_rate"`
		Mock     bool   `yaml:"mock"`

		// CI-V addressing
		RigAddress        int `yaml:"rig_address"`
		ControllerAddress int `yaml:"controller_address"`
	} `yaml:"serial"`

	Keyer struct {
		PromptWait        int `yaml:"prompt_wait_ms"`
		DataModeSettle    int `yaml:"data_mode_settle_ms"`
		RestoreSettle     int `yaml:"restore_settle_ms"`
		CIVSettle         int `yaml:"civ_settle_ms"`
		MeterInitialDelay int `yaml:"meter_initial_delay_ms"`
		MeterPollInterval int `yaml:"meter_poll_interval_ms"`
		MemoryTimeout     int `yaml:"memory_timeout_s"`
		PlaybackTimeout   int `yaml:"playback_timeout_s"`
		PrepareTimeout    int `yaml:"prepare_timeout_s"`
	} `yaml:"keyer"`

	Memories []Memory `yaml:"memories"`
	Prompts  []Prompt `yaml:"prompts"`

	Tools struct {
		WorkDir    string `yaml:"work_dir"`
		Renderer   string `yaml:"renderer"`
		ModelCheck string `yaml:"model_check"`
		Pitch      string `yaml:"pitch"`
		Player     string `yaml:"player"`
	} `yaml:"tools"`

	Recording struct {
		Capture      string   `yaml:"capture"`
		Sources      []string `yaml:"sources"`
		SaveDir      string   `yaml:"save_dir"`
		MediaPlayer  string   `yaml:"media_player"`
		StopGrace    int      `yaml:"stop_grace_ms"`
		StderrBuffer int      `yaml:"stderr_lines"`
	} `yaml:"recording"`

	Poller struct {
		Interval int  `yaml:"interval_ms"`
		Disabled bool `yaml:"disabled"`
	} `yaml:"poller"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
		Disabled    bool   `yaml:"disabled"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEvents    int    `yaml:"max_events"`
	} `yaml:"storage"`

	Logging struct {
		Level       string `yaml:"level"`
		File        string `yaml:"file"`
		Console     bool   `yaml:"console"`
		Structured  bool   `yaml:"structured"`
		MaxSize     int    `yaml:"max_size"`
		MaxBackups  int    `yaml:"max_backups"`
		MaxAge      int    `yaml:"max_age"`
		Compress    bool   `yaml:"compress"`
		JournalSize int    `yaml:"journal_size"`
	} `yaml:"logging"`
}

// DefaultMemories are the IC-7300 voice keyer slots T1 and T2
func DefaultMemories() []Memory {
	return []Memory{
		{ID: "T1", Label: "T1", Channel: 1},
		{ID: "T2", Label: "T2", Channel: 2},
	}
}

// DefaultPrompts are the stock synthesized prompts
func DefaultPrompts() []Prompt {
	return []Prompt{
		{ID: "n9oh", Label: "N9OH", Text: ",, November Nine Oscar HOTEL", LengthScale: 0.72},
		{ID: "tu59", Label: "TU 59", Text: "Thanks, also FIVE NINE", LengthScale: 0.72},
		{ID: "73", Label: "73", Text: "Seventy-Three", LengthScale: 0.55},
	}
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Rig.URL == "" {
		c.Rig.URL = "http://localhost:12345"
	}
	if c.Rig.Timeout == 0 {
		c.Rig.Timeout = 2000
	}

	if c.Serial.Device == "" {
		c.Serial.Device = "/dev/ttyUSB0"
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 19200
	}
	if c.Serial.RigAddress == 0 {
		c.Serial.RigAddress = 0x94 // IC-7300
	}
	if c.Serial.ControllerAddress == 0 {
		c.Serial.ControllerAddress = 0xE3
	}

	if c.Keyer.PromptWait == 0 {
		c.Keyer.PromptWait = 5000
	}
	if c.Keyer.DataModeSettle == 0 {
		c.Keyer.DataModeSettle = 200
	}
	if c.Keyer.RestoreSettle == 0 {
		c.Keyer.RestoreSettle = 100
	}
	if c.Keyer.CIVSettle == 0 {
		c.Keyer.CIVSettle = 50
	}
	if c.Keyer.MeterInitialDelay == 0 {
		c.Keyer.MeterInitialDelay = 300
	}
	if c.Keyer.MeterPollInterval == 0 {
		c.Keyer.MeterPollInterval = 100
	}
	if c.Keyer.MemoryTimeout == 0 {
		c.Keyer.MemoryTimeout = 60
	}
	if c.Keyer.PlaybackTimeout == 0 {
		c.Keyer.PlaybackTimeout = 120
	}
	if c.Keyer.PrepareTimeout == 0 {
		c.Keyer.PrepareTimeout = 30
	}

	if len(c.Memories) == 0 {
		c.Memories = DefaultMemories()
	}
	if len(c.Prompts) == 0 {
		c.Prompts = DefaultPrompts()
	}
	for i := range c.Prompts {
		if c.Prompts[i].LengthScale == 0 {
			c.Prompts[i].LengthScale = 0.72
		}
		if c.Prompts[i].Label == "" {
			c.Prompts[i].Label = c.Prompts[i].ID
		}
	}
	for i := range c.Memories {
		if c.Memories[i].Label == "" {
			c.Memories[i].Label = c.Memories[i].ID
		}
	}

	if c.Tools.WorkDir == "" {
		c.Tools.WorkDir = "/tmp"
	}
	if c.Tools.Renderer == "" {
		c.Tools.Renderer = "piper --model en_US-hfc_male-medium"
	}
	if c.Tools.Pitch == "" {
		c.Tools.Pitch = "sox"
	}
	if c.Tools.Player == "" {
		c.Tools.Player = "paplay"
	}

	if c.Recording.Capture == "" {
		c.Recording.Capture = "ffmpeg"
	}
	if len(c.Recording.Sources) == 0 {
		c.Recording.Sources = []string{
			"alsa_input.usb-Burr-Brown_from_TI_USB_Audio_CODEC-00.analog-stereo",
			"alsa_input.usb-SHENZHEN_Fullhan_HD_4MP_WEBCAM_20200506-02.mono-fallback",
		}
	}
	if c.Recording.SaveDir == "" {
		c.Recording.SaveDir = "~/Documents/QSO Recordings"
	}
	if c.Recording.MediaPlayer == "" {
		c.Recording.MediaPlayer = "vlc"
	}
	if c.Recording.StopGrace == 0 {
		c.Recording.StopGrace = 2000
	}
	if c.Recording.StderrBuffer == 0 {
		c.Recording.StderrBuffer = 200
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = 2000
	}

	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}

	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/rigmacros.sock"
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Tools.WorkDir, "rigmacros.db")
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
	if c.Logging.JournalSize == 0 {
		c.Logging.JournalSize = 500
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Rig.Mock && c.Rig.URL == "" {
		return fmt.Errorf("rig url is required")
	}
	if !c.Serial.Mock && c.Serial.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	if c.Serial.RigAddress < 0 || c.Serial.RigAddress > 0xFF {
		return fmt.Errorf("serial rig_address out of range: %d", c.Serial.RigAddress)
	}
	if c.Serial.ControllerAddress < 0 || c.Serial.ControllerAddress > 0xFF {
		return fmt.Errorf("serial controller_address out of range: %d", c.Serial.ControllerAddress)
	}

	seen := make(map[string]bool)
	for _, m := range c.Memories {
		if m.ID == "" {
			return fmt.Errorf("memory id is required")
		}
		if m.Channel < 1 || m.Channel > 8 {
			return fmt.Errorf("memory %s: channel must be 1..8, got %d", m.ID, m.Channel)
		}
		key := strings.ToUpper(m.ID)
		if seen[key] {
			return fmt.Errorf("duplicate memory id %s", m.ID)
		}
		seen[key] = true
	}

	seen = make(map[string]bool)
	for _, p := range c.Prompts {
		if p.ID == "" {
			return fmt.Errorf("prompt id is required")
		}
		if strings.ContainsAny(p.ID, "/\\: ") {
			return fmt.Errorf("prompt %q: id must not contain path separators, colons or spaces", p.ID)
		}
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("prompt %s: text is required", p.ID)
		}
		if p.LengthScale <= 0 {
			return fmt.Errorf("prompt %s: length_scale must be positive", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate prompt id %s", p.ID)
		}
		seen[p.ID] = true
	}

	if c.Tools.Renderer == "" || c.Tools.Player == "" {
		return fmt.Errorf("tools renderer and player are required")
	}
	if len(c.Recording.Sources) == 0 {
		return fmt.Errorf("recording requires at least one capture source")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", c.Web.Port)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// FindMemory looks up a voice memory by id (case-insensitive)
func (c *Config) FindMemory(id string) (Memory, bool) {
	for _, m := range c.Memories {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return Memory{}, false
}

// FindPrompt looks up a prompt by id
func (c *Config) FindPrompt(id string) (Prompt, bool) {
	for _, p := range c.Prompts {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}
