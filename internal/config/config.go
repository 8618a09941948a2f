package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/overtake.report/internal/units"
)

// DefaultConfigPath is where the CLI looks for a config file when none is given.
const DefaultConfigPath = "config/obsrec.json"

// Handlebar width limits in centimetres.
const (
	MinHandlebarWidthCm     = 30
	MaxHandlebarWidthCm     = 120
	DefaultHandlebarWidthCm = 60
)

// RecorderConfig is the persisted recorder configuration. Every field is
// optional; the Get* methods supply defaults for fields omitted from the file.
type RecorderConfig struct {
	// Live processing
	HandlebarWidthCm  *int `json:"handlebar_width_cm,omitempty" yaml:"handlebar_width_cm,omitempty"`
	MedianWindow      *int `json:"median_window,omitempty" yaml:"median_window,omitempty"`
	MedianHistory     *int `json:"median_history,omitempty" yaml:"median_history,omitempty"`
	MaxFramesPerBurst *int `json:"max_frames_per_burst,omitempty" yaml:"max_frames_per_burst,omitempty"`

	// Storage
	LogDir *string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	// Transport
	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty" yaml:"serial_baud,omitempty"`
	GPSPort    *string `json:"gps_port,omitempty" yaml:"gps_port,omitempty"`
	GPSBaud    *int    `json:"gps_baud,omitempty" yaml:"gps_baud,omitempty"`

	// Output
	StatusInterval *string `json:"status_interval,omitempty" yaml:"status_interval,omitempty"` // duration string like "30s"
	Units          *string `json:"units,omitempty" yaml:"units,omitempty"`
	Timezone       *string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Debug          *bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultRecorderConfig returns a config with every field set to its default.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		HandlebarWidthCm:  ptrInt(DefaultHandlebarWidthCm),
		MedianWindow:      ptrInt(3),
		MedianHistory:     ptrInt(122),
		MaxFramesPerBurst: ptrInt(1000),
		LogDir:            ptrString("recordings"),
		DBPath:            ptrString("trips.db"),
		SerialPort:        ptrString(""),
		SerialBaud:        ptrInt(115200),
		GPSPort:           ptrString(""),
		GPSBaud:           ptrInt(9600),
		StatusInterval:    ptrString("30s"),
		Units:             ptrString(units.CM),
		Timezone:          ptrString(units.DefaultTimezone),
		Debug:             ptrBool(false),
	}
}

// LoadRecorderConfig loads a RecorderConfig from a JSON or YAML file.
// The file must have a .json, .yaml or .yml extension and be under 1MB.
// Fields omitted from the file fall back to defaults.
func LoadRecorderConfig(path string) (*RecorderConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RecorderConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RecorderConfig) Validate() error {
	if c.HandlebarWidthCm != nil {
		if v := *c.HandlebarWidthCm; v < MinHandlebarWidthCm || v > MaxHandlebarWidthCm {
			return fmt.Errorf("handlebar_width_cm must be between %d and %d, got %d",
				MinHandlebarWidthCm, MaxHandlebarWidthCm, v)
		}
	}
	if c.MedianWindow != nil && *c.MedianWindow < 1 {
		return fmt.Errorf("median_window must be positive, got %d", *c.MedianWindow)
	}
	if c.MedianHistory != nil && *c.MedianHistory < c.GetMedianWindow() {
		return fmt.Errorf("median_history (%d) must be at least median_window (%d)",
			*c.MedianHistory, c.GetMedianWindow())
	}
	if c.MaxFramesPerBurst != nil && *c.MaxFramesPerBurst < 1 {
		return fmt.Errorf("max_frames_per_burst must be positive, got %d", *c.MaxFramesPerBurst)
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	if c.GPSBaud != nil && *c.GPSBaud <= 0 {
		return fmt.Errorf("gps_baud must be positive, got %d", *c.GPSBaud)
	}
	if c.StatusInterval != nil && *c.StatusInterval != "" {
		if _, err := time.ParseDuration(*c.StatusInterval); err != nil {
			return fmt.Errorf("invalid status_interval '%s': %w", *c.StatusInterval, err)
		}
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("units must be one of %s, got %q", units.GetValidUnitsString(), *c.Units)
	}
	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("unknown timezone %q", *c.Timezone)
	}
	return nil
}

// ClampHandlebarWidth limits cm to the accepted handlebar range.
func ClampHandlebarWidth(cm int) int {
	return min(max(cm, MinHandlebarWidthCm), MaxHandlebarWidthCm)
}

// GetHandlebarWidthCm returns the handlebar width, clamped to the valid range.
func (c *RecorderConfig) GetHandlebarWidthCm() int {
	if c.HandlebarWidthCm == nil {
		return DefaultHandlebarWidthCm
	}
	return ClampHandlebarWidth(*c.HandlebarWidthCm)
}

// GetMedianWindow returns the median_window value or the default.
func (c *RecorderConfig) GetMedianWindow() int {
	if c.MedianWindow == nil || *c.MedianWindow < 1 {
		return 3
	}
	return *c.MedianWindow
}

// GetMedianHistory returns the median_history value or the default.
func (c *RecorderConfig) GetMedianHistory() int {
	if c.MedianHistory == nil || *c.MedianHistory < 1 {
		return 122
	}
	return *c.MedianHistory
}

// GetMaxFramesPerBurst returns the max_frames_per_burst value or the default.
func (c *RecorderConfig) GetMaxFramesPerBurst() int {
	if c.MaxFramesPerBurst == nil || *c.MaxFramesPerBurst < 1 {
		return 1000
	}
	return *c.MaxFramesPerBurst
}

// GetLogDir returns the log_dir value or the default.
func (c *RecorderConfig) GetLogDir() string {
	if c.LogDir == nil || *c.LogDir == "" {
		return "recordings"
	}
	return *c.LogDir
}

// GetDBPath returns the db_path value or the default.
func (c *RecorderConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "trips.db"
	}
	return *c.DBPath
}

// GetSerialPort returns the serial_port value; empty means no sensor port.
func (c *RecorderConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaud returns the serial_baud value or the default.
func (c *RecorderConfig) GetSerialBaud() int {
	if c.SerialBaud == nil || *c.SerialBaud <= 0 {
		return 115200
	}
	return *c.SerialBaud
}

// GetGPSPort returns the gps_port value; empty means no GPS receiver.
func (c *RecorderConfig) GetGPSPort() string {
	if c.GPSPort == nil {
		return ""
	}
	return *c.GPSPort
}

// GetGPSBaud returns the gps_baud value or the default.
func (c *RecorderConfig) GetGPSBaud() int {
	if c.GPSBaud == nil || *c.GPSBaud <= 0 {
		return 9600
	}
	return *c.GPSBaud
}

// GetStatusInterval parses and returns the StatusInterval as a time.Duration.
func (c *RecorderConfig) GetStatusInterval() time.Duration {
	if c.StatusInterval == nil || *c.StatusInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatusInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetUnits returns the display units or the default.
func (c *RecorderConfig) GetUnits() string {
	if c.Units == nil || !units.IsValid(*c.Units) {
		return units.CM
	}
	return *c.Units
}

// GetTimezone returns the display timezone or the default.
func (c *RecorderConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return units.DefaultTimezone
	}
	return *c.Timezone
}

// GetDebug returns the debug value or the default.
func (c *RecorderConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
