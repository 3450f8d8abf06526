// Package config loads gasketvision settings through viper. Settings are
// re-read on every Snapshot so threshold changes made while the service is
// running take effect on the next inspection attempt.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// GASKETVISION_VISION_MAX_ATTEMPTS=5.
const EnvPrefix = "GASKETVISION"

// Settings is the complete, resolved configuration.
type Settings struct {
	Debug  bool         `mapstructure:"debug"`
	Log    LogSettings  `mapstructure:"log"`
	Camera CameraConfig `mapstructure:"camera"`
	Aruco  ArucoConfig  `mapstructure:"aruco"`
	Models ModelsConfig `mapstructure:"models"`
	Vision VisionConfig `mapstructure:"vision"`
	Render RenderConfig `mapstructure:"render"`
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Hooks  HooksConfig  `mapstructure:"hooks"`
	Sentry SentryConfig `mapstructure:"sentry"`
}

// LogSettings controls the service log file.
type LogSettings struct {
	Path       string `mapstructure:"path"` // empty logs to stderr
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// CameraConfig selects the capture device and the stillness gate applied
// before an inspection frame is taken.
type CameraConfig struct {
	Device             int     `mapstructure:"device"`
	Width              int     `mapstructure:"width"`
	Height             int     `mapstructure:"height"`
	FPS                int     `mapstructure:"fps"`
	SettleThresholdPct float64 `mapstructure:"settle_threshold_pct"`
	SettleMaxFrames    int     `mapstructure:"settle_max_frames"`
}

// ArucoConfig describes the frame fiducial marker.
type ArucoConfig struct {
	FrameMarkerID     int     `mapstructure:"frame_marker_id"`
	DictionaryID      int     `mapstructure:"dictionary_id"` // number of markers: 50, 100, 250, 1000
	MarkerBits        int     `mapstructure:"marker_bits"`   // 4 to 7
	MarkerSizeMM      float64 `mapstructure:"marker_size_mm"`
	UseSavedReference bool    `mapstructure:"use_saved_reference"`
	// Die centre relative to the marker centre, in millimetres.
	CenterXMM float64 `mapstructure:"center_x_mm"`
	CenterYMM float64 `mapstructure:"center_y_mm"`
}

// ModelConfig configures one detection model.
type ModelConfig struct {
	Backend    string  `mapstructure:"backend"` // onnx, service or none
	Path       string  `mapstructure:"path"`
	Oriented   bool    `mapstructure:"oriented"`
	Confidence float64 `mapstructure:"confidence"`
	InputSize  int     `mapstructure:"input_size"`
	NMS        float64 `mapstructure:"nms"`
	ClassID    int     `mapstructure:"class_id"` // -1 accepts any class
}

// ServiceConfig starts the external detection runtime used by the
// "service" backend.
type ServiceConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ModelsConfig groups the gasket and hole models.
type ModelsConfig struct {
	Gasket  ModelConfig   `mapstructure:"gasket"`
	Holes   ModelConfig   `mapstructure:"holes"`
	Service ServiceConfig `mapstructure:"service"`
}

// Notch orientation sources.
const (
	NotchOrientationFiducial = "fiducial"
	NotchOrientationSegment  = "segment"
)

// VisionConfig holds the inspection thresholds.
type VisionConfig struct {
	MaxAttempts             int     `mapstructure:"max_attempts"`
	DistanceTolerancePct    float64 `mapstructure:"distance_tolerance_pct"`
	CenterToleranceMM       float64 `mapstructure:"center_tolerance_mm"`
	CollinearityToleranceMM float64 `mapstructure:"collinearity_tolerance_mm"`
	SpacingCVMax            float64 `mapstructure:"spacing_cv_max"`
	DominanceFactor         float64 `mapstructure:"dominance_factor"`
	MinContourArea          float64 `mapstructure:"min_contour_area"`
	GasketPadding           float64 `mapstructure:"gasket_padding"`
	NotchRadiusMM           float64 `mapstructure:"notch_radius_mm"`
	NotchOrientation        string  `mapstructure:"notch_orientation"`
}

// RenderConfig toggles the overlay layers of the debug image.
type RenderConfig struct {
	ShowReference bool `mapstructure:"show_reference"`
	ShowBBox      bool `mapstructure:"show_bbox"`
	ShowContours  bool `mapstructure:"show_contours"`
	ShowEllipses  bool `mapstructure:"show_ellipses"`
	ShowNotches   bool `mapstructure:"show_notches"`
	JPEGQuality   int  `mapstructure:"jpeg_quality"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig points at the sqlite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// TopicsConfig names the robot bus topics.
type TopicsConfig struct {
	Commands  string `mapstructure:"commands"`
	Responses string `mapstructure:"responses"`
	Results   string `mapstructure:"results"`
}

// MQTTConfig configures the robot bus connection.
type MQTTConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Broker   string       `mapstructure:"broker"`
	ClientID string       `mapstructure:"client_id"`
	Username string       `mapstructure:"username"`
	Password string       `mapstructure:"password"`
	QoS      int          `mapstructure:"qos"`
	Topics   TopicsConfig `mapstructure:"topics"`
}

// HooksConfig configures post-inspection hook executables.
type HooksConfig struct {
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SentryConfig enables error telemetry when DSN is set.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Provider returns a freshly resolved copy of the settings.
type Provider interface {
	Snapshot() (*Settings, error)
}

// FileProvider reads settings from a viper instance backed by an optional
// YAML file and GASKETVISION_* environment variables.
type FileProvider struct {
	mu  sync.Mutex
	v   *viper.Viper
	has bool // a config file was found
}

// Load creates a FileProvider. If path is empty the file gasketvision.yaml is
// searched in the working directory, the user config directory and
// /etc/gasketvision. A missing file is not an error; defaults apply.
func Load(path string) (*FileProvider, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gasketvision")
		v.SetConfigType("yaml")
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	p := &FileProvider{v: v}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		p.has = true
	}

	if _, err := p.Snapshot(); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot re-reads the config file, when one is in use, and returns the
// validated settings.
func (p *FileProvider) Snapshot() (*Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.has {
		if err := p.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("re-reading config %s: %w", p.v.ConfigFileUsed(), err)
		}
	}

	var s Settings
	if err := p.v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConfigFile returns the path of the file in use, or "" when running on
// defaults.
func (p *FileProvider) ConfigFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has {
		return ""
	}
	return p.v.ConfigFileUsed()
}

// StaticProvider always returns a copy of the same settings.
type StaticProvider struct {
	mu sync.Mutex
	s  Settings
}

// Static returns a Provider for fixed settings.
func Static(s Settings) *StaticProvider {
	return &StaticProvider{s: s}
}

// Snapshot returns a copy of the settings.
func (p *StaticProvider) Snapshot() (*Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.s
	s.Models.Service.Args = append([]string(nil), p.s.Models.Service.Args...)
	return &s, nil
}

// Update mutates the held settings in place.
func (p *StaticProvider) Update(fn func(*Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
}

func searchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "gasketvision"))
	}
	return append(paths, "/etc/gasketvision")
}
