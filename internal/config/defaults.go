package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers a default for every key so that environment
// overrides and Unmarshal see the full key set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 1920)
	v.SetDefault("camera.height", 1080)
	v.SetDefault("camera.fps", 5)
	v.SetDefault("camera.settle_threshold_pct", 0.5)
	v.SetDefault("camera.settle_max_frames", 15)

	v.SetDefault("aruco.frame_marker_id", 23)
	v.SetDefault("aruco.dictionary_id", 50)
	v.SetDefault("aruco.marker_bits", 4)
	v.SetDefault("aruco.marker_size_mm", 70.0)
	v.SetDefault("aruco.use_saved_reference", false)
	v.SetDefault("aruco.center_x_mm", 0.0)
	v.SetDefault("aruco.center_y_mm", 0.0)

	v.SetDefault("models.gasket.backend", "onnx")
	v.SetDefault("models.gasket.path", "models/gasket.onnx")
	v.SetDefault("models.gasket.oriented", true)
	v.SetDefault("models.gasket.confidence", 0.5)
	v.SetDefault("models.gasket.input_size", 640)
	v.SetDefault("models.gasket.nms", 0.45)
	v.SetDefault("models.gasket.class_id", -1)

	v.SetDefault("models.holes.backend", "onnx")
	v.SetDefault("models.holes.path", "models/holes.onnx")
	v.SetDefault("models.holes.oriented", false)
	v.SetDefault("models.holes.confidence", 0.5)
	v.SetDefault("models.holes.input_size", 640)
	v.SetDefault("models.holes.nms", 0.45)
	v.SetDefault("models.holes.class_id", -1)

	v.SetDefault("models.service.command", "python3")
	v.SetDefault("models.service.args", []string{"scripts/detect_service.py"})
	v.SetDefault("models.service.timeout", 10*time.Second)
	v.SetDefault("models.service.idle_timeout", 5*time.Minute)

	v.SetDefault("vision.max_attempts", 3)
	v.SetDefault("vision.distance_tolerance_pct", 98.0)
	v.SetDefault("vision.center_tolerance_mm", 3.0)
	v.SetDefault("vision.collinearity_tolerance_mm", 2.0)
	v.SetDefault("vision.spacing_cv_max", 0.05)
	v.SetDefault("vision.dominance_factor", 0.7)
	v.SetDefault("vision.min_contour_area", 10.0)
	v.SetDefault("vision.gasket_padding", 0.10)
	v.SetDefault("vision.notch_radius_mm", 2.0)
	v.SetDefault("vision.notch_orientation", NotchOrientationFiducial)

	v.SetDefault("render.show_reference", false)
	v.SetDefault("render.show_bbox", false)
	v.SetDefault("render.show_contours", true)
	v.SetDefault("render.show_ellipses", false)
	v.SetDefault("render.show_notches", true)
	v.SetDefault("render.jpeg_quality", 95)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("store.path", "gasketvision.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "gasketvision")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 2)
	v.SetDefault("mqtt.topics.commands", "COMAU/commands")
	v.SetDefault("mqtt.topics.responses", "COMAU/toRobot")
	v.SetDefault("mqtt.topics.results", "COMAU/memoryData")

	v.SetDefault("hooks.dir", "")
	v.SetDefault("hooks.timeout", 5*time.Second)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// Defaults returns the built-in settings without reading any file or
// environment variable.
func Defaults() Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	// Defaults are plain values; Unmarshal cannot fail on them.
	_ = v.Unmarshal(&s)
	return s
}
