package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Detector DetectorConfig `yaml:"detector"`
	Verdict  VerdictConfig  `yaml:"verdict"`
	Video    VideoConfig    `yaml:"video"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Notifier NotifierConfig `yaml:"notifier"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port              int      `yaml:"port"`
	APIKey            string   `yaml:"api_key"`
	UploadDir         string   `yaml:"upload_dir"`
	MaxUploadMB       int64    `yaml:"max_upload_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// MaxUploadBytes returns the request body limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return s.MaxUploadMB * 1024 * 1024
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig configures the alert queue. An empty URL keeps alert delivery in-process.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type DetectorConfig struct {
	ModelPath      string   `yaml:"model_path"`
	InputSize      int      `yaml:"input_size"`
	ClassNames     []string `yaml:"class_names"`
	NMSThreshold   float64  `yaml:"nms_threshold"`
	MaxDetections  int      `yaml:"max_detections"`
	IntraOpThreads int      `yaml:"intra_op_threads"`
	// SharedLibrary overrides the onnxruntime library path picked from GOOS.
	SharedLibrary string `yaml:"shared_library"`
}

// VerdictConfig holds the decision parameters of the frame verdict engine.
type VerdictConfig struct {
	Stride              int     `yaml:"stride"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	TargetClass         int     `yaml:"target_class"`
	Policy              string  `yaml:"policy"`
	MinPositiveFrames   int     `yaml:"min_positive_frames"`
	MinPositiveRatio    float64 `yaml:"min_positive_ratio"`
	Evidence            string  `yaml:"evidence"`
}

type VideoConfig struct {
	Backend      string  `yaml:"backend"`
	DefaultFPS   float64 `yaml:"default_fps"`
	TempCodec    string  `yaml:"temp_codec"`
	BrowserCodec string  `yaml:"browser_codec"`
}

type AlertsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BotToken      string        `yaml:"bot_token"`
	ChatID        string        `yaml:"chat_id"`
	APIURL        string        `yaml:"api_url"`
	TimezoneLabel string        `yaml:"timezone_label"`
	Timeout       time.Duration `yaml:"timeout"`
	QueueSize     int           `yaml:"queue_size"`
}

// NotifierConfig configures cmd/notifier, the ALERTS stream consumer.
type NotifierConfig struct {
	Workers     int `yaml:"workers"`
	MetricsPort int `yaml:"metrics_port"`
}

type CleanupConfig struct {
	MaxAge    time.Duration `yaml:"max_age"`
	Interval  time.Duration `yaml:"interval"`
	WorkGrace time.Duration `yaml:"work_grace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated only with defaults. Load decodes
// the file on top of it, so fields whose zero value is meaningful keep an
// explicit zero.
func Default() *Config {
	cfg := &Config{
		Verdict: VerdictConfig{
			ConfidenceThreshold: 0.25,
			TargetClass:         1,
		},
	}
	setDefaults(cfg)
	return cfg
}

// Validate checks the values that cannot be defaulted silently.
func (c *Config) Validate() error {
	if c.Verdict.Stride < 1 {
		return fmt.Errorf("verdict.stride must be >= 1, got %d", c.Verdict.Stride)
	}
	if c.Verdict.ConfidenceThreshold < 0 || c.Verdict.ConfidenceThreshold > 1 {
		return fmt.Errorf("verdict.confidence_threshold must be in [0,1], got %v", c.Verdict.ConfidenceThreshold)
	}
	if c.Verdict.TargetClass < 0 || c.Verdict.TargetClass >= len(c.Detector.ClassNames) {
		return fmt.Errorf("verdict.target_class %d is not a class of the detector (%d classes)",
			c.Verdict.TargetClass, len(c.Detector.ClassNames))
	}
	switch c.Verdict.Policy {
	case "any", "min_count", "min_ratio":
	default:
		return fmt.Errorf("verdict.policy %q is not one of any, min_count, min_ratio", c.Verdict.Policy)
	}
	switch c.Verdict.Evidence {
	case "first", "last":
	default:
		return fmt.Errorf("verdict.evidence %q is not one of first, last", c.Verdict.Evidence)
	}
	switch c.Video.Backend {
	case "ffmpeg", "gocv":
	default:
		return fmt.Errorf("video.backend %q is not one of ffmpeg, gocv", c.Video.Backend)
	}
	if c.Alerts.Enabled && (c.Alerts.BotToken == "" || c.Alerts.ChatID == "") {
		return fmt.Errorf("alerts enabled but bot token or chat id missing")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "static/uploads"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 100
	}
	if len(cfg.Server.AllowedExtensions) == 0 {
		cfg.Server.AllowedExtensions = []string{"mp4", "avi", "mov"}
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Detector.ModelPath == "" {
		cfg.Detector.ModelPath = "models/yolov8violence_final.onnx"
	}
	if cfg.Detector.InputSize == 0 {
		cfg.Detector.InputSize = 640
	}
	if len(cfg.Detector.ClassNames) == 0 {
		cfg.Detector.ClassNames = []string{"non_violence", "violence"}
	}
	if cfg.Detector.NMSThreshold == 0 {
		cfg.Detector.NMSThreshold = 0.5
	}
	if cfg.Detector.MaxDetections == 0 {
		cfg.Detector.MaxDetections = 50
	}
	if cfg.Verdict.Stride == 0 {
		cfg.Verdict.Stride = 2
	}
	if cfg.Verdict.Policy == "" {
		cfg.Verdict.Policy = "any"
	}
	if cfg.Verdict.MinPositiveFrames == 0 {
		cfg.Verdict.MinPositiveFrames = 1
	}
	if cfg.Verdict.Evidence == "" {
		cfg.Verdict.Evidence = "first"
	}
	if cfg.Video.Backend == "" {
		cfg.Video.Backend = "ffmpeg"
	}
	if cfg.Video.DefaultFPS == 0 {
		cfg.Video.DefaultFPS = 30
	}
	if cfg.Video.TempCodec == "" {
		cfg.Video.TempCodec = "mpeg4"
	}
	if cfg.Video.BrowserCodec == "" {
		cfg.Video.BrowserCodec = "libx264"
	}
	if cfg.Alerts.APIURL == "" {
		cfg.Alerts.APIURL = "https://api.telegram.org"
	}
	if cfg.Alerts.TimezoneLabel == "" {
		cfg.Alerts.TimezoneLabel = "WIB"
	}
	if cfg.Alerts.Timeout == 0 {
		cfg.Alerts.Timeout = 30 * time.Second
	}
	if cfg.Alerts.QueueSize == 0 {
		cfg.Alerts.QueueSize = 64
	}
	if cfg.Notifier.Workers == 0 {
		cfg.Notifier.Workers = 2
	}
	if cfg.Notifier.MetricsPort == 0 {
		cfg.Notifier.MetricsPort = 8082
	}
	if cfg.Cleanup.MaxAge == 0 {
		cfg.Cleanup.MaxAge = time.Hour
	}
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = 10 * time.Minute
	}
	if cfg.Cleanup.WorkGrace == 0 {
		cfg.Cleanup.WorkGrace = 6 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VDS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VDS_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VDS_UPLOAD_DIR"); v != "" {
		cfg.Server.UploadDir = v
	}
	if v := os.Getenv("VDS_DB_HOST"); v != "" {
		cfg.Database.Host = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("VDS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VDS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VDS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VDS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VDS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VDS_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
		cfg.MinIO.Enabled = true
	}
	if v := os.Getenv("VDS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VDS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VDS_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VDS_MODEL_PATH"); v != "" {
		cfg.Detector.ModelPath = v
	}
	if v := os.Getenv("VDS_ONNX_LIBRARY"); v != "" {
		cfg.Detector.SharedLibrary = v
	}
	if v := os.Getenv("VDS_VERDICT_STRIDE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verdict.Stride = n
		}
	}
	if v := os.Getenv("VDS_VERDICT_TARGET_CLASS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verdict.TargetClass = n
		}
	}
	if v := os.Getenv("VDS_VERDICT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Verdict.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("VDS_TELEGRAM_TOKEN"); v != "" {
		cfg.Alerts.BotToken = v
	}
	if v := os.Getenv("VDS_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.ChatID = v
	}
	if v := os.Getenv("VDS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
