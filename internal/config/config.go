package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
)

// EnvConfigPath names the variable holding the optional YAML config path.
const EnvConfigPath = "FACECOMPARE_CONFIG"

// Config is the full runtime configuration shared by every subcommand.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Detector DetectorConfig `yaml:"detector"`
	Auth     AuthConfig     `yaml:"auth"`
	Match    MatchConfig    `yaml:"match"`
	Video    VideoConfig    `yaml:"video"`
}

// ServerConfig configures the HTTP listener of serve.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig configures the result cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// DetectorConfig points at the gRPC face detector.
type DetectorConfig struct {
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AuthConfig holds the JWT settings of the /api routes. An empty secret
// rejects every API request; there is no built-in default.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

// MatchConfig holds the matching defaults of the pipelines.
type MatchConfig struct {
	Threshold      float64 `yaml:"threshold"`       // video and web pipelines
	PhotoThreshold float64 `yaml:"photo_threshold"` // two-photo pipeline
	Method         string  `yaml:"method"`
	Strategy       string  `yaml:"strategy"`
}

// VideoConfig is the default frame window of the videos command.
type VideoConfig struct {
	StartFrame int `yaml:"start_frame"`
	EndFrame   int `yaml:"end_frame"` // 0 reads to the end
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5001",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			DSN:          "host=postgres user=postgres password=postgres dbname=facecompare port=5432 sslmode=disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis:    RedisConfig{Addr: "redis:6379"},
		Detector: DetectorConfig{Addr: "face-detector:50051", DialTimeout: 5 * time.Second},
		Match: MatchConfig{
			Threshold:      facematch.DefaultThreshold,
			PhotoThreshold: facematch.PhotoThreshold,
			Method:         string(detector.MethodHOG),
			Strategy:       string(facematch.StrategyLast),
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// An empty path falls back to $FACECOMPARE_CONFIG; a missing variable means no file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = envString("SERVER_ADDR", c.Server.Addr)
	c.Server.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))
	c.Database.DSN = envString("DATABASE_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Redis.Addr = envString("REDIS_ADDR", c.Redis.Addr)
	c.Detector.Addr = envString("DETECTOR_ADDR", c.Detector.Addr)
	c.Detector.DialTimeout = envDuration("DETECTOR_DIAL_TIMEOUT", c.Detector.DialTimeout)
	c.Auth.JWTSecret = envString("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = envString("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Match.Threshold = envFloat("MATCH_THRESHOLD", c.Match.Threshold)
	c.Match.PhotoThreshold = envFloat("PHOTO_MATCH_THRESHOLD", c.Match.PhotoThreshold)
	c.Match.Method = envString("DETECTION_METHOD", c.Match.Method)
	c.Match.Strategy = envString("MATCH_STRATEGY", c.Match.Strategy)
}

// Validate rejects configurations the pipelines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Match.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("match.threshold must be positive, got %v", c.Match.Threshold))
	}
	if c.Match.PhotoThreshold <= 0 {
		errs = append(errs, fmt.Errorf("match.photo_threshold must be positive, got %v", c.Match.PhotoThreshold))
	}
	if _, err := detector.ParseMethod(c.Match.Method); err != nil {
		errs = append(errs, fmt.Errorf("match.method: %w", err))
	}
	if _, err := facematch.ParseStrategy(c.Match.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("match.strategy: %w", err))
	}
	if c.Video.StartFrame < 0 || c.Video.EndFrame < 0 {
		errs = append(errs, errors.New("video frame window must not be negative"))
	}
	if c.Video.EndFrame > 0 && c.Video.EndFrame < c.Video.StartFrame {
		errs = append(errs, fmt.Errorf("video.end_frame %d is before start_frame %d", c.Video.EndFrame, c.Video.StartFrame))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envInt reads a positive integer, keeping the default when unset or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}
