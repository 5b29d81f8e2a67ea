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
	Sink     SinkConfig     `yaml:"sink"`
	Geo      GeoConfig      `yaml:"geo"`
	CoT      CoTConfig      `yaml:"cot"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
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

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// SinkConfig describes the downstream TAK endpoint that receives CoT events.
type SinkConfig struct {
	Address         string        `yaml:"address"`
	Protocol        string        `yaml:"protocol"` // tcp or udp
	DispatchTimeout time.Duration `yaml:"-"`
}

func (c *SinkConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Address         string `yaml:"address"`
		Protocol        string `yaml:"protocol"`
		DispatchTimeout string `yaml:"dispatch_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Address = raw.Address
	c.Protocol = raw.Protocol
	return setDuration(&c.DispatchTimeout, raw.DispatchTimeout, "sink.dispatch_timeout")
}

// GeoConfig is the geolocation policy: ground-model switch altitude,
// accuracy estimate coefficients, confidence flag thresholds, and camera
// intrinsics defaults for the multipart wire shape.
type GeoConfig struct {
	AltitudeThresholdM   float64 `yaml:"altitude_threshold_m"`
	AccuracyBaseM        float64 `yaml:"accuracy_base_m"`
	AccuracyRangeCoeff   float64 `yaml:"accuracy_range_coeff"`
	AccuracyObliqueCoeff float64 `yaml:"accuracy_oblique_coeff"`
	HighAccuracyM        float64 `yaml:"high_accuracy_m"`
	MediumAccuracyM      float64 `yaml:"medium_accuracy_m"`

	DefaultFocalLengthMM  float64 `yaml:"default_focal_length_mm"`
	DefaultSensorWidthMM  float64 `yaml:"default_sensor_width_mm"`
	DefaultSensorHeightMM float64 `yaml:"default_sensor_height_mm"`
	DefaultImageWidth     int     `yaml:"default_image_width"`
	DefaultImageHeight    int     `yaml:"default_image_height"`
}

type CoTConfig struct {
	StaleTTL time.Duration     `yaml:"-"`
	How      string            `yaml:"how"`
	TypeMap  map[string]string `yaml:"type_map"` // detection class -> CoT type code overrides
}

func (c *CoTConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		StaleTTL string            `yaml:"stale_ttl"`
		How      string            `yaml:"how"`
		TypeMap  map[string]string `yaml:"type_map"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.How = raw.How
	c.TypeMap = raw.TypeMap
	return setDuration(&c.StaleTTL, raw.StaleTTL, "cot.stale_ttl")
}

// QueueConfig is the offline delivery retry policy.
type QueueConfig struct {
	ScanInterval time.Duration `yaml:"-"`
	BaseBackoff  time.Duration `yaml:"-"`
	MaxBackoff   time.Duration `yaml:"-"`
	LeaseTTL     time.Duration `yaml:"-"`
	MaxRetries   int           `yaml:"max_retries"`
	BatchSize    int           `yaml:"batch_size"`
}

func (c *QueueConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ScanInterval string `yaml:"scan_interval"`
		BaseBackoff  string `yaml:"base_backoff"`
		MaxBackoff   string `yaml:"max_backoff"`
		LeaseTTL     string `yaml:"lease_ttl"`
		MaxRetries   int    `yaml:"max_retries"`
		BatchSize    int    `yaml:"batch_size"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.MaxRetries = raw.MaxRetries
	c.BatchSize = raw.BatchSize
	for _, d := range []struct {
		dst   *time.Duration
		src   string
		field string
	}{
		{&c.ScanInterval, raw.ScanInterval, "queue.scan_interval"},
		{&c.BaseBackoff, raw.BaseBackoff, "queue.base_backoff"},
		{&c.MaxBackoff, raw.MaxBackoff, "queue.max_backoff"},
		{&c.LeaseTTL, raw.LeaseTTL, "queue.lease_ttl"},
	} {
		if err := setDuration(d.dst, d.src, d.field); err != nil {
			return err
		}
	}
	return nil
}

// setDuration parses a YAML duration string ("30s", "15m"). Empty means
// unset; the default fills it in later.
func setDuration(dst *time.Duration, src, field string) error {
	if src == "" {
		return nil
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
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

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Default returns a config with defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Sink.Protocol == "" {
		cfg.Sink.Protocol = "tcp"
	}
	if cfg.Sink.DispatchTimeout == 0 {
		cfg.Sink.DispatchTimeout = 5 * time.Second
	}
	if cfg.Geo.AltitudeThresholdM == 0 {
		cfg.Geo.AltitudeThresholdM = 10000
	}
	if cfg.Geo.AccuracyBaseM == 0 {
		cfg.Geo.AccuracyBaseM = 5.0
	}
	if cfg.Geo.AccuracyRangeCoeff == 0 {
		cfg.Geo.AccuracyRangeCoeff = 0.01
	}
	if cfg.Geo.AccuracyObliqueCoeff == 0 {
		cfg.Geo.AccuracyObliqueCoeff = 0.02
	}
	if cfg.Geo.HighAccuracyM == 0 {
		cfg.Geo.HighAccuracyM = 10.0
	}
	if cfg.Geo.MediumAccuracyM == 0 {
		cfg.Geo.MediumAccuracyM = 50.0
	}
	if cfg.Geo.DefaultFocalLengthMM == 0 {
		cfg.Geo.DefaultFocalLengthMM = 24.0
	}
	if cfg.Geo.DefaultSensorWidthMM == 0 {
		cfg.Geo.DefaultSensorWidthMM = 36.0
	}
	if cfg.Geo.DefaultSensorHeightMM == 0 {
		cfg.Geo.DefaultSensorHeightMM = 24.0
	}
	if cfg.Geo.DefaultImageWidth == 0 {
		cfg.Geo.DefaultImageWidth = 1920
	}
	if cfg.Geo.DefaultImageHeight == 0 {
		cfg.Geo.DefaultImageHeight = 1080
	}
	if cfg.CoT.StaleTTL == 0 {
		cfg.CoT.StaleTTL = 5 * time.Minute
	}
	if cfg.CoT.How == "" {
		cfg.CoT.How = "m-g"
	}
	if cfg.Queue.ScanInterval == 0 {
		cfg.Queue.ScanInterval = 30 * time.Second
	}
	if cfg.Queue.BaseBackoff == 0 {
		cfg.Queue.BaseBackoff = 30 * time.Second
	}
	if cfg.Queue.MaxBackoff == 0 {
		cfg.Queue.MaxBackoff = 15 * time.Minute
	}
	if cfg.Queue.LeaseTTL == 0 {
		cfg.Queue.LeaseTTL = 2 * time.Minute
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 10
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TAKPIPE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TAKPIPE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("TAKPIPE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("TAKPIPE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("TAKPIPE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("TAKPIPE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("TAKPIPE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TAKPIPE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("TAKPIPE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("TAKPIPE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("TAKPIPE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("TAKPIPE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("TAKPIPE_SINK_ADDRESS"); v != "" {
		cfg.Sink.Address = v
	}
	if v := os.Getenv("TAKPIPE_SINK_PROTOCOL"); v != "" {
		cfg.Sink.Protocol = v
	}
	if v := os.Getenv("TAKPIPE_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxRetries = n
		}
	}
}
