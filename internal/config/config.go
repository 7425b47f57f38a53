package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Otp         OtpConfig         `yaml:"otp"`
	Notify      NotifyConfig      `yaml:"notify"`
	Logging     LoggingConfig     `yaml:"logging"`
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

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
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

type EncoderConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	TimeoutMS          int     `yaml:"timeout_ms"`
}

// Timeout bounds a single encode call. Past it the probe counts as
// carrying no usable face.
func (e EncoderConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

type RecognitionConfig struct {
	Metric          string  `yaml:"metric"`
	Threshold       float64 `yaml:"threshold"`
	ConfidenceScale float64 `yaml:"confidence_scale"`
	ArchiveProbes   *bool   `yaml:"archive_probes"` // nil defaults to true
}

// ArchiveProbesEnabled reports whether probe snapshots are archived;
// deployments that must not retain probe images set archive_probes: false.
func (r RecognitionConfig) ArchiveProbesEnabled() bool {
	return r.ArchiveProbes == nil || *r.ArchiveProbes
}

type OtpConfig struct {
	Store           string `yaml:"store"`
	Digits          int    `yaml:"digits"`
	TTLSeconds      int    `yaml:"ttl_seconds"`
	CooldownSeconds *int   `yaml:"cooldown_seconds"` // nil defaults to 60, 0 disables
	MaxAttempts     *int   `yaml:"max_attempts"`     // nil defaults to 5, 0 disables
	RetentionHours  int    `yaml:"retention_hours"`
}

func (o OtpConfig) TTL() time.Duration {
	return time.Duration(o.TTLSeconds) * time.Second
}

// Cooldown is the minimum spacing between issues per identity and purpose.
// An explicit zero turns the cooldown off.
func (o OtpConfig) Cooldown() time.Duration {
	if o.CooldownSeconds == nil {
		return 60 * time.Second
	}
	return time.Duration(*o.CooldownSeconds) * time.Second
}

// AttemptCap is the mismatch count past which verification answers 429.
// An explicit zero turns the cap off.
func (o OtpConfig) AttemptCap() int {
	if o.MaxAttempts == nil {
		return 5
	}
	return *o.MaxAttempts
}

// Retention is how long a consumed or expired code stays readable so
// verification can still name the precise failure.
func (o OtpConfig) Retention() time.Duration {
	return time.Duration(o.RetentionHours) * time.Hour
}

type NotifyConfig struct {
	Provider string       `yaml:"provider"`
	From     string       `yaml:"from"`
	FromName string       `yaml:"from_name"`
	SMTP     SMTPConfig   `yaml:"smtp"`
	Resend   ResendConfig `yaml:"resend"`
}

type SMTPConfig struct {
	Preset   string `yaml:"preset"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ResendConfig struct {
	APIKey string `yaml:"api_key"`
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
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Encoder.DetectionThreshold == 0 {
		cfg.Encoder.DetectionThreshold = 0.5
	}
	if cfg.Encoder.TimeoutMS == 0 {
		cfg.Encoder.TimeoutMS = 5000
	}
	if cfg.Recognition.Metric == "" {
		cfg.Recognition.Metric = "euclidean"
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.6
	}
	if cfg.Recognition.ConfidenceScale == 0 {
		cfg.Recognition.ConfidenceScale = 1.0
	}
	if cfg.Otp.Store == "" {
		cfg.Otp.Store = "memory"
	}
	if cfg.Otp.Digits == 0 {
		cfg.Otp.Digits = 6
	}
	if cfg.Otp.TTLSeconds == 0 {
		cfg.Otp.TTLSeconds = 600
	}
	if cfg.Otp.RetentionHours == 0 {
		cfg.Otp.RetentionHours = 24
	}
	if cfg.Notify.Provider == "" {
		cfg.Notify.Provider = "log"
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = 587
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEGATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEGATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FACEGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FACEGATE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEGATE_MODELS_DIR"); v != "" {
		cfg.Encoder.ModelsDir = v
	}
	if v := os.Getenv("FACEGATE_RECOGNITION_THRESHOLD"); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Threshold = th
		}
	}
	if v := os.Getenv("FACEGATE_OTP_STORE"); v != "" {
		cfg.Otp.Store = v
	}
	if v := os.Getenv("FACEGATE_OTP_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Otp.TTLSeconds = n
		}
	}
	if v := os.Getenv("FACEGATE_NOTIFY_PROVIDER"); v != "" {
		cfg.Notify.Provider = v
	}
	if v := os.Getenv("FACEGATE_SMTP_USERNAME"); v != "" {
		cfg.Notify.SMTP.Username = v
	}
	if v := os.Getenv("FACEGATE_SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
	if v := os.Getenv("FACEGATE_RESEND_API_KEY"); v != "" {
		cfg.Notify.Resend.APIKey = v
	}
}
