package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEETREC"

type Config struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string

	MaxDurationMinutes    int
	MaxConcurrentSessions int
	RecordingsDir         string
	AuthTimeout           time.Duration
	JoinTimeout           time.Duration
	UploadTimeout         time.Duration
	RecordGrace           time.Duration

	SessionRetention time.Duration
	OrphanAfter      time.Duration

	CaptureProvider string
	GmailAddress    string
	GmailPassword   string
	ChromeHeadless  bool
	FFmpegBinary    string
	FFmpegFormat    string
	FFmpegSource    string

	StorageProvider   string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Prefix          string
	S3UsePathStyle    bool
	S3LinkTTL         time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("max_duration_minutes", 240)
	v.SetDefault("max_concurrent_sessions", 2)
	v.SetDefault("recordings_dir", "recordings")
	v.SetDefault("auth_timeout", 3*time.Minute)
	v.SetDefault("join_timeout", 2*time.Minute)
	v.SetDefault("upload_timeout", 30*time.Minute)
	v.SetDefault("record_grace", 2*time.Minute)
	v.SetDefault("session_retention", time.Duration(0))
	v.SetDefault("orphan_after", 10*time.Minute)
	v.SetDefault("capture_provider", "fake")
	v.SetDefault("chrome_headless", true)
	v.SetDefault("ffmpeg_binary", "ffmpeg")
	v.SetDefault("ffmpeg_format", "pulse")
	v.SetDefault("ffmpeg_source", "default")
	v.SetDefault("storage_provider", "fake")
	v.SetDefault("s3_link_ttl", 7*24*time.Hour)
}

// LoadFromEnv reads MEETREC_* variables, optionally layered over the file
// named by MEETREC_CONFIG_FILE (yaml, json, toml or a .env file). Keys in a
// .env file may carry the MEETREC_ prefix; other formats use bare keys.
func LoadFromEnv() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// Google credentials keep the names the recorder has always used.
	_ = v.BindEnv("gmail_address", "GMAIL_ADDRESS", envPrefix+"_GMAIL_ADDRESS")
	_ = v.BindEnv("gmail_password", "GMAIL_PASSWORD", envPrefix+"_GMAIL_PASSWORD")

	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if strings.HasSuffix(path, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if strings.HasSuffix(path, ".env") {
			if err := unprefixEnvFile(v); err != nil {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		ListenAddr:  v.GetString("listen_addr"),
		DatabaseURL: v.GetString("database_url"),
		JWTSecret:   v.GetString("jwt_secret"),
		CORSOrigins: splitCSV(v.GetString("cors_origins")),

		MaxDurationMinutes:    v.GetInt("max_duration_minutes"),
		MaxConcurrentSessions: v.GetInt("max_concurrent_sessions"),
		RecordingsDir:         v.GetString("recordings_dir"),
		AuthTimeout:           v.GetDuration("auth_timeout"),
		JoinTimeout:           v.GetDuration("join_timeout"),
		UploadTimeout:         v.GetDuration("upload_timeout"),
		RecordGrace:           v.GetDuration("record_grace"),

		SessionRetention: v.GetDuration("session_retention"),
		OrphanAfter:      v.GetDuration("orphan_after"),

		CaptureProvider: strings.ToLower(v.GetString("capture_provider")),
		GmailAddress:    v.GetString("gmail_address"),
		GmailPassword:   v.GetString("gmail_password"),
		ChromeHeadless:  v.GetBool("chrome_headless"),
		FFmpegBinary:    v.GetString("ffmpeg_binary"),
		FFmpegFormat:    v.GetString("ffmpeg_format"),
		FFmpegSource:    v.GetString("ffmpeg_source"),

		StorageProvider:   strings.ToLower(v.GetString("storage_provider")),
		S3Bucket:          v.GetString("s3_bucket"),
		S3Region:          v.GetString("s3_region"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3AccessKeyID:     v.GetString("s3_access_key_id"),
		S3SecretAccessKey: v.GetString("s3_secret_access_key"),
		S3Prefix:          v.GetString("s3_prefix"),
		S3UsePathStyle:    v.GetBool("s3_use_path_style"),
		S3LinkTTL:         v.GetDuration("s3_link_ttl"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxDurationMinutes <= 0 {
		return fmt.Errorf("MEETREC_MAX_DURATION_MINUTES must be positive")
	}
	if c.MaxConcurrentSessions < 0 {
		return fmt.Errorf("MEETREC_MAX_CONCURRENT_SESSIONS must be zero (unbounded) or positive")
	}
	if c.OrphanAfter <= 0 {
		return fmt.Errorf("MEETREC_ORPHAN_AFTER must be positive")
	}
	if c.SessionRetention < 0 {
		return fmt.Errorf("MEETREC_SESSION_RETENTION must not be negative")
	}
	switch c.CaptureProvider {
	case "fake":
	case "live":
		if c.GmailAddress == "" || c.GmailPassword == "" {
			return fmt.Errorf("GMAIL_ADDRESS and GMAIL_PASSWORD are required for the live capture provider")
		}
	default:
		return fmt.Errorf("MEETREC_CAPTURE_PROVIDER must be one of fake|live")
	}
	switch c.StorageProvider {
	case "fake":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("MEETREC_S3_BUCKET is required for the s3 storage provider")
		}
	default:
		return fmt.Errorf("MEETREC_STORAGE_PROVIDER must be one of fake|s3")
	}
	return nil
}

// unprefixEnvFile lets a .env file use the same MEETREC_ names as the
// environment. Values stay in the config layer, so real env vars still win.
func unprefixEnvFile(v *viper.Viper) error {
	prefix := strings.ToLower(envPrefix) + "_"
	values := make(map[string]any)
	for _, key := range v.AllKeys() {
		if name, ok := strings.CutPrefix(key, prefix); ok && name != "" {
			values[name] = v.Get(key)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return v.MergeConfigMap(values)
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
