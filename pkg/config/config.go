// Package config supplies the execution core's runtime configuration:
// process-level settings from the environment and per-service tuning from
// YAML profiles. Nothing operational is hardcoded; every threshold the
// core enforces arrives through here.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-level configuration.
type Config struct {
	// GlobalDryRun gates all real execution. Defaults to true; flipping
	// it off is an explicit operator act.
	GlobalDryRun bool

	LogLevel    string
	DatabaseURL string
	AuditDBPath string
	RedisAddr   string
	AlertDir    string
	ProfileDir  string

	ApprovalExpiry time.Duration
	QueueCapacity  int
	Workers        int
	SweepInterval  time.Duration
	DrainRate      float64
	DrainBurst     int

	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	BreakerCooldown         time.Duration

	HealthWindow    time.Duration
	HealthThreshold int

	DecisionTokenSecret string
	DecisionTokenIssuer string

	// AuditS3Bucket enables periodic evidence-pack archival when set.
	AuditS3Bucket   string
	AuditS3Region   string
	AuditS3Endpoint string
	AuditS3Prefix   string
	ArchiveInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		GlobalDryRun: envBool("WARDEN_GLOBAL_DRY_RUN", true),

		LogLevel:    envString("LOG_LEVEL", "INFO"),
		DatabaseURL: envString("DATABASE_URL", ""),
		AuditDBPath: envString("WARDEN_AUDIT_DB", "warden_audit.db"),
		RedisAddr:   envString("REDIS_ADDR", ""),
		AlertDir:    envString("WARDEN_ALERT_DIR", "alerts"),
		ProfileDir:  envString("WARDEN_PROFILE_DIR", "profiles"),

		ApprovalExpiry: envDuration("WARDEN_APPROVAL_EXPIRY", 48*time.Hour),
		QueueCapacity:  envInt("WARDEN_QUEUE_CAPACITY", 500),
		Workers:        envInt("WARDEN_WORKERS", 4),
		SweepInterval:  envDuration("WARDEN_SWEEP_INTERVAL", 5*time.Minute),
		DrainRate:      envFloat("WARDEN_DRAIN_RATE", 5),
		DrainBurst:     envInt("WARDEN_DRAIN_BURST", 1),

		BreakerFailureThreshold: envInt("WARDEN_BREAKER_FAILURES", 5),
		BreakerWindow:           envDuration("WARDEN_BREAKER_WINDOW", 60*time.Second),
		BreakerCooldown:         envDuration("WARDEN_BREAKER_COOLDOWN", 30*time.Second),

		HealthWindow:    envDuration("WARDEN_HEALTH_WINDOW", time.Hour),
		HealthThreshold: envInt("WARDEN_HEALTH_THRESHOLD", 5),

		DecisionTokenSecret: envString("WARDEN_DECISION_SECRET", ""),
		DecisionTokenIssuer: envString("WARDEN_DECISION_ISSUER", "warden/approvals"),

		AuditS3Bucket:   envString("WARDEN_AUDIT_S3_BUCKET", ""),
		AuditS3Region:   envString("WARDEN_AUDIT_S3_REGION", "us-east-1"),
		AuditS3Endpoint: envString("WARDEN_AUDIT_S3_ENDPOINT", ""),
		AuditS3Prefix:   envString("WARDEN_AUDIT_S3_PREFIX", "audit-packs/"),
		ArchiveInterval: envDuration("WARDEN_ARCHIVE_INTERVAL", time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
