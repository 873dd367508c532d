package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if !cfg.GlobalDryRun {
		t.Error("global dry-run must default to true")
	}
	if cfg.ApprovalExpiry != 48*time.Hour {
		t.Errorf("approval expiry = %v", cfg.ApprovalExpiry)
	}
	if cfg.QueueCapacity != 500 {
		t.Errorf("queue capacity = %d", cfg.QueueCapacity)
	}
	if cfg.BreakerFailureThreshold != 5 || cfg.BreakerWindow != 60*time.Second || cfg.BreakerCooldown != 30*time.Second {
		t.Errorf("breaker defaults = %d/%v/%v", cfg.BreakerFailureThreshold, cfg.BreakerWindow, cfg.BreakerCooldown)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WARDEN_GLOBAL_DRY_RUN", "false")
	t.Setenv("WARDEN_APPROVAL_EXPIRY", "24h")
	t.Setenv("WARDEN_QUEUE_CAPACITY", "100")
	t.Setenv("WARDEN_DRAIN_RATE", "2.5")

	cfg := Load()
	if cfg.GlobalDryRun {
		t.Error("override did not disable dry-run")
	}
	if cfg.ApprovalExpiry != 24*time.Hour {
		t.Errorf("approval expiry = %v", cfg.ApprovalExpiry)
	}
	if cfg.QueueCapacity != 100 {
		t.Errorf("queue capacity = %d", cfg.QueueCapacity)
	}
	if cfg.DrainRate != 2.5 {
		t.Errorf("drain rate = %v", cfg.DrainRate)
	}
}

func TestLoadIgnoresGarbageValues(t *testing.T) {
	t.Setenv("WARDEN_QUEUE_CAPACITY", "lots")
	t.Setenv("WARDEN_GLOBAL_DRY_RUN", "maybe")

	cfg := Load()
	if cfg.QueueCapacity != 500 {
		t.Errorf("garbage int should fall back to default, got %d", cfg.QueueCapacity)
	}
	if !cfg.GlobalDryRun {
		t.Error("garbage bool should fall back to the safe default")
	}
}

func TestLoadArchiveSettings(t *testing.T) {
	cfg := Load()
	if cfg.AuditS3Bucket != "" {
		t.Errorf("archival should be off by default, bucket = %q", cfg.AuditS3Bucket)
	}
	if cfg.ArchiveInterval != time.Hour {
		t.Errorf("archive interval = %v", cfg.ArchiveInterval)
	}

	t.Setenv("WARDEN_AUDIT_S3_BUCKET", "warden-evidence")
	t.Setenv("WARDEN_AUDIT_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("WARDEN_ARCHIVE_INTERVAL", "15m")

	cfg = Load()
	if cfg.AuditS3Bucket != "warden-evidence" || cfg.AuditS3Endpoint != "http://localhost:9000" {
		t.Errorf("s3 settings = %q/%q", cfg.AuditS3Bucket, cfg.AuditS3Endpoint)
	}
	if cfg.ArchiveInterval != 15*time.Minute {
		t.Errorf("archive interval = %v", cfg.ArchiveInterval)
	}
	if cfg.AuditS3Prefix != "audit-packs/" {
		t.Errorf("prefix = %q", cfg.AuditS3Prefix)
	}
}
