package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// profileConstraint is the schema range this build can load. Profiles
// written for a newer major schema are rejected rather than misread.
const profileConstraint = ">= 1.0.0, < 2.0.0"

// ServiceProfile tunes retry, breaker and queue behavior for one external
// service.
type ServiceProfile struct {
	Version string        `yaml:"version"`
	Service string        `yaml:"service"`
	Retry   RetryProfile  `yaml:"retry"`
	Breaker BreakerLimits `yaml:"breaker"`

	// QueueCapacity overrides the process-wide queue cap for this
	// service's queue. Zero means inherit.
	QueueCapacity int `yaml:"queue_capacity,omitempty"`
}

// RetryProfile holds the per-service retry policy parameters.
type RetryProfile struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxJitter      time.Duration `yaml:"max_jitter"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	RateLimitCap   time.Duration `yaml:"rate_limit_cap"`
}

// BreakerLimits holds the per-service circuit breaker thresholds.
type BreakerLimits struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// LoadProfiles reads every *.yaml profile in dir, keyed by service name.
// A missing directory is not an error; a profile with a missing service
// name, an unparsable version, or a version outside the supported range is.
func LoadProfiles(dir string) (map[string]ServiceProfile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]ServiceProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	constraint, err := semver.NewConstraint(profileConstraint)
	if err != nil {
		return nil, fmt.Errorf("parse profile constraint: %w", err)
	}

	profiles := make(map[string]ServiceProfile)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", entry.Name(), err)
		}

		var profile ServiceProfile
		if err := yaml.Unmarshal(raw, &profile); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", entry.Name(), err)
		}
		if err := validateProfile(&profile, constraint); err != nil {
			return nil, fmt.Errorf("profile %s: %w", entry.Name(), err)
		}
		if _, dup := profiles[profile.Service]; dup {
			return nil, fmt.Errorf("profile %s: duplicate profile for service %q", entry.Name(), profile.Service)
		}
		profiles[profile.Service] = profile
	}
	return profiles, nil
}

func validateProfile(p *ServiceProfile, constraint *semver.Constraints) error {
	if p.Service == "" {
		return fmt.Errorf("missing service name")
	}
	version, err := semver.NewVersion(p.Version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", p.Version, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("version %s outside supported range %s", version, profileConstraint)
	}
	if p.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	return nil
}
