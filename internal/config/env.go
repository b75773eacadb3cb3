// Package config handles environment-based configuration loading and the
// router seed file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Router inventory
	RouterSeedPath string

	// Device API
	DevicePort    int
	DeviceTimeout time.Duration

	// Pool availability
	AvailabilityTTL time.Duration
	MaxCachedPools  int
	ReserveGateway  bool
	ReserveEdge     bool

	// Sync
	SyncSchedule string
	SyncJitter   time.Duration

	// Provisioning
	UsernameMaxLen        int
	EnforceSecretStrength bool
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("WISPD_STATE_DIR", "/var/lib/wispd")

	// --- Router inventory ---
	cfg.RouterSeedPath = strings.TrimSpace(envStr("WISPD_ROUTER_SEED", ""))

	// --- Device API ---
	cfg.DevicePort = envInt("WISPD_DEVICE_PORT", 8728, &errs)
	cfg.DeviceTimeout = envDuration("WISPD_DEVICE_TIMEOUT", 15*time.Second, &errs)

	// --- Pool availability ---
	cfg.AvailabilityTTL = envDuration("WISPD_AVAILABILITY_TTL", 10*time.Minute, &errs)
	cfg.MaxCachedPools = envInt("WISPD_MAX_CACHED_POOLS", 1024, &errs)
	cfg.ReserveGateway = envBool("WISPD_RESERVE_GATEWAY", true, &errs)
	cfg.ReserveEdge = envBool("WISPD_RESERVE_EDGE", true, &errs)

	// --- Sync ---
	cfg.SyncSchedule = envStr("WISPD_SYNC_SCHEDULE", "*/30 * * * *")
	cfg.SyncJitter = envDuration("WISPD_SYNC_JITTER", 30*time.Second, &errs)

	// --- Provisioning ---
	cfg.UsernameMaxLen = envInt("WISPD_USERNAME_MAX_LEN", 20, &errs)
	cfg.EnforceSecretStrength = envBool("WISPD_ENFORCE_SECRET_STRENGTH", true, &errs)

	// --- Validation ---
	if cfg.StateDir == "" {
		errs = append(errs, "WISPD_STATE_DIR must not be empty")
	}
	validatePort("WISPD_DEVICE_PORT", cfg.DevicePort, &errs)
	if cfg.DeviceTimeout <= 0 {
		errs = append(errs, "WISPD_DEVICE_TIMEOUT must be positive")
	}
	if cfg.AvailabilityTTL <= 0 {
		errs = append(errs, "WISPD_AVAILABILITY_TTL must be positive")
	}
	validatePositive("WISPD_MAX_CACHED_POOLS", cfg.MaxCachedPools, &errs)
	if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("WISPD_SYNC_SCHEDULE: invalid cron expression %q: %v", cfg.SyncSchedule, err))
	}
	if cfg.SyncJitter < 0 {
		errs = append(errs, "WISPD_SYNC_JITTER must not be negative")
	}
	validatePositive("WISPD_USERNAME_MAX_LEN", cfg.UsernameMaxLen, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
