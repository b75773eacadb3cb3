package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// clearEnvs unsets every WISPD_ variable so ambient settings do not leak
// into a test. t.Setenv registers the restore before the unset.
func clearEnvs(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		k, _, _ := strings.Cut(e, "=")
		if strings.HasPrefix(k, "WISPD_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	clearEnvs(t)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/var/lib/wispd")
	assertEqual(t, "RouterSeedPath", cfg.RouterSeedPath, "")
	assertEqual(t, "DevicePort", cfg.DevicePort, 8728)
	assertEqual(t, "DeviceTimeout", cfg.DeviceTimeout, 15*time.Second)
	assertEqual(t, "AvailabilityTTL", cfg.AvailabilityTTL, 10*time.Minute)
	assertEqual(t, "MaxCachedPools", cfg.MaxCachedPools, 1024)
	assertEqual(t, "ReserveGateway", cfg.ReserveGateway, true)
	assertEqual(t, "ReserveEdge", cfg.ReserveEdge, true)
	assertEqual(t, "SyncSchedule", cfg.SyncSchedule, "*/30 * * * *")
	assertEqual(t, "SyncJitter", cfg.SyncJitter, 30*time.Second)
	assertEqual(t, "UsernameMaxLen", cfg.UsernameMaxLen, 20)
	assertEqual(t, "EnforceSecretStrength", cfg.EnforceSecretStrength, true)
}

func TestLoadEnvConfig_Overrides(t *testing.T) {
	clearEnvs(t)
	setEnvs(t, map[string]string{
		"WISPD_STATE_DIR":               "/tmp/wispd-test",
		"WISPD_ROUTER_SEED":             "/etc/wispd/routers.yaml",
		"WISPD_DEVICE_PORT":             "8729",
		"WISPD_DEVICE_TIMEOUT":          "5s",
		"WISPD_AVAILABILITY_TTL":        "1m",
		"WISPD_MAX_CACHED_POOLS":        "64",
		"WISPD_RESERVE_GATEWAY":         "false",
		"WISPD_SYNC_SCHEDULE":           "@hourly",
		"WISPD_SYNC_JITTER":             "0s",
		"WISPD_USERNAME_MAX_LEN":        "16",
		"WISPD_ENFORCE_SECRET_STRENGTH": "false",
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/tmp/wispd-test")
	assertEqual(t, "RouterSeedPath", cfg.RouterSeedPath, "/etc/wispd/routers.yaml")
	assertEqual(t, "DevicePort", cfg.DevicePort, 8729)
	assertEqual(t, "DeviceTimeout", cfg.DeviceTimeout, 5*time.Second)
	assertEqual(t, "AvailabilityTTL", cfg.AvailabilityTTL, time.Minute)
	assertEqual(t, "MaxCachedPools", cfg.MaxCachedPools, 64)
	assertEqual(t, "ReserveGateway", cfg.ReserveGateway, false)
	assertEqual(t, "ReserveEdge", cfg.ReserveEdge, true)
	assertEqual(t, "SyncSchedule", cfg.SyncSchedule, "@hourly")
	assertEqual(t, "SyncJitter", cfg.SyncJitter, time.Duration(0))
	assertEqual(t, "UsernameMaxLen", cfg.UsernameMaxLen, 16)
	assertEqual(t, "EnforceSecretStrength", cfg.EnforceSecretStrength, false)
}

func TestLoadEnvConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{
			name:    "bad_port",
			envs:    map[string]string{"WISPD_DEVICE_PORT": "70000"},
			wantErr: "WISPD_DEVICE_PORT",
		},
		{
			name:    "bad_int",
			envs:    map[string]string{"WISPD_MAX_CACHED_POOLS": "lots"},
			wantErr: "invalid integer",
		},
		{
			name:    "bad_duration",
			envs:    map[string]string{"WISPD_DEVICE_TIMEOUT": "fast"},
			wantErr: "invalid duration",
		},
		{
			name:    "bad_bool",
			envs:    map[string]string{"WISPD_RESERVE_EDGE": "maybe"},
			wantErr: "invalid boolean",
		},
		{
			name:    "bad_cron",
			envs:    map[string]string{"WISPD_SYNC_SCHEDULE": "every once in a while"},
			wantErr: "WISPD_SYNC_SCHEDULE",
		},
		{
			name:    "negative_jitter",
			envs:    map[string]string{"WISPD_SYNC_JITTER": "-5s"},
			wantErr: "WISPD_SYNC_JITTER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvs(t)
			setEnvs(t, tt.envs)

			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
