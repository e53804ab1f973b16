package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/izzi01/zk-communist/pkg/schedule"
)

const validYAML = `
terminal:
  address: "192.168.1.201:4370"
  password: 123456
  connect_timeout: "10s"
  command_timeout: "5s"
schedule:
  window_start: "07:50"
  window_end: "08:10"
  days: [mon, tue, wed, thu, fri, sat]
  target_low: "07:55"
  target_high: "07:59"
  interval_min: 30
  interval_max: 90
heartbeat:
  interval: "30s"
  timeout: "2s"
  max_misses: 3
reconnect:
  initial_backoff: "1s"
  max_backoff: "60s"
  max_attempts: 5
admin:
  listen: "127.0.0.1:8090"
log:
  level: "info"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Terminal.Address != "192.168.1.201:4370" {
		t.Errorf("address = %q", cfg.Terminal.Address)
	}
	if cfg.Terminal.Password != 123456 {
		t.Errorf("password = %d", cfg.Terminal.Password)
	}
	if got := cfg.Terminal.ConnectTimeout.Std(); got != 10*time.Second {
		t.Errorf("connect_timeout = %v", got)
	}
	if got := cfg.Reconnect.MaxBackoff.Std(); got != time.Minute {
		t.Errorf("max_backoff = %v", got)
	}

	w, err := cfg.Schedule.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if w.Start != schedule.MustParseClock("07:50") || w.End != schedule.MustParseClock("08:10") {
		t.Errorf("window = %v..%v", w.Start, w.End)
	}
	if w.Days != schedule.MonSat {
		t.Errorf("days = %v", w.Days)
	}

	r, err := cfg.Schedule.TargetRange(w)
	if err != nil {
		t.Fatalf("TargetRange: %v", err)
	}
	if r.Low != schedule.MustParseClock("07:55") {
		t.Errorf("target low = %v", r.Low)
	}

	b := cfg.Schedule.Intervals()
	if b.Min != 30 || b.Max != 90 {
		t.Errorf("intervals = %+v", b)
	}
}

func TestLoadDefaultsDaysToMonSat(t *testing.T) {
	yaml := `
terminal:
  address: "10.0.0.1:4370"
schedule:
  window_start: "07:50"
  window_end: "08:10"
  target_low: "07:55"
  target_high: "07:59"
  interval_min: 30
  interval_max: 90
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := cfg.Schedule.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if w.Days != schedule.MonSat {
		t.Errorf("default days = %v, want MonSat", w.Days)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ZK_TERMINAL_ADDRESS", "10.1.2.3:4370")
	t.Setenv("ZK_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terminal.Address != "10.1.2.3:4370" {
		t.Errorf("address = %q, env override lost", cfg.Terminal.Address)
	}
	if cfg.SlogLevel() != "debug" {
		t.Errorf("level = %q, env override lost", cfg.SlogLevel())
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	tests := []struct {
		name    string
		mangle  string
		replace string
		wantErr error
	}{
		{"InvertedWindow", `window_end: "08:10"`, `window_end: "07:40"`, schedule.ErrWindowOrder},
		{"RangeOutsideWindow", `target_high: "07:59"`, `target_high: "09:00"`, schedule.ErrRangeOutside},
		{"InvertedIntervals", "interval_min: 30", "interval_min: 120", schedule.ErrIntervalOrder},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.Contains(validYAML, tc.mangle) {
				t.Fatalf("%q not found in config", tc.mangle)
			}
			yaml := strings.Replace(validYAML, tc.mangle, tc.replace, 1)
			_, err := Load(writeConfig(t, yaml))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Load = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRejectsMissingAddress(t *testing.T) {
	yaml := `
schedule:
  window_start: "07:50"
  window_end: "08:10"
  target_low: "07:55"
  target_high: "07:59"
  interval_min: 30
  interval_max: 90
`
	_, err := Load(writeConfig(t, yaml))
	if !errors.Is(err, ErrNoTerminalAddress) {
		t.Errorf("Load = %v, want ErrNoTerminalAddress", err)
	}
}

func TestSealedCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.sealed")
	creds := Credentials{Password: 424242}

	if err := SealCredentials(path, "correct horse", creds); err != nil {
		t.Fatalf("SealCredentials: %v", err)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := OpenCredentials(path, "correct horse")
		if err != nil {
			t.Fatalf("OpenCredentials: %v", err)
		}
		if got.Password != creds.Password {
			t.Errorf("password = %d, want %d", got.Password, creds.Password)
		}
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		_, err := OpenCredentials(path, "battery staple")
		if !errors.Is(err, ErrCredentialsKey) {
			t.Errorf("OpenCredentials = %v, want ErrCredentialsKey", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		short := filepath.Join(t.TempDir(), "short.sealed")
		if err := os.WriteFile(short, []byte("ZKC1abc"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := OpenCredentials(short, "correct horse")
		if !errors.Is(err, ErrCredentialsFormat) {
			t.Errorf("OpenCredentials = %v, want ErrCredentialsFormat", err)
		}
	})

	t.Run("ResolvedThroughConfig", func(t *testing.T) {
		t.Setenv("ZK_CREDENTIALS_KEY", "correct horse")
		cfg := &Config{}
		cfg.Terminal.CredentialsFile = path
		got, err := cfg.TerminalPassword()
		if err != nil {
			t.Fatalf("TerminalPassword: %v", err)
		}
		if got != creds.Password {
			t.Errorf("password = %d, want %d", got, creds.Password)
		}
	})
}
