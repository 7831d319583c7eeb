package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"scrubber/internal/transient"
	logx "scrubber/pkg/logx"
)

const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultBusyTimeout       = time.Second
)

// Validate checks the fields that can be checked without building anything.
// Cron expressions are checked by the trigger service.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", d))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := cfg.Storage.BusyTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage.CompactEvery < 0 {
		errs = append(errs, errors.New("storage.compact_every: must be >= 0"))
	}

	// Cache entries share the store under transient.Prefix; a schedule document
	// inside that namespace would be deleted by scrubbing the matching entry.
	if k := strings.TrimSpace(cfg.Scrubber.StorageKey); strings.HasPrefix(k, transient.Prefix) {
		errs = append(errs, fmt.Errorf("scrubber.storage_key: %q is inside the reserved %q namespace", k, transient.Prefix))
	}
	if cfg.Scrubber.MaxRetries < 0 {
		errs = append(errs, errors.New("scrubber.max_retries: must be >= 0"))
	}

	if cfg.HTTP.RatePerSec < 0 {
		errs = append(errs, errors.New("http.rate_per_sec: must be >= 0"))
	}
	if cfg.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http.burst: must be >= 0"))
	}
	if _, err := cfg.HTTP.ReadHeaderTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	if _, err := Location(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	for i, t := range cfg.Triggers {
		if strings.TrimSpace(t.Event) == "" {
			errs = append(errs, fmt.Errorf("triggers[%d].event: required", i))
		}
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("triggers[%d].schedule: required", i))
		}
	}
	return errors.Join(errs...)
}

// Location resolves a timezone name; empty means time.Local.
func Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// HTTPAddr returns the listen address with the default applied.
func (c HTTPConfig) HTTPAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

// BusyTimeoutDuration parses busy_timeout; empty or zero means DefaultBusyTimeout.
func (c StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return timeoutField("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// ReadHeaderTimeoutDuration parses read_header_timeout; empty or zero means
// DefaultReadHeaderTimeout.
func (c HTTPConfig) ReadHeaderTimeoutDuration() (time.Duration, error) {
	return timeoutField("http.read_header_timeout", c.ReadHeaderTimeout, DefaultReadHeaderTimeout)
}

// timeoutField parses a Go duration string for the named config field.
// Negative values are rejected; an unset or zero timeout falls back to def.
func timeoutField(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. \"500ms\" or \"5s\")", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
