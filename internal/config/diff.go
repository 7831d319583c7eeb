package config

import (
	"reflect"
	"sort"
	"strings"

	logx "scrubber/pkg/logx"
)

// SummarizeConfigChange returns the sections that changed, log-safe attrs
// describing the new values, and the subset of changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	attrs = make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !sameStorage(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Scrubber != newCfg.Scrubber {
		changed = append(changed, "scrubber")
		restart = append(restart, "scrubber")
		attrs = append(attrs,
			logx.String("scrubber.storage_key", newCfg.Scrubber.StorageKey),
			logx.Int("scrubber.max_retries", newCfg.Scrubber.MaxRetries),
			logx.Bool("scrubber.keep_empty", newCfg.Scrubber.KeepEmpty),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		o, n := oldCfg.HTTP, newCfg.HTTP
		// The limiter is retuned live; the listener is not.
		if o.Enabled != n.Enabled || o.Metrics != n.Metrics || o.HTTPAddr() != n.HTTPAddr() ||
			strings.TrimSpace(o.ReadHeaderTimeout) != strings.TrimSpace(n.ReadHeaderTimeout) {
			restart = append(restart, "http")
		}
		attrs = append(attrs,
			logx.Bool("http.enabled", n.Enabled),
			logx.String("http.addr", n.HTTPAddr()),
			logx.Any("http.rate_per_sec", n.RatePerSec),
			logx.Int("http.burst", n.Burst),
			logx.Bool("http.metrics", n.Metrics),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(normTriggers(oldCfg.Triggers), normTriggers(newCfg.Triggers)) {
		changed = append(changed, "triggers")
		attrs = append(attrs, logx.Int("triggers.count", len(newCfg.Triggers)))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		restart = append(restart, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func sameStorage(a, b StorageConfig) bool {
	return strings.EqualFold(strings.TrimSpace(a.Driver), strings.TrimSpace(b.Driver)) &&
		strings.TrimSpace(a.Path) == strings.TrimSpace(b.Path) &&
		strings.TrimSpace(a.BusyTimeout) == strings.TrimSpace(b.BusyTimeout) &&
		a.CompactEvery == b.CompactEvery
}

func normTriggers(in []TriggerConfig) []TriggerConfig {
	out := make([]TriggerConfig, 0, len(in))
	for _, t := range in {
		out = append(out, TriggerConfig{
			Event:    strings.TrimSpace(t.Event),
			Schedule: strings.TrimSpace(t.Schedule),
		})
	}
	return out
}
