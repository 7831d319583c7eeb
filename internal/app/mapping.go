package app

import (
	"strings"
	"time"

	"scrubber/internal/config"
	"scrubber/internal/schedule"
	"scrubber/internal/storage"
	"scrubber/internal/trigger"
	logx "scrubber/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := sc.BusyTimeoutDuration()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		BusyTimeout:  busy,
		CompactEvery: sc.CompactEvery,
	}, nil
}

func scheduleOptions(cfg *config.Config) []schedule.Option {
	return []schedule.Option{
		schedule.WithKey(cfg.Scrubber.StorageKey),
		schedule.WithMaxRetries(cfg.Scrubber.MaxRetries),
		schedule.WithKeepEmpty(cfg.Scrubber.KeepEmpty),
	}
}

func triggerSpecs(cfg *config.Config) []trigger.Spec {
	out := make([]trigger.Spec, 0, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		out = append(out, trigger.Spec{Event: t.Event, Schedule: t.Schedule})
	}
	return out
}

func readHeaderTimeout(cfg *config.Config) (time.Duration, error) {
	return cfg.HTTP.ReadHeaderTimeoutDuration()
}
