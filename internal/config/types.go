package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Scrubber ScrubberConfig `json:"scrubber"`
	HTTP     HTTPConfig     `json:"http"`

	// Timezone used to evaluate trigger schedules (IANA name, e.g. "Asia/Jakarta").
	// Empty means the local zone.
	Timezone string          `json:"timezone,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty"`

	Systemd SystemdConfig `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value backend holding both the schedule
// document and the transients.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./scrubber.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver       string `json:"driver"` // memory | file | sqlite
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // Go duration string (sqlite)
	CompactEvery int    `json:"compact_every,omitempty"` // journal writes between snapshots (file)
}

// ScrubberConfig tunes the schedule store.
//
// Defaults (when fields are omitted/zero):
//   - storage_key: "_scrubber_data"
//   - max_retries: 8
//   - keep_empty: false (events with no keys are pruned)
type ScrubberConfig struct {
	StorageKey string `json:"storage_key,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	KeepEmpty  bool   `json:"keep_empty,omitempty"`
}

// HTTPConfig controls the optional HTTP API.
//
// Security note: the API has no authentication. Bind it to loopback unless
// something in front of it does.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// Token bucket per process. RatePerSec <= 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`

	// Metrics serves Prometheus metrics at /metrics.
	Metrics bool `json:"metrics,omitempty"`
}

// TriggerConfig fires Event whenever the cron Schedule matches.
// Schedule accepts 5 or 6 fields (optional seconds) and descriptors such as
// "@hourly" or "@every 10m".
type TriggerConfig struct {
	Event    string `json:"event"`
	Schedule string `json:"schedule"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING and watchdog pings over $NOTIFY_SOCKET.
	Notify bool `json:"notify"`
}
