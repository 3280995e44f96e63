package config

// Config is the full evrond configuration file.
//
// The file may be JSON or YAML; YAML is coerced to JSON and both are decoded
// strictly (unknown keys are rejected).
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Registry RegistryConfig `json:"registry"`

	// Engine controls the in-process job engine. If omitted, the engine runs
	// with defaults (4 workers, queue 256).
	Engine *EngineConfig `json:"engine,omitempty"`

	// Broadcast controls the client-update fanout. If omitted, broadcast
	// defaults to enabled with a modest rate limit.
	Broadcast *BroadcastConfig `json:"broadcast,omitempty"`

	HTTP HTTPConfig `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
}

// StorageConfig selects the ordered-list store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./evron.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RegistryConfig controls the event registry.
type RegistryConfig struct {
	// Timezone is the default timezone stamped onto events that don't set
	// one. Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	// HistoryLimit caps completed-job history lists. 0 keeps everything.
	HistoryLimit int `json:"history_limit,omitempty"`
}

// EngineConfig controls the in-process job engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// Groups maps group targets to member hostnames. Events targeting a
	// group fan out (multiplex) or rotate (round-robin) across its members.
	Groups map[string][]string `json:"groups,omitempty"`
}

// BroadcastConfig controls the client-update fanout pipeline.
type BroadcastConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
	QueueSize  int  `json:"queue_size,omitempty"`
}

// HTTPConfig controls the API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof mounts /debug/pprof/ on the same server, behind the same token.
	Pprof bool `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so pprof /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
