package config

// Config is the engine configuration.
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	Watcher   WatcherConfig   `json:"watcher"`
	Bridge    BridgeConfig    `json:"bridge"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Health    HealthConfig    `json:"health"`

	Storage StorageConfig `json:"storage"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
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

// WatcherConfig controls preference-store polling.
//
// Defaults: interval "5s".
type WatcherConfig struct {
	Interval string `json:"interval,omitempty"`
}

// BridgeConfig controls action application.
//
// Defaults: apply_delay "100ms" (pause between sequential applies to bound
// burst load on the scheduler).
type BridgeConfig struct {
	ApplyDelay string `json:"apply_delay,omitempty"`
}

// SchedulerConfig controls job triggering.
type SchedulerConfig struct {
	// Trigger timezone (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// DeliveryConfig controls the outbound pipeline.
//
// Defaults: rate_per_sec 3, sweep_interval "1m", retry_window "24h",
// retention "168h".
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
	RetryWindow   string `json:"retry_window,omitempty"`
	Retention     string `json:"retention,omitempty"`
}

// HealthConfig controls the supervisory loop.
//
// Defaults: interval "30s", processor_queue_max 10, bridge_queue_max 5.
type HealthConfig struct {
	Interval          string `json:"interval,omitempty"`
	ProcessorQueueMax int    `json:"processor_queue_max,omitempty"`
	BridgeQueueMax    int    `json:"bridge_queue_max,omitempty"`
}

// StorageConfig selects the record store backend.
//
// Driver values:
//   - "sqlite": local database file at Path
//   - "postgres": server given by DSN
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig configures the outbound chat channel. Nil disables it
// (deliveries fail with a channel-unconfigured error, recorded per record).
type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string used by the bot long-poller.
	PollTimeout string `json:"poll_timeout,omitempty"`
}
