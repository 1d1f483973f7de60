package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Router    RouterConfig    `json:"router"`
	MCP       MCPConfig       `json:"mcp"`
}

type TelegramConfig struct {
	// Token is a secret; REMINDBOT_TELEGRAM_TOKEN overrides it. Never log it.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// OperatorChatID receives forwarded log records and /reminders all output.
	OperatorChatID int64 `json:"operator_chat_id,omitempty"`
	// AllowedChatIDs restricts which chats may issue commands.
	// Empty means every chat.
	AllowedChatIDs []int64 `json:"allowed_chat_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards records to telegram.operator_chat_id.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// DSN is used by the mysql driver. REMINDBOT_STORAGE_DSN overrides it.
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// SchedulerConfig controls the due-reminder scan.
//
// Enabled is a pointer so an omitted key means enabled.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// IsEnabled reports whether the scan loop should run.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RouterConfig controls reminder delivery.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 20
//   - delivery_timeout: "10s"
//   - history_size: 200
type RouterConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// MCPConfig controls the streamable HTTP tool endpoint inside the daemon.
//
// Prefer binding to localhost; the endpoint has no authentication.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8765"
	Path    string `json:"path,omitempty"` // default: "/mcp"
}
