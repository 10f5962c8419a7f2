package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Control   ControlConfig   `json:"control,omitempty" yaml:"control"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Debug     DebugConfig     `json:"debug,omitempty" yaml:"debug"`
	Storage   *StorageConfig  `json:"storage,omitempty" yaml:"storage"`
}

// TelegramConfig is the user account the broadcast is sent from.
//
// api_hash, phone and password are secrets. Prefer the CASTBOT_* environment
// variables over writing them to the file.
type TelegramConfig struct {
	APIID    int    `json:"api_id" yaml:"api_id"`
	APIHash  string `json:"api_hash" yaml:"api_hash"`
	Phone    string `json:"phone" yaml:"phone"`
	Password string `json:"password,omitempty" yaml:"password"` // 2FA, optional

	SessionFile string `json:"session_file,omitempty" yaml:"session_file"` // default: "castbot.session.json"
	// RatePerSec caps outgoing MTProto calls. 0 disables the limiter.
	RatePerSec      float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec"`
	MTProtoLogLevel string  `json:"mtproto_log_level,omitempty" yaml:"mtproto_log_level"`
}

// BroadcastConfig holds the default pacing. Both values are whole seconds as text,
// the same form an operator types at the console.
type BroadcastConfig struct {
	DelayBetweenMessages   string `json:"delay_between_messages" yaml:"delay_between_messages"`
	IntervalBetweenBatches string `json:"interval_between_batches" yaml:"interval_between_batches"`

	DialogLimit int `json:"dialog_limit,omitempty" yaml:"dialog_limit"` // default: 100
	// CodeTimeout bounds the wait for the confirmation code (Go duration string, default "5m").
	CodeTimeout string `json:"code_timeout,omitempty" yaml:"code_timeout"`
}

// ControlConfig configures the operator bot used by `castbot serve`.
type ControlConfig struct {
	BotToken     string  `json:"bot_token,omitempty" yaml:"bot_token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty" yaml:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty" yaml:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DebugConfig controls the optional debug HTTP server: /healthz, /metrics and
// pprof under /debug/pprof/.
//
// Binding to a non-loopback address needs a token or an explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr,omitempty" yaml:"addr"`   // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty" yaml:"token"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty" yaml:"allow_insecure"`
}

// StorageConfig controls the delivery ledger.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./castbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout"` // Go duration string (sqlite)
}
