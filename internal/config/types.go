package config

type Config struct {
	Mail    MailConfig    `json:"mail"`
	Logging LoggingConfig `json:"logging"`

	// Storage backs staged mail and rate records. If omitted or disabled,
	// transactional deferral and rate limiting are unavailable and every
	// send goes straight to the transport.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Queue enables the background-send path: outside a transaction,
	// non-urgent mail is handed to a worker pool instead of blocking the
	// caller on transport I/O.
	Queue *QueueConfig `json:"queue,omitempty"`

	// Janitor prunes expired rate records on a cron schedule.
	Janitor *JanitorConfig `json:"janitor,omitempty"`
}

// MailConfig selects and parameterizes the delivery method.
//
// Method values:
//   - "disabled":      drop everything, no side effects
//   - "local-agent":   pipe to a local sendmail-compatible executable
//   - "network-relay": SMTP relay (host/port/credentials/TLS)
//   - "file-sink":     append to a local mbox file
//   - "test-sink":     like file-sink, intended for test inspection
type MailConfig struct {
	Method string `json:"method"`

	// From is the default sender address when the renderer left the
	// From header empty.
	From string `json:"from,omitempty"`

	// URLBase is the installation's base URL; it determines the sitespec
	// in thread-correlation Message-IDs (e.g. "http://example.com:8080").
	URLBase string `json:"url_base"`

	Relay RelayConfig `json:"relay,omitempty"`

	// AgentPath overrides the local delivery executable.
	// Default: /usr/sbin/sendmail.
	AgentPath string `json:"agent_path,omitempty"`

	// SinkPath is the mbox file used by file-sink and test-sink.
	SinkPath string `json:"sink_path,omitempty"`

	// Rate limits per recipient. Zero disables the corresponding window;
	// both zero disables rate limiting entirely.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerHour   int `json:"rate_limit_per_hour,omitempty"`

	// UseQueue hands non-urgent sends to the job queue when no
	// transaction is open. Mutually exclusive with staging: inside a
	// transaction the staging path always wins.
	UseQueue bool `json:"use_queue,omitempty"`
}

type RelayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // 0 means the default SMTP port
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	TLS      bool   `json:"tls,omitempty"` // STARTTLS upgrade
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`

	File struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`

	// ErrorLog routes warnings and errors into a separate rate-limited
	// file so a flapping transport cannot flood the disk.
	ErrorLog struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path,omitempty"`
		MinLevel   string `json:"min_level,omitempty"`
		RatePerSec int    `json:"rate_per_sec,omitempty"`
	} `json:"error_log,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/mailer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// QueueConfig controls the background send workers.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type QueueConfig struct {
	Enabled   bool `json:"enabled"`
	Workers   int  `json:"workers,omitempty"`
	QueueSize int  `json:"queue_size,omitempty"`
}

// JanitorConfig controls scheduled pruning of expired rate records.
//
// Schedule is a cron expression (default "@hourly"). Keep is how long
// rate records are retained; it must not undercut the longest rate
// window (one hour).
type JanitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Keep     string `json:"keep,omitempty"` // Go duration string
}
