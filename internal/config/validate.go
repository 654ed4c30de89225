package config

import (
	"fmt"
	"strings"
)

var knownMethods = map[string]bool{
	"disabled":      true,
	"local-agent":   true,
	"network-relay": true,
	"file-sink":     true,
	"test-sink":     true,
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	method := strings.ToLower(strings.TrimSpace(c.Mail.Method))
	if method == "" {
		return fmt.Errorf("mail.method is required")
	}
	if !knownMethods[method] {
		return fmt.Errorf("mail.method %q is not one of disabled, local-agent, network-relay, file-sink, test-sink", c.Mail.Method)
	}

	switch method {
	case "network-relay":
		if strings.TrimSpace(c.Mail.Relay.Host) == "" {
			return fmt.Errorf("mail.relay.host is required for network-relay")
		}
		if c.Mail.Relay.Port < 0 || c.Mail.Relay.Port > 65535 {
			return fmt.Errorf("mail.relay.port out of range: %d", c.Mail.Relay.Port)
		}
	case "file-sink", "test-sink":
		if strings.TrimSpace(c.Mail.SinkPath) == "" {
			return fmt.Errorf("mail.sink_path is required for %s", method)
		}
	}

	if c.Mail.RateLimitPerMinute < 0 || c.Mail.RateLimitPerHour < 0 {
		return fmt.Errorf("mail rate limits must be >= 0")
	}

	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Janitor != nil {
		if _, err := ParseDurationField("janitor.keep", c.Janitor.Keep); err != nil {
			return err
		}
	}
	return nil
}
