package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail later at wiring time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	for path, raw := range map[string]string{
		"http.read_header_timeout":  cfg.HTTP.ReadHeaderTimeout,
		"http.write_timeout":        cfg.HTTP.WriteTimeout,
		"http.idle_timeout":         cfg.HTTP.IdleTimeout,
		"session.connect_timeout":   cfg.Session.ConnectTimeout,
		"dispatch.attachment_delay": cfg.Dispatch.AttachmentDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if cfg.HTTP.MaxUploadMB < 0 {
		return fmt.Errorf("http.max_upload_mb must be >= 0")
	}
	if cfg.Dispatch.MaxVideoMB < 0 {
		return fmt.Errorf("dispatch.max_video_mb must be >= 0")
	}
	for _, r := range strings.TrimSpace(cfg.Dispatch.CountryCode) {
		if r < '0' || r > '9' {
			return fmt.Errorf("dispatch.country_code must be digits only")
		}
	}
	if cfg.Logging.Chat.RatePerSec < 0 {
		return fmt.Errorf("logging.chat.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Target) == "" {
		return fmt.Errorf("logging.chat.target is required when logging.chat.enabled=true")
	}

	if sc := cfg.Storage; sc != nil {
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", sc.Driver)
			}
		case "postgres", "pgx":
			if strings.TrimSpace(sc.DSN) == "" {
				return fmt.Errorf("storage.dsn is required when storage.driver=%s", sc.Driver)
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", sc.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.retention", sc.Retention); err != nil {
			return err
		}
	}

	if jc := cfg.Janitor; jc != nil {
		if _, err := ParseDurationField("janitor.stale_upload_age", jc.StaleUploadAge); err != nil {
			return err
		}
		if tz := strings.TrimSpace(jc.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("janitor.timezone: %w", err)
			}
		}
	}
	return nil
}
