package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bulksender/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes the storage DSN).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.country_code", newCfg.Dispatch.CountryCode),
			logx.String("dispatch.attachment_delay", newCfg.Dispatch.AttachmentDelay),
			logx.Int("dispatch.max_video_mb", newCfg.Dispatch.MaxVideoMB),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	var nDriver string
	var oDSN, nDSN bool
	if oldCfg.Storage != nil {
		oDSN = strings.TrimSpace(oldCfg.Storage.DSN) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nDSN = strings.TrimSpace(newCfg.Storage.DSN) != ""
	}
	if !reflect.DeepEqual(stripDSN(oldCfg.Storage), stripDSN(newCfg.Storage)) || oDSN != nDSN {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", nDriver), logx.Bool("storage.dsn_set", nDSN))
	}

	if !reflect.DeepEqual(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
	}

	sort.Strings(changed)
	return changed, attrs
}

func stripDSN(sc *StorageConfig) *StorageConfig {
	if sc == nil {
		return nil
	}
	cp := *sc
	cp.DSN = ""
	return &cp
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "http", "session", "storage", "janitor":
			out = append(out, s)
		}
	}
	return out
}
