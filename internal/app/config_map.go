package app

import (
	"strings"
	"time"

	"bulksender/internal/api"
	"bulksender/internal/config"
	"bulksender/internal/dispatch"
	"bulksender/internal/janitor"
	"bulksender/internal/messenger/whatsapp"
	logx "bulksender/pkg/logx"
)

const defaultUploadDir = "./uploads"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			Target:     lc.Chat.Target,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func uploadDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Dispatch.UploadDir); d != "" {
		return d
	}
	return defaultUploadDir
}

func mapDispatchSettings(cfg *config.Config) (dispatch.Settings, error) {
	dc := cfg.Dispatch
	delay, err := config.ParseOptionalDuration("dispatch.attachment_delay", dc.AttachmentDelay, dispatch.DefaultAttachmentDelay)
	if err != nil {
		return dispatch.Settings{}, err
	}
	maxVideo := int64(dispatch.DefaultMaxVideoBytes)
	if dc.MaxVideoMB > 0 {
		maxVideo = int64(dc.MaxVideoMB) << 20
	}
	return dispatch.Settings{
		CountryCode:     strings.TrimSpace(dc.CountryCode),
		AttachmentDelay: delay,
		MaxVideoBytes:   maxVideo,
	}, nil
}

func mapSessionConfig(cfg *config.Config) (whatsapp.Config, error) {
	timeout, err := config.ParseDurationOrDefault("session.connect_timeout", cfg.Session.ConnectTimeout, 30*time.Second)
	if err != nil {
		return whatsapp.Config{}, err
	}
	return whatsapp.Config{StorePath: strings.TrimSpace(cfg.Session.StorePath), ConnectTimeout: timeout}, nil
}

func mapHTTPConfig(cfg *config.Config) (api.Config, error) {
	hc := cfg.HTTP
	readHeader, err := config.ParseDurationOrDefault("http.read_header_timeout", hc.ReadHeaderTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 2*time.Minute)
	if err != nil {
		return api.Config{}, err
	}
	var maxUpload int64
	if hc.MaxUploadMB > 0 {
		maxUpload = int64(hc.MaxUploadMB) << 20
	}
	return api.Config{
		Addr:              strings.TrimSpace(hc.Addr),
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      write,
		IdleTimeout:       idle,
		AllowedOrigins:    hc.AllowedOrigins,
		MaxUploadBytes:    maxUpload,
		UploadDir:         uploadDir(cfg),
		DisableUI:         hc.DisableUI,
		Pprof:             hc.Pprof,
	}, nil
}

// mapJanitorConfig returns ok=false when maintenance is disabled.
func mapJanitorConfig(cfg *config.Config) (janitor.Config, bool, error) {
	jc := cfg.Janitor
	if jc == nil || !jc.Enabled {
		return janitor.Config{}, false, nil
	}
	stale, err := config.ParseDurationOrDefault("janitor.stale_upload_age", jc.StaleUploadAge, janitor.DefaultStaleUploadAge)
	if err != nil {
		return janitor.Config{}, false, err
	}
	var retention time.Duration
	if cfg.Storage != nil {
		retention, err = config.ParseDurationField("storage.retention", cfg.Storage.Retention)
		if err != nil {
			return janitor.Config{}, false, err
		}
	}
	return janitor.Config{
		Schedule:       strings.TrimSpace(jc.Schedule),
		Timezone:       strings.TrimSpace(jc.Timezone),
		Retention:      retention,
		StaleUploadAge: stale,
		UploadDir:      uploadDir(cfg),
	}, true, nil
}
