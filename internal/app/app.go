// Package app wires configuration, logging, history, the WhatsApp session,
// the relay and the HTTP server into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bulksender/internal/api"
	"bulksender/internal/config"
	"bulksender/internal/dispatch"
	"bulksender/internal/janitor"
	"bulksender/internal/messenger"
	"bulksender/internal/messenger/whatsapp"
	"bulksender/internal/runtime/supervisor"
	"bulksender/internal/storage"
	logx "bulksender/pkg/logx"
	"bulksender/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	handle  *messenger.Handle
	session *whatsapp.Session
	relay   *dispatch.Relay
	janitor *janitor.Service
	http    *api.Server

	// applied is the last config handed to the running components.
	applied *config.Config
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.LoadDotEnv()
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	a := &App{cfgPath: cfgPath, cfgm: cfgm, log: log, logs: logs, applied: cfg}
	if err := a.build(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	sessCfg, err := mapSessionConfig(cfg)
	if err != nil {
		return a.closeStoreWith(err)
	}
	settings, err := mapDispatchSettings(cfg)
	if err != nil {
		return a.closeStoreWith(err)
	}
	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return a.closeStoreWith(err)
	}

	a.handle = messenger.NewHandle()
	a.logs.SetSender(a.handle)
	a.session = whatsapp.NewSession(sessCfg, a.handle, a.log.With(logx.String("comp", "session")))
	a.relay = dispatch.NewRelay(a.handle, settings, a.log.With(logx.String("comp", "relay")))

	deps := api.Deps{Relay: a.relay, Session: a.session}
	if a.store != nil {
		a.relay.SetRecorder(a.store)
		deps.History = a.store
	}
	a.http = api.New(httpCfg, deps, a.log)

	jc, on, err := mapJanitorConfig(cfg)
	if err != nil {
		return a.closeStoreWith(err)
	}
	if on {
		var pruner janitor.Pruner
		if a.store != nil {
			pruner = a.store
		}
		a.janitor = janitor.New(jc, pruner, a.log.With(logx.String("comp", "janitor")))
	}
	return nil
}

func (a *App) closeStoreWith(err error) error {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchSettings(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	a.sup.Go("http", a.http.Run)
	a.sup.GoRestart("session", a.session.Run, supervisor.WithBackoff(time.Second, time.Minute))
	if a.janitor != nil {
		a.sup.Go("janitor", a.janitor.Run)
	}

	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, func() bool { return a.sup.Err() == nil })
	})
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyConfig(newCfg *config.Config) {
	prev := a.applied
	a.applied = newCfg
	sections, attrs := config.SummarizeConfigChange(prev, newCfg)

	a.logs.Apply(mapLoggingConfig(newCfg))

	if settings, err := mapDispatchSettings(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(settings)
	}

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(pending, ",")))
	}
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	} else {
		a.log.Info("config applied (no changes)")
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// http, session, janitor and the config loops all unwind on the canceled context.
	step("supervisor", 15*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
