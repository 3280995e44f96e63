// Package app assembles the evrond process: config, logging, storage,
// scheduler state, the job engine, the event registry, the broadcast fanout
// and the API server, wired in dependency order with config hot-reload.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evron/internal/audit"
	"evron/internal/broadcast"
	"evron/internal/config"
	"evron/internal/engine"
	"evron/internal/eventbus"
	"evron/internal/httpd"
	"evron/internal/registry"
	"evron/internal/sched"
	"evron/internal/state"
	"evron/internal/storage"
	logx "evron/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	state  *state.Scheduler
	facade *sched.Facade
	audit  *audit.Recorder

	engine   *engine.Service
	registry *registry.Service
	bcast    *broadcast.Service
	api      *httpd.Service

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	st := state.New()
	facade := sched.NewFacade()
	rec := audit.NewRecorder(store, bus, log.With(logx.String("comp", "audit")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, store, st, bus, &engine.ShellRunner{}, log.With(logx.String("comp", "engine")))

	reg := registry.New(registry.Config{
		DefaultTimezone: cfg.Registry.Timezone,
		HistoryLimit:    cfg.Registry.HistoryLimit,
	}, store, st, bus, rec, eng, eng, eng, facade, log.With(logx.String("comp", "registry")))

	bcast := broadcast.New(mapBroadcastConfig(cfg), bus, log.With(logx.String("comp", "broadcast")))

	apiCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpd.New(apiCfg, reg, rec, st, bcast, log.With(logx.String("comp", "httpd")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		state:    st,
		facade:   facade,
		audit:    rec,
		engine:   eng,
		registry: reg,
		bcast:    bcast,
		api:      api,
	}, nil
}

// Registry exposes the coordinator, for embedding evron in a larger process.
func (a *App) Registry() *registry.Service { return a.registry }

// Control exposes the scheduler control facade so an external tick loop can
// flip the grace/ticking flags and receive retick requests.
func (a *App) Control() *sched.Facade { return a.facade }

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.engine.Start(ctx)
	a.bcast.Start(ctx)
	if err := a.api.Start(ctx); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	if err := a.cfgm.Watch(watchCtx); err != nil {
		a.log.Warn("config watch unavailable; hot reload disabled", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	a.log.Info("evrond started")
	return nil
}

// applyReload pushes a validated config into the live services. Storage,
// engine pool sizes and the HTTP bind need a restart; everything else
// applies in place.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))
	a.bcast.Apply(mapBroadcastConfig(cfg))
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.api.Stop(ctx)
	a.bcast.Stop(ctx)
	a.engine.Stop(ctx)
	err := a.store.Close()
	a.log.Info("evrond stopped")
	_ = a.logs.Close()
	return err
}

func validate(cfg *config.Config) error {
	if tz := strings.TrimSpace(cfg.Registry.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("registry.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Registry.HistoryLimit < 0 {
		return fmt.Errorf("registry.history_limit must be >= 0")
	}
	if cfg.Engine != nil {
		if cfg.Engine.Workers < 0 {
			return fmt.Errorf("engine.workers must be >= 0")
		}
		if cfg.Engine.QueueSize < 0 {
			return fmt.Errorf("engine.queue_size must be >= 0")
		}
		if _, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout); err != nil {
			return err
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{}
	if cfg.Engine == nil {
		return out, nil
	}
	timeout, err := config.ParseDurationOrDefault("engine.default_timeout", cfg.Engine.DefaultTimeout, 0)
	if err != nil {
		return engine.Config{}, err
	}
	out.Workers = cfg.Engine.Workers
	out.QueueSize = cfg.Engine.QueueSize
	out.DefaultTimeout = timeout
	out.Groups = cfg.Engine.Groups
	return out, nil
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	out := broadcast.Config{Enabled: true, RatePerSec: 20}
	if cfg.Broadcast != nil {
		out.Enabled = cfg.Broadcast.Enabled
		out.RatePerSec = cfg.Broadcast.RatePerSec
		out.QueueSize = cfg.Broadcast.QueueSize
	}
	return out
}

func mapHTTPConfig(cfg *config.Config) (httpd.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpd.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 0)
	if err != nil {
		return httpd.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute)
	if err != nil {
		return httpd.Config{}, err
	}
	return httpd.Config{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          cfg.HTTP.Addr,
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
