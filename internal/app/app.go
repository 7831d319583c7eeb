// Package app wires the scrubber daemon together: config, logging, storage,
// the schedule store and scrub engine, cron triggers, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	apihttp "scrubber/internal/api/http"
	"scrubber/internal/config"
	"scrubber/internal/eventbus"
	"scrubber/internal/metrics"
	"scrubber/internal/runtime/supervisor"
	"scrubber/internal/schedule"
	"scrubber/internal/scrubber"
	"scrubber/internal/storage"
	"scrubber/internal/transient"
	"scrubber/internal/trigger"
	logx "scrubber/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   notifier

	kv       storage.KV
	cache    *transient.Cache
	store    *schedule.Store
	bus      eventbus.Bus
	engine   *scrubber.Engine
	triggers *trigger.Service

	limiter *apihttp.Limiter
	api     *apihttp.Server
	srv     *http.Server

	mu       sync.Mutex
	addr     net.Addr
	stopOnce sync.Once
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	kv, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.Bool("path_set", sc.Path != ""))

	bus := eventbus.New()
	cache := transient.New(kv, log.With(logx.String("comp", "transient")))
	store := schedule.New(kv, log.With(logx.String("comp", "schedule")), scheduleOptions(cfg)...)
	var (
		engine *scrubber.Engine
		prom   *metrics.Prom
		opts   []scrubber.Option
	)
	if cfg.HTTP.Enabled && cfg.HTTP.Metrics {
		prom = metrics.NewProm("scrubber", metrics.Gauges{
			Pending:       func() float64 { return pendingGauge(store) },
			Subscriptions: func() float64 { return float64(len(engine.Subscriptions())) },
		})
		opts = append(opts, scrubber.WithMetrics(prom))
	}
	engine = scrubber.New(store, cache, bus, log.With(logx.String("comp", "scrubber")), opts...)

	triggers := trigger.New(bus, log.With(logx.String("comp", "trigger")))
	loc, err := config.Location(cfg.Timezone)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := triggers.Apply(triggerSpecs(cfg), loc); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("triggers: %w", err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logs,
		sd:       notifier{enabled: cfg.Systemd.Notify, log: log.With(logx.String("comp", "systemd"))},
		kv:       kv,
		cache:    cache,
		store:    store,
		bus:      bus,
		engine:   engine,
		triggers: triggers,
		limiter:  apihttp.NewLimiter(cfg.HTTP.RatePerSec, cfg.HTTP.Burst),
	}
	if cfg.HTTP.Enabled {
		rht, err := readHeaderTimeout(cfg)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		deps := apihttp.Deps{
			Scheduler: engine,
			Cache:     cache,
			Bus:       bus,
			Log:       log.With(logx.String("comp", "http")),
			Limiter:   a.limiter,
			Status:    a.status,
		}
		if prom != nil {
			deps.Metrics = prom
			deps.MetricsHandler = prom.Handler()
		}
		a.api = apihttp.NewRouter(deps)
		a.srv = &http.Server{
			Addr:              cfg.HTTP.HTTPAddr(),
			Handler:           a.api,
			ReadHeaderTimeout: rht,
		}
	}
	return a, nil
}

// Engine exposes the scrub engine for in-process callers.
func (a *App) Engine() *scrubber.Engine { return a.engine }

func (a *App) Cache() *transient.Cache { return a.cache }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Addr is the bound HTTP address, or nil when the API is disabled or not started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs every component. If it fails, whatever it acquired (supervisor,
// storage, log file) is released before returning; a later Stop is a no-op.
func (a *App) Start(ctx context.Context) (err error) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	defer func() {
		if err == nil {
			return
		}
		a.log.Error("start failed", logx.Err(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopFatalError)
	}()

	// Bindings must exist before anything can fire an event.
	if err := a.engine.Initialize(runCtx); err != nil {
		return err
	}

	if a.srv != nil {
		ln, err := net.Listen("tcp", a.srv.Addr)
		if err != nil {
			return fmt.Errorf("http listen %s: %w", a.srv.Addr, err)
		}
		a.mu.Lock()
		a.addr = ln.Addr()
		a.mu.Unlock()
		a.sup.Go("http.serve", func(context.Context) error {
			if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		a.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	}

	a.triggers.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 0)
	a.sup.Go("systemd.watchdog", a.sd.watchdog)

	a.sd.ready()
	a.log.Info("app started",
		logx.Strings("subscriptions", a.engine.Subscriptions()),
		logx.Int("triggers", len(a.triggers.Entries())),
	)
	return nil
}

// pendingGauge counts pairings at scrape time.
func pendingGauge(store *schedule.Store) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sched, err := store.Load(ctx)
	if err != nil {
		return 0
	}
	return float64(sched.Len())
}

func (a *App) logEvent(e eventbus.Event) {
	if e.Type == scrubber.EventScrubbed {
		if res, ok := e.Data.(scrubber.Result); ok && len(res.Failed) > 0 {
			a.log.Warn("scrub left keys scheduled", logx.String("event", res.Event), logx.Strings("failed", res.Failed))
		}
		return
	}
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	return a.triggers.Validate(triggerSpecs(cfg))
}

func (a *App) status() any {
	st := map[string]any{
		"subscriptions": a.engine.Subscriptions(),
		"triggers":      a.triggers.Entries(),
	}
	if a.sup != nil {
		st["tasks"] = a.sup.Tasks()
	}
	return st
}

// Stop shuts everything down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.kv.Close()
	}
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	if a.api != nil {
		a.api.SetDraining(true)
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 5*time.Second, func(c context.Context) error {
		if a.srv == nil {
			return nil
		}
		return a.srv.Shutdown(c)
	})
	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.kv.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
