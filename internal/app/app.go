// Package app wires configuration, storage, the schedule engine, the
// delivery pipeline and the Telegram transport into one process.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/dispatch"
	"schedbot/internal/notify"
	"schedbot/internal/observability/pprof"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	telegram "schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	engine  *dispatch.Engine
	notif   *notify.Service
	adapter *telegram.Adapter
	pprof   *pprof.Service
}

// senderProxy breaks the construction cycle between the delivery pipeline
// (which needs a Sender) and the Telegram adapter (which needs the engine).
type senderProxy struct {
	mu sync.RWMutex
	s  notify.Sender
}

func (p *senderProxy) set(s notify.Sender) {
	p.mu.Lock()
	p.s = s
	p.mu.Unlock()
}

func (p *senderProxy) Send(ctx context.Context, chatID int64, text string) error {
	p.mu.RLock()
	s := p.s
	p.mu.RUnlock()
	if s == nil {
		return notify.ErrStopped
	}
	return s.Send(ctx, chatID, text)
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := &senderProxy{}
	notifSvc := notify.New(ncfg, sender, log.With(logx.String("comp", "notify")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := dispatch.New(dcfg, store, notifSvc, log.With(logx.String("comp", "dispatch")))

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(tcfg, engine, store, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	sender.set(adapter)

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(ppc, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		engine:  engine,
		notif:   notifSvc,
		adapter: adapter,
		pprof:   pprofSvc,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional hot-reload: reject bad configs before commit/publish.
	a.cfgm.SetValidator(validateConfig)

	// Register persisted schedules before the loop starts so nothing due
	// is missed on the first tick.
	if err := a.engine.Restore(a.sup.Context()); err != nil {
		return err
	}

	a.notif.Start(a.sup.Context())
	a.engine.Start(a.sup.Context())
	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	a.pprof.Start(a.sup.Context())

	// Config hot-reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", systemd.WatchdogLoop)
	systemd.NotifyReady()

	a.log.Info("app started")
	return nil
}

// applyConfig applies a validated hot-reloaded config to the running
// services. Storage and telegram changes need a restart and only log.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "notify":
			if ncfg, err := mapNotifyConfig(newCfg); err == nil {
				a.notif.Apply(ncfg)
			}
		case "dispatch":
			a.log.Warn("dispatch config changed; restart required for changes to take effect")
		case "pprof":
			if ppc, err := mapPprofConfig(newCfg); err == nil {
				a.pprof.Reconfigure(ctx, ppc)
			}
		case "storage", "telegram":
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	systemd.NotifyStopping()
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// Order: stop intake (telegram), then the loop, then drain delivery,
	// then close storage.
	step("telegram", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("dispatch", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
