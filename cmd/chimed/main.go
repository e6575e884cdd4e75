package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"chime/internal/alert"
	"chime/internal/alert/telegram"
	"chime/internal/clock"
	"chime/internal/config"
	"chime/internal/eventbus"
	"chime/internal/httpapi"
	"chime/internal/storage"
	"chime/internal/task/scheduler"
	"chime/pkg/logx"
)

const shutdownGrace = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./chime.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	manager := config.NewManager(cfgPath, boot)
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.Log.Logx())
	defer logSvc.Close()

	bus := eventbus.New()
	clk := clock.System()

	deps := scheduler.Deps{
		Clock: clk,
		Bus:   bus,
		Log:   log,
	}

	if cfg.Storage.Path != "" {
		repo, err := storage.Open(cfg.Storage.Path, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer repo.Close()
		deps.Repo = repo
	} else {
		log.Warn("no storage path configured, schedule will not survive restarts")
	}

	registry := alert.NewRegistry(clk, bus, log)
	alert.RegisterBuiltins(registry, bus)
	registry.SetEnabled(cfg.Alerts.On())
	if err := registry.SetQuietHours(cfg.Alerts.Quiet.QuietHours()); err != nil {
		return err
	}
	if cfg.Telegram != nil {
		tg, err := telegram.New(telegram.Config{
			Token:             cfg.Telegram.Token,
			ChatID:            cfg.Telegram.ChatID,
			MinPriority:       cfg.Telegram.MinPriority,
			MessagesPerMinute: cfg.Telegram.MessagesPerMinute,
		}, log)
		if err != nil {
			// Telegram being down must not keep local alerts from working.
			log.Error("telegram channel unavailable", logx.Err(err))
		} else {
			defer tg.Close()
			registry.Register(tg)
		}
	}
	deps.Executor = alert.NewExecutor(registry)

	settings, err := cfg.Scheduler.Settings()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:     settings.MaxConcurrent,
		AdmissionDelay:    settings.AdmissionDelay,
		DefaultMaxRetries: settings.DefaultMaxRetries,
		DefaultTimeout:    settings.DefaultTimeout,
		HistorySize:       settings.HistorySize,
	}, deps)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var httpSrv *http.Server
	if cfg.HTTP.Enabled {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewServer(sched, registry, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("http api listening", logx.String("addr", cfg.HTTP.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http api stopped", logx.Err(err))
			}
		}()
	}

	// Hot reload: log level/sinks and the alert gate follow the file;
	// scheduler limits and listen addresses need a restart.
	go func() { _ = manager.Watch(ctx) }()
	updates := manager.Subscribe(1)
	defer manager.Unsubscribe(updates)
	go func() {
		for next := range updates {
			logSvc.Apply(next.Log.Logx())
			registry.SetEnabled(next.Alerts.On())
			if err := registry.SetQuietHours(next.Alerts.Quiet.QuietHours()); err != nil {
				log.Warn("quiet hours not applied", logx.Err(err))
			}
		}
	}()

	notifyReady(log)
	stopWatchdog := startWatchdog(ctx, log)
	defer stopWatchdog()

	log.Info("chimed started", logx.String("config", cfgPath))
	<-ctx.Done()

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler drain incomplete", logx.Err(err))
	}
	return nil
}

func notifyReady(log logx.Logger) {
	sent, err := sd.SdNotify(false, sd.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify: ready")
	}
}

// startWatchdog feeds the systemd watchdog at half the configured interval.
// Outside systemd (or with the watchdog disabled) it is a no-op.
func startWatchdog(ctx context.Context, log logx.Logger) func() {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
			}
		}
	}()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	return func() { close(done) }
}
