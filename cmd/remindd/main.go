package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/pkg/logx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "remindd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := config.NewManager(configPath)
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	manager.SetLogger(log)

	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	// Validate reloads by rebuilding the engine-independent pieces only;
	// a config the engine cannot apply is rejected before commit.
	manager.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := config.ParseDurationField("watcher.interval", c.Watcher.Interval); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("health.interval", c.Health.Interval); err != nil {
			return err
		}
		return nil
	})

	updates := manager.Subscribe(1)
	defer manager.Unsubscribe(updates)
	go func() {
		for c := range updates {
			logSvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File: logx.FileConfig{
					Enabled: c.Logging.File.Enabled,
					Path:    c.Logging.File.Path,
				},
			})
			if err := eng.Apply(c); err != nil {
				log.Warn("config apply failed", logx.Err(err))
			}
		}
	}()
	go func() {
		if err := manager.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("sd_notify readiness sent")
	}

	log.Info("remindd running", logx.String("config", configPath))
	<-ctx.Done()
	stop()

	log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return eng.Stop(stopCtx)
}
