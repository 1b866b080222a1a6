package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lanwatch/internal/config"
	"lanwatch/internal/enrich"
	"lanwatch/internal/handler"
	"lanwatch/internal/logging"
	"lanwatch/internal/notify"
	"lanwatch/internal/probe"
	"lanwatch/internal/registry"
	"lanwatch/internal/repository"
	"lanwatch/internal/repository/sqlite"
	"lanwatch/internal/scheduler"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := run(cfg, *configPath, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, configPath string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	// Pick the notifier before wiring the registry so transitions are
	// never silently dropped mid-setup.
	var notifier registry.Notifier = notify.Noop{}
	if cfg.MQTT.Enabled {
		pub, err := notify.NewPublisher(cfg.MQTT, log)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable, notifications disabled")
		} else {
			notifier = pub
			defer pub.Close()
		}
	}

	reg := registry.New(store, notifier, log)

	enricher := enrich.New(store, reg, cfg.Scan.HostConcurrency, log)
	reg.SetEnricher(enricher)
	enricher.Start(ctx)

	// Seed the OUI cache in the background; vendor lookups fall back to
	// the public APIs until it lands.
	refresher := enrich.NewRefresher(store, log)
	go func() {
		if err := refresher.EnsureData(ctx); err != nil {
			log.Warn().Err(err).Msg("oui cache seeding failed")
		}
	}()

	prober := probe.New(probe.Config{
		PortConcurrency: cfg.Scan.PortConcurrency,
		PingConcurrency: cfg.Scan.PingConcurrency,
		PortTimeout:     cfg.Scan.PortTimeout(),
		ARPTimeout:      cfg.Scan.ARPTimeout(),
	}, log)

	orch := scheduler.NewOrchestrator(prober, reg, store, cfg.Scan.HostConcurrency, log)
	sched := scheduler.New(store, orch, log)

	if err := sched.RecoverInterrupted(ctx); err != nil {
		return err
	}
	if err := seedScanConfig(ctx, store, cfg); err != nil {
		return err
	}

	go sched.Run(ctx)

	// Age-out loop: devices that every sweep missed (or that were only
	// ever seen by targeted probes) still go offline eventually.
	go func() {
		offlineAfter := cfg.Scan.OfflineAfter()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := reg.OfflineSweep(ctx, time.Now().UTC().Add(-offlineAfter)); err != nil {
					log.Warn().Err(err).Msg("offline age-out sweep failed")
				}
			}
		}
	}()

	go func() {
		err := config.Watch(ctx, configPath, log, func(next *config.Config) {
			if err := seedScanConfig(ctx, store, next); err != nil {
				log.Warn().Err(err).Msg("apply reloaded scan config failed")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	api := handler.New(reg, sched, prober, log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	enricher.Wait()
	return nil
}

// seedScanConfig pushes the file-configured discovery settings into the
// config table the scheduler reads.
func seedScanConfig(ctx context.Context, store repository.Store, cfg *config.Config) error {
	if len(cfg.Scan.Subnets) > 0 {
		raw, err := json.Marshal(cfg.Scan.Subnets)
		if err != nil {
			return err
		}
		if err := store.SetConfigValue(ctx, scheduler.ConfigKeySubnets, string(raw)); err != nil {
			return err
		}
	}
	return store.SetConfigValue(ctx, scheduler.ConfigKeyInterval, strconv.Itoa(cfg.Scan.IntervalSeconds))
}

func defaultConfigPath() string {
	if p := os.Getenv("LANWATCH_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
