// Command bot runs the arbitrage engine: it wires every exchange's
// Connection/BalanceObserver/PriceObserver/Trader/Courier behind the
// registry, builds the shared Analyst/Brain/Manager pipeline, starts the
// read-only status API, and keeps the whole cycle alive under the
// auto-reconnect supervisor until told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullstate/arb/internal/adapters"
	"github.com/nullstate/arb/internal/analyst"
	"github.com/nullstate/arb/internal/backup"
	"github.com/nullstate/arb/internal/brain"
	"github.com/nullstate/arb/internal/config"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/httpapi"
	"github.com/nullstate/arb/internal/manager"
	"github.com/nullstate/arb/internal/persistence"
	"github.com/nullstate/arb/internal/registry"
	"github.com/nullstate/arb/internal/sanity"
	"github.com/nullstate/arb/internal/scheduler"
	"github.com/nullstate/arb/internal/supervisor"
	"github.com/nullstate/arb/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// runCycle builds one full bot cycle's collaborators from scratch —
	// registry, exchanges, analyst/brain/manager, scheduler jobs, status
	// API — and blocks until the Supervisor reports the cycle has failed
	// or ctx is cancelled. AutoReconnectBot re-enters this on every
	// failure, so nothing here may be shared with a previous cycle.
	runCycle := func(ctx context.Context) error {
		bus := events.NewBus()
		mgr := events.NewManager(bus, log)
		reg := registry.New(mgr, log)

		for id, creds := range cfg.Exchanges {
			factory, err := adapters.Resolve(id, creds)
			if err != nil {
				return fmt.Errorf("exchange %s: %w", id, err)
			}
			reg.AddExchange(id, factory)
		}

		for _, ex := range reg.Exchanges() {
			ex.Start(ctx)
		}
		defer func() {
			for _, ex := range reg.Exchanges() {
				ex.Stop()
			}
		}()
		for _, ex := range reg.Exchanges() {
			if !ex.Conn.WaitReady(ctx) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("exchange %s did not become ready before startup deadline", ex.ID)
			}
		}

		if found, err := store.LoadSnapshot(ctx, reg.Mapper); err != nil {
			log.Error().Err(err).Msg("failed to load persisted mapper snapshot")
		} else if found {
			log.Info().Msg("restored mapper snapshot from previous run")
		}

		if err := reg.RefreshCatalogs(ctx); err != nil {
			return fmt.Errorf("fetch exchange catalogs: %w", err)
		}
		reg.WireAll()

		an := analyst.New(reg.Mapper, analyst.Config{
			ProcedureTime: cfg.Analyst.ProcedureTime,
			BuyFee:        cfg.Analyst.BuyFee,
			SellFee:       cfg.Analyst.SellFee,
		}, log)
		br := brain.New(an, reg.Mapper, cfg.Brain.Additive, log)

		exchangeViews := make(map[string]httpapi.ExchangeView, len(reg.Exchanges()))
		runnables := make(map[string]supervisor.Runnable, 2*len(reg.Exchanges()))

		for _, ex := range reg.Exchanges() {
			sanityFilter := sanity.New(an, sanity.Config{
				Warmup:   cfg.Analyst.SpikeWarmup,
				Multiple: cfg.Analyst.SpikeMultiple,
			}, log)
			ex.Prices.Subscribe(sanityFilter)

			mgrForExchange := manager.New(ex.ID, reg.Mapper, br, ex.Trader, ex.Courier, mgr, log)
			ex.Balances.Subscribe(mgrForExchange)

			exchangeViews[ex.ID] = ex
			runnables[ex.ID+":balances"] = ex.Balances
			runnables[ex.ID+":prices"] = ex.Prices
		}

		sched := scheduler.New(ctx, log)
		sched.Start()
		defer sched.Stop()

		if err := sched.AddJob("@every 1m", scheduler.JobFunc{
			JobName: "save_snapshot",
			Fn: func(ctx context.Context) error {
				_, err := store.SaveSnapshot(ctx, reg.Mapper)
				return err
			},
		}); err != nil {
			log.Error().Err(err).Msg("failed to schedule snapshot persistence job")
		}

		if err := sched.AddJob("@every 15m", scheduler.JobFunc{
			JobName: "refresh_catalogs",
			Fn: func(ctx context.Context) error {
				if err := reg.RefreshCatalogs(ctx); err != nil {
					return err
				}
				reg.WireAll()
				an.Sync()
				return nil
			},
		}); err != nil {
			log.Error().Err(err).Msg("failed to schedule catalog refresh job")
		}

		if cfg.Backup.Enabled {
			client := backup.NewClient(cfg.Backup, log)
			backupSvc := backup.NewService(client, cfg.DataDir, log)

			if err := sched.AddJob("@every 1h", scheduler.JobFunc{
				JobName: "backup_snapshot",
				Fn: func(ctx context.Context) error {
					if err := backupSvc.Run(ctx); err != nil {
						return err
					}
					return backupSvc.Rotate(ctx, 30*24*time.Hour, 7)
				},
			}); err != nil {
				log.Error().Err(err).Msg("failed to schedule backup job")
			}
		} else {
			log.Info().Msg("backup disabled, skipping backup scheduler job")
		}

		api := httpapi.New(cfg.HTTPPort, an, exchangeViews, mgr, log)
		go func() {
			if err := api.Start(); err != nil {
				log.Error().Err(err).Msg("status api failed")
			}
		}()
		log.Info().Int("port", cfg.HTTPPort).Msg("status api started")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("status api forced to shutdown")
			}
		}()

		sup := supervisor.New(supervisor.DefaultConfig(), mgr, log)
		err := sup.Run(ctx, runnables)

		if _, saveErr := store.SaveSnapshot(context.Background(), reg.Mapper); saveErr != nil {
			log.Error().Err(saveErr).Msg("failed to persist mapper snapshot at cycle exit")
		}

		return err
	}

	botCfg := supervisor.DefaultBotConfig()
	if cfg.NetworkProbeAddr != "" {
		botCfg.NetworkProbeAddr = cfg.NetworkProbeAddr
	}
	bot := supervisor.NewAutoReconnectBot(botCfg, runCycle, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping")
	cancel()
	<-done

	log.Info().Msg("shutdown complete")
}
