package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quanthive/tradegate/internal/api"
	"github.com/quanthive/tradegate/internal/config"
	"github.com/quanthive/tradegate/internal/engine"
	"github.com/quanthive/tradegate/internal/notifications"
	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/pkg/reporting"
)

func riskEngineFromConfig(cfg *config.Config) *risk.Engine {
	return risk.NewEngine(cfg.RiskThresholds(), risk.DefaultLimits())
}

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tiers, err := cfg.TierTable()
	if err != nil {
		log.Fatalf("tier table: %v", err)
	}

	riskEngine := riskEngineFromConfig(cfg)

	var notifier notifications.Notifier = notifications.NopNotifier{}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		notifier = notifications.NewTelegramNotifier(token, os.Getenv("TELEGRAM_CHAT_ID"))
	}

	manager := engine.NewManager(engine.ManagerOptions{
		RiskEngine: riskEngine,
		Tiers:      tiers,
		Budgets:    cfg.Budgets(),
		BreakerCfg: cfg.BreakerSettings(),
		Notifier:   notifier,
		Settings: engine.WorkerSettings{
			Cycle:         time.Duration(cfg.Engine.CycleSeconds) * time.Second,
			StaggerMax:    time.Duration(cfg.Engine.StaggerMaxSeconds) * time.Second,
			TypicalFeeUSD: cfg.Engine.TypicalFeeUSD,
			FeeMultiple:   cfg.Engine.FeeMultiple,
		},
	})

	connections := 0
	for _, acct := range cfg.Accounts {
		role := engine.RoleUser
		if acct.Role == "master" {
			role = engine.RoleMaster
		}
		if _, err := manager.AddAccount(acct.ID, role); err != nil {
			log.Fatalf("account %s: %v", acct.ID, err)
		}
		for _, venueID := range acct.Venues {
			cred, err := config.LoadCredential(acct.ID, venueID)
			if err != nil {
				log.Printf("skipping %s/%s: %v", acct.ID, venueID, err)
				continue
			}
			if err := manager.Connect(acct.ID, venueID, cred); err != nil {
				log.Fatalf("connect %s/%s: %v", acct.ID, venueID, err)
			}
			connections++
		}
	}
	if connections == 0 {
		log.Fatal("no venue connections configured, nothing to do")
	}

	reporter, err := reporting.NewReporter(cfg.Reporting.Directory)
	if err != nil {
		log.Fatalf("reporter: %v", err)
	}
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(manager.Records())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	server := api.NewServer(manager)
	go func() {
		if err := server.Run(":" + cfg.Server.Port); err != nil {
			log.Printf("control plane stopped: %v", err)
		}
	}()

	reporting.NewConsoleReporter().PrintStartupBanner(len(cfg.Accounts), connections, cfg.Server.Port)
	log.Printf("gateway running with %d accounts, %d venue connections", len(cfg.Accounts), connections)

	<-ctx.Done()
	log.Println("shutting down, waiting for in-flight work")

	manager.Stop()
	<-reporterDone
	if err := reporter.Close(); err != nil {
		log.Printf("session report: %v", err)
	}
	log.Println("gateway stopped")
}
