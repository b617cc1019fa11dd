package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/database"
	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/pkg/cron"
	"github.com/coveworks/memberd/internal/pkg/email"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/service"
	"github.com/coveworks/memberd/internal/tokens"
	"github.com/coveworks/memberd/internal/worker"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	store, err := secrets.NewStore(db, cfg.Secrets.MasterKey)
	if err != nil {
		log.Fatalf("Failed to open secret store: %v", err)
	}

	memberRepo := repository.NewMemberRepository(db)

	planIDs, err := store.PlanIDs()
	if err != nil {
		log.Fatalf("Failed to load plan id overrides: %v", err)
	}
	catalog := plan.NewCatalog(cfg, memberRepo, planIDs)

	billingClient := billing.NewClient(&cfg.Billing, loadSecret(store, secrets.KeyProcessorAPI, cfg))
	directoryClient := directory.NewClient(&cfg.Directory, loadSecret(store, secrets.KeyDirectoryAPI, cfg))

	cache := tokens.NewCache(rdb)
	queue := tasks.NewQueue(rdb, cfg.Queue.TaskQueue)
	mail := email.NewService(&cfg.Email)

	reconcileService := service.NewReconcileService(memberRepo, catalog, billingClient, directoryClient, queue, mail, cfg)
	processor := worker.NewProcessor(memberRepo, catalog, billingClient, directoryClient,
		reconcileService, cache, queue, mail, cfg)

	cronService := cron.NewService(memberRepo, directoryClient, queue, cache, reconcileService.EnqueueSweep)
	cronService.Start()
	defer cronService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		go processor.Run(ctx, i)
	}

	<-ctx.Done()
	log.Println("Worker shutdown complete")
}

func loadSecret(store *secrets.Store, name string, cfg *config.Config) string {
	value, err := store.Get(name)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		if cfg.Server.IsProd() {
			log.Fatalf("Secret %s is not set", name)
		}
		log.Printf("Warning: secret %s is not set", name)
		return ""
	}
	if err != nil {
		log.Fatalf("Failed to load secret %s: %v", name, err)
	}
	return value
}
