package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/api"
	"github.com/coveworks/memberd/internal/api/handler"
	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/database"
	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/pkg/email"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/service"
	"github.com/coveworks/memberd/internal/tokens"
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
	usedCodeRepo := repository.NewUsedCodeRepository(db)
	swipeRepo := repository.NewSwipeRepository(db)
	badgeRepo := repository.NewBadgeChangeRepository(db)

	planIDs, err := store.PlanIDs()
	if err != nil {
		log.Fatalf("Failed to load plan id overrides: %v", err)
	}
	catalog := plan.NewCatalog(cfg, memberRepo, planIDs)

	billingClient := billing.NewClient(&cfg.Billing, mustSecret(store, secrets.KeyProcessorAPI, cfg))
	directoryClient := directory.NewClient(&cfg.Directory, mustSecret(store, secrets.KeyDirectoryAPI, cfg))

	cache := tokens.NewCache(rdb)
	queue := tasks.NewQueue(rdb, cfg.Queue.TaskQueue)
	mail := email.NewService(&cfg.Email)

	authService := service.NewAuthService(memberRepo, cache, queue, cfg)
	signupService := service.NewSignupService(memberRepo, usedCodeRepo, catalog, billingClient, cache, queue, store, cfg)
	reconcileService := service.NewReconcileService(memberRepo, catalog, billingClient, directoryClient, queue, mail, cfg)
	accessService := service.NewAccessService(memberRepo, swipeRepo, badgeRepo, catalog, directoryClient, queue, store, cfg)
	memberService := service.NewMemberService(memberRepo, cache, billingClient, store, cfg)

	router := api.NewRouter(
		handler.NewSignupHandler(signupService, catalog),
		handler.NewAuthHandler(authService, cfg),
		handler.NewMemberHandler(memberService, reconcileService),
		handler.NewAccessHandler(accessService),
		cfg,
	)
	engine := router.Setup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// mustSecret loads an API credential from the store. Production refuses to
// start without one; development runs with it unset.
func mustSecret(store *secrets.Store, name string, cfg *config.Config) string {
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
