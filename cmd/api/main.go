package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/marketplace-support/internal/api/http"
	"github.com/spec-kit/marketplace-support/internal/api/http/handlers"
	"github.com/spec-kit/marketplace-support/internal/auth"
	"github.com/spec-kit/marketplace-support/internal/clock"
	"github.com/spec-kit/marketplace-support/internal/config"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/observability"
	"github.com/spec-kit/marketplace-support/internal/persistence"
	"github.com/spec-kit/marketplace-support/internal/repository"
	"github.com/spec-kit/marketplace-support/internal/repository/memory"
	"github.com/spec-kit/marketplace-support/internal/seed"
	"github.com/spec-kit/marketplace-support/internal/service"
	"github.com/spec-kit/marketplace-support/internal/storage"
	"github.com/spec-kit/marketplace-support/internal/worker"
)

type repositories struct {
	tickets  repository.TicketRepository
	messages repository.TicketMessageRepository
	history  repository.TicketHistoryRepository
	refunds  repository.RefundRepository
	orders   repository.OrderRepository
	products repository.ProductRepository
	agents   repository.AgentRepository
}

func main() {
	seedFile := pflag.String("seed-file", "", "YAML fixtures with orders, products and agents (overrides SEED_FILE)")
	storageDriver := pflag.String("storage-driver", "", "memory or postgres (overrides STORAGE_DRIVER)")
	issueToken := pflag.String("issue-token", "", "print a development token for USER_ID:ROLE and exit")
	pflag.Parse()

	if *storageDriver != "" {
		os.Setenv("STORAGE_DRIVER", *storageDriver)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *seedFile != "" {
		cfg.Storage.SeedFile = *seedFile
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL())
	if *issueToken != "" {
		if err := printToken(tokens, *issueToken); err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dependencies := map[string]handlers.Pinger{}
	var repos repositories
	var idempotency service.IdempotencyStore

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		repos = postgresRepositories(pg)
		dependencies["postgres"] = pg

		keys, err := persistence.OpenBoltIdempotencyStore(cfg.Storage.BoltPath)
		if err != nil {
			logger.Fatal("failed to open idempotency store", zap.Error(err))
		}
		defer keys.Close()
		idempotency = keys
	default:
		repos = memoryRepositories(memory.NewStore())
		idempotency = persistence.NewMemoryIdempotencyStore()
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	if cfg.Storage.SeedFile != "" {
		fixtures, err := seed.LoadFile(cfg.Storage.SeedFile)
		if err != nil {
			logger.Fatal("failed to load seed file", zap.Error(err))
		}
		targets := seed.Targets{Agents: repos.agents, Products: repos.products, Orders: repos.orders}
		if err := seed.Apply(ctx, targets, fixtures, time.Now().UTC(), logger); err != nil {
			logger.Fatal("failed to apply seed data", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher(logger)
	if redis.Enabled() {
		dependencies["redis"] = redis
		events.NewRedisPublisher(redis.Client, cfg.Events.RedisChannel, logger).Register(dispatcher)
	}
	notifications := service.NewNotificationService(logger, cfg.Notification)
	notificationWorker := worker.NewNotificationWorker(notifications, cfg.Events.QueueSize, logger)
	notificationWorker.Register(dispatcher)
	workerCtx, stopWorker := context.WithCancel(ctx)
	notificationWorker.Start(workerCtx)

	files, err := storage.NewFileStorage(cfg.Upload.Dir, cfg.Upload.MaxBytes())
	if err != nil {
		logger.Fatal("failed to init upload storage", zap.Error(err))
	}

	clk := clock.Real()
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		MessageRepo: repos.messages,
		HistoryRepo: repos.history,
		OrderRepo:   repos.orders,
		ProductRepo: repos.products,
		AgentRepo:   repos.agents,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(ticketService, repos.agents)
	refundService := service.NewRefundService(service.RefundDependencies{
		RefundRepo:  repos.refunds,
		OrderRepo:   repos.orders,
		Idempotency: idempotency,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      logger,
	})
	orderService := service.NewOrderService(repos.orders)

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxBytes()) + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies, metrics),
		Tickets:        handlers.NewTicketsHandler(ticketService, files),
		AdminTickets:   handlers.NewAdminTicketsHandler(ticketService, assignmentService),
		Refunds:        handlers.NewRefundsHandler(refundService, files),
		Orders:         handlers.NewOrdersHandler(orderService),
		Uploads:        handlers.NewUploadsHandler(files, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		RateLimit:      httptransport.RateLimitMiddleware(cfg.RateLimit.Requests, cfg.RateLimit.Period()),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopWorker()
	notificationWorker.Wait()
}

func postgresRepositories(pg *persistence.Postgres) repositories {
	pool := pg.PoolHandle()
	return repositories{
		tickets:  repository.NewTicketRepository(pool),
		messages: repository.NewTicketMessageRepository(pool),
		history:  repository.NewTicketHistoryRepository(pool),
		refunds:  repository.NewRefundRepository(pool),
		orders:   repository.NewOrderRepository(pool),
		products: repository.NewProductRepository(pool),
		agents:   repository.NewAgentRepository(pool),
	}
}

func memoryRepositories(store *memory.Store) repositories {
	r := store.Repositories()
	return repositories{
		tickets:  r.Tickets,
		messages: r.Messages,
		history:  r.History,
		refunds:  r.Refunds,
		orders:   r.Orders,
		products: r.Products,
		agents:   r.Agents,
	}
}

// printToken writes a signed token for "USER_ID:ROLE" to stdout.
func printToken(tokens *auth.TokenManager, arg string) error {
	userID, role, ok := strings.Cut(arg, ":")
	principal := domain.Principal{UserID: strings.TrimSpace(userID), Role: domain.Role(strings.ToUpper(strings.TrimSpace(role)))}
	if !ok || principal.UserID == "" || !principal.Role.IsValid() {
		return fmt.Errorf("expected USER_ID:ROLE with role BUYER, SELLER or ADMIN, got %q", arg)
	}
	token, expiresAt, err := tokens.GenerateToken(principal)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
