package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	accountcmd "github.com/Deathrow002/Core-Banking/account-service/internal/command"
	"github.com/Deathrow002/Core-Banking/account-service/internal/handler"
	accountqry "github.com/Deathrow002/Core-Banking/account-service/internal/query"
	"github.com/Deathrow002/Core-Banking/account-service/internal/repository"
	"github.com/Deathrow002/Core-Banking/shared/config"
	"github.com/Deathrow002/Core-Banking/shared/envelope"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/logger"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	redisClient "github.com/Deathrow002/Core-Banking/shared/redis"
	"github.com/Deathrow002/Core-Banking/shared/utils"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(config.ServiceAccount)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("account service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Database connection (write store)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := repository.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	// Redis connection (read model store)
	redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redis.Close()

	// Message bus
	broker, closeBroker, err := events.OpenBroker(cfg.BusProvider, redis.Client, cfg.NATSURL, cfg.Service, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	codec, err := envelope.NewCodec(cfg.EncryptionSecret)
	if err != nil {
		return err
	}
	transport := events.NewTransport(broker, codec, log,
		events.WithFailurePolicy(events.FailurePolicy(cfg.PublishFailurePolicy)))

	// --- CQRS wiring ---
	writeRepo := repository.NewAccountWriteRepository(db)
	readRepo := repository.NewAccountReadRepository(db, redis.Client, cfg.AccountCacheTTL, log)

	commandSvc := accountcmd.NewAccountCommandService(writeRepo, readRepo, repository.ApplyMode(cfg.BalanceApplyMode), log)
	querySvc := accountqry.NewAccountQueryService(readRepo)

	consumer := consumerName()
	responder := accountqry.NewResponder(querySvc, transport, consumer, log)

	accountHandler := handler.NewAccountHandler(commandSvc, querySvc)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.LoggingMiddleware(log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Service})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.ForwardToken()
	if cfg.AuthRequired {
		auth = middleware.AuthMiddleware(cfg.JWTSecret)
	}
	accounts := engine.Group("/accounts", auth)
	{
		accounts.POST("/createAccount", accountHandler.CreateAccount)
		accounts.GET("/getAccount", accountHandler.GetAccount)
		accounts.GET("/validateAccount", accountHandler.ValidateAccount)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("account service starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ignoreCanceled(commandSvc.ConsumeBalanceUpdates(ctx, transport, consumer)) })
	g.Go(func() error { return ignoreCanceled(responder.Start(ctx)) })

	return g.Wait()
}

// consumerName identifies this instance inside the shared consumer groups.
func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return utils.GenerateID("account")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
