package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/config"
	"github.com/Deathrow002/Core-Banking/shared/correlation"
	"github.com/Deathrow002/Core-Banking/shared/envelope"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/logger"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	redisClient "github.com/Deathrow002/Core-Banking/shared/redis"
	txcmd "github.com/Deathrow002/Core-Banking/transaction-service/internal/command"
	"github.com/Deathrow002/Core-Banking/transaction-service/internal/gateway"
	"github.com/Deathrow002/Core-Banking/transaction-service/internal/handler"
	txqry "github.com/Deathrow002/Core-Banking/transaction-service/internal/query"
	"github.com/Deathrow002/Core-Banking/transaction-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(config.ServiceTransaction)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("transaction service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.AutoMigrate {
		if err := repository.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	// Database connection
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Redis connection
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

	router := correlation.NewRouter()
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "core_banking_correlation_pending",
		Help: "Bus calls waiting for a reply.",
	}, func() float64 { return float64(router.Pending()) })

	var (
		accounts txcmd.AccountGateway
		busGW    *gateway.BusGateway
	)
	switch cfg.GatewayMode {
	case gateway.ModeDirect:
		accounts = gateway.NewHTTPGateway(cfg.AccountServiceURL, cfg.GatewayTimeout, transport, log)
	default:
		busGW = gateway.NewBusGateway(transport, router, cfg.GatewayTimeout, log)
		accounts = busGW
	}
	log.Info("account gateway configured", "mode", cfg.GatewayMode, "bus", cfg.BusProvider, "timeout", cfg.GatewayTimeout)

	// CQRS: write repo, read repo
	writeRepo := repository.NewTransactionWriteRepository(pool)
	readRepo := repository.NewTransactionReadRepository(pool, redis.Client, log)

	// Command + Query services
	commandSvc := txcmd.NewTransactionCommandService(writeRepo, readRepo, accounts, log)
	sweeper := txcmd.NewRecoverySweeper(commandSvc, log, cfg.RecoveryInterval, cfg.RecoveryGrace)
	querySvc := txqry.NewTransactionQueryService(readRepo)

	transactionHandler := handler.NewTransactionHandler(commandSvc, querySvc)

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
	transactions := engine.Group("/transactions", auth)
	{
		transactions.POST("/transfer", transactionHandler.Transfer)
		transactions.POST("/deposit", transactionHandler.Deposit)
		transactions.POST("/withdraw", transactionHandler.Withdraw)
		transactions.GET("", transactionHandler.ListTransactions)
		transactions.GET("/:transacId", transactionHandler.GetTransaction)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if busGW != nil {
		g.Go(func() error { return ignoreCanceled(busGW.Start(ctx)) })
		// Accept traffic only once replies can be received.
		select {
		case <-busGW.Ready():
		case <-ctx.Done():
			return g.Wait()
		}
	}
	g.Go(func() error {
		log.Info("transaction service starting", "port", cfg.Port)
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
	g.Go(func() error { return ignoreCanceled(sweeper.Run(ctx)) })

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
