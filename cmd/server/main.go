package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"optionguard/internal/adapter"
	"optionguard/internal/auth"
	"optionguard/internal/config"
	cronrunner "optionguard/internal/cron"
	"optionguard/internal/db"
	"optionguard/internal/escrow"
	"optionguard/internal/events"
	"optionguard/internal/handler"
	"optionguard/internal/logger"
	"optionguard/internal/oracle"
	"optionguard/internal/orchestrator"
	gormrepository "optionguard/internal/repository/gorm"
	"optionguard/internal/stoploss"
	"optionguard/internal/valuation"
)

func main() {
	cfgPath := os.Getenv("OG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("OG_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	if !common.IsHexAddress(cfg.Access.Owner) {
		logger.Fatal("access.owner must be a hex address", zap.String("owner", cfg.Access.Owner))
	}
	ownerAddr := common.HexToAddress(cfg.Access.Owner)
	serviceAddr := ownerAddr
	if common.IsHexAddress(cfg.Access.ServiceIdentity) {
		serviceAddr = common.HexToAddress(cfg.Access.ServiceIdentity)
	}
	acl := auth.NewAccessList(ownerAddr)
	if err := acl.SetAuthorizedCaller(ownerAddr, serviceAddr, true); err != nil {
		logger.Fatal("authorize service identity failed", zap.Error(err))
	}
	for _, raw := range cfg.Access.AuthorizedCallers {
		if !common.IsHexAddress(raw) {
			logger.Warn("skipping invalid authorized caller", zap.String("address", raw))
			continue
		}
		if err := acl.SetAuthorizedCaller(ownerAddr, common.HexToAddress(raw), true); err != nil {
			logger.Warn("authorize caller failed", zap.String("address", raw), zap.Error(err))
		}
	}

	feeds := oracle.NewRegistry()
	for _, fc := range cfg.Oracle.RESTFeeds {
		feeds.Register(fc.FeedID, &oracle.StoreFeed{FeedID: fc.FeedID, Store: store})
	}
	if cfg.Oracle.Stream.Enabled {
		feeds.Register(cfg.Oracle.Stream.FeedID, &oracle.StoreFeed{FeedID: cfg.Oracle.Stream.FeedID, Store: store})
	}

	journal := events.NewJournal(store, logger)
	valuationEngine := &valuation.Engine{
		Access: acl,
		Store:  store,
		Feeds:  feeds,
		Events: journal,
		Logger: logger,
	}
	stopLossEngine := &stoploss.Engine{
		Access: acl,
		Store:  store,
		Feeds:  feeds,
		Events: journal,
		Logger: logger,
	}
	vault := escrow.NewVault(store, logger)
	orch := &orchestrator.Orchestrator{
		Access:    acl,
		Identity:  serviceAddr,
		Valuation: valuationEngine,
		StopLoss:  stopLossEngine,
		Vault:     vault,
		Store:     store,
		Events:    journal,
		Logger:    logger,
	}
	orderAdapter := &adapter.Adapter{
		Valuation: valuationEngine,
		StopLoss:  stopLossEngine,
		Identity:  serviceAddr,
		Logger:    logger,
	}

	// Rebuild custody state for positions that were live when the process
	// last stopped.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		active, err := store.ListActiveProtectedOptions(ctx)
		if err != nil {
			logger.Warn("list active positions failed", zap.Error(err))
		}
		for _, pos := range active {
			if err := vault.Restore(ctx, pos.ID); err != nil {
				logger.Warn("escrow restore failed",
					zap.String("position_id", pos.ID),
					zap.Error(err),
				)
			}
		}
		cancel()
		if len(active) > 0 {
			logger.Info("escrow balances restored", zap.Int("positions", len(active)))
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	positionHandler := &handler.PositionHandler{Orchestrator: orch, Repo: store}
	positionHandler.Register(engine)
	oracleHandler := &handler.OracleHandler{Repo: store, Feeds: feeds}
	oracleHandler.Register(engine)
	adapterHandler := &handler.AdapterHandler{Adapter: orderAdapter}
	adapterHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pollers []*oracle.RESTPoller
	for _, fc := range cfg.Oracle.RESTFeeds {
		poller := &oracle.RESTPoller{
			HTTP:         &http.Client{Timeout: 10 * time.Second},
			Store:        store,
			Logger:       logger,
			FeedID:       fc.FeedID,
			Endpoint:     fc.Endpoint,
			PollInterval: fc.PollInterval,
		}
		pollers = append(pollers, poller)
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("oracle poller stopped",
					zap.String("feed_id", poller.FeedID),
					zap.Error(err),
				)
			}
		}()
	}

	if cfg.Oracle.Stream.Enabled {
		stream := oracle.NewPriceStream(oracle.PriceStreamOptions{
			URL:        cfg.Oracle.Stream.URL,
			FeedID:     cfg.Oracle.Stream.FeedID,
			BackoffMin: cfg.Oracle.Stream.BackoffMin,
			BackoffMax: cfg.Oracle.Stream.BackoffMax,
			Logger:     logger,
		}, store)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price stream stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)

		_, err = cronRunner.Add("feed_health", cfg.Cron.FeedHealth, func(ctx context.Context) {
			for _, poller := range pollers {
				health := poller.Health()
				if health.Status == "healthy" {
					continue
				}
				logger.Warn("feed unhealthy",
					zap.String("feed_id", poller.FeedID),
					zap.String("status", health.Status),
					zap.Stringp("last_error", health.LastError),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register feed health failed", zap.Error(err))
		}

		_, err = cronRunner.Add("expiry_report", cfg.Cron.ExpiryReport, func(ctx context.Context) {
			items, err := store.ListExpiredActiveProtectedOptions(ctx, 100)
			if err != nil {
				logger.Warn("expiry report failed", zap.Error(err))
				return
			}
			// Expiry is checked lazily on execute/cancel; nothing sweeps
			// these, so surface them for operators.
			if len(items) > 0 {
				logger.Info("expired positions still holding escrow", zap.Int("count", len(items)))
			}
		})
		if err != nil {
			logger.Warn("cron register expiry report failed", zap.Error(err))
		}

		_, err = cronRunner.Add("escrow_snapshot", cfg.Cron.EscrowSnapshot, func(ctx context.Context) {
			active, err := store.ListActiveProtectedOptions(ctx)
			if err != nil {
				logger.Warn("escrow snapshot failed", zap.Error(err))
				return
			}
			for _, pos := range active {
				logger.Info("escrow snapshot",
					zap.String("position_id", pos.ID),
					zap.String("balance", vault.Balance(pos.ID).String()),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register escrow snapshot failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
