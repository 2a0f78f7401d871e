// main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/framelane/aegis/access"
	"github.com/framelane/aegis/audit"
	"github.com/framelane/aegis/cache"
	"github.com/framelane/aegis/config"
	"github.com/framelane/aegis/controller"
	"github.com/framelane/aegis/db"
	logger "github.com/framelane/aegis/logging"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/resilience"
	"github.com/framelane/aegis/router"
	"github.com/framelane/aegis/service"
	"github.com/framelane/aegis/util"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	// Initialize Redis
	if err := db.InitRedis(); err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer db.CloseRedis()

	// Initialize EventBus
	eventBus := util.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)

	notificationService := util.NewNotificationService()
	notificationService.AttachTo(eventBus)

	// Initialize external collaborators (signer, subscription resolver,
	// secret provider)
	collaborators, err := service.InitializeCollaborators()
	if err != nil {
		logger.Fatal("Failed to initialize collaborators", zap.Error(err))
	}

	// Initialize the audit log
	auditSecret, err := collaborators.Secrets.AuditSecret()
	if err != nil {
		logger.Fatal("Audit secret not configured", zap.Error(err))
	}
	auditOptions := []audit.Option{}
	if esURL := config.GetString("elasticsearch.url"); esURL != "" {
		indexer, err := audit.NewElasticsearchIndexer(esURL)
		if err != nil {
			logger.Fatal("Failed to initialize Elasticsearch indexer", zap.Error(err))
		}
		auditOptions = append(auditOptions, audit.WithIndexer(indexer))
	}
	auditService, err := audit.NewService(audit.NewMemoryRepository(), auditSecret, auditOptions...)
	if err != nil {
		logger.Fatal("Failed to initialize audit log", zap.Error(err))
	}

	// Initialize the resilience orchestrator
	orchestrator := resilience.New(auditService,
		resilience.WithFailureThreshold(config.GetInt("resilience.failureThreshold")),
		resilience.WithRecoveryTimeout(config.GetDuration("resilience.recoveryTimeout")),
		resilience.WithEventBus(eventBus),
	)

	// Initialize the TTL cache, mirrored to Redis when an encryption key is
	// configured
	cacheOptions := []cache.Option{
		cache.WithDefaultTTL(config.GetDuration("cache.defaultTTL")),
		cache.WithSweepInterval(config.GetDuration("cache.sweepInterval")),
		cache.WithStaleGrace(config.GetDuration("cache.staleGrace")),
	}
	if key := config.GetString("redis.encryptionKey"); key != "" {
		mirror, err := cache.NewRedisMirror(db.RedisClient, []byte(key))
		if err != nil {
			logger.Fatal("Failed to initialize cache mirror", zap.Error(err))
		}
		cacheOptions = append(cacheOptions, cache.WithMirror(mirror))
	}
	ttlCache := cache.New(cacheOptions...)
	ttlCache.StartSweeper(ctx)
	defer ttlCache.Close()

	// Initialize the access issuer
	tokenSecret, err := collaborators.Secrets.TokenSecret()
	if err != nil {
		logger.Fatal("Token secret not configured", zap.Error(err))
	}
	issuer, err := access.NewIssuer(
		collaborators.Signer,
		collaborators.Subscriptions,
		orchestrator,
		auditService,
		ttlCache,
		tokenSecret,
		access.WithEventBus(eventBus),
		access.WithRateLimit(
			config.GetInt("access.rateLimitThreshold"),
			config.GetDuration("access.rateLimitWindow"),
		),
	)
	if err != nil {
		logger.Fatal("Failed to initialize access issuer", zap.Error(err))
	}
	defer issuer.Close()

	// Re-issue grants proactively when their refresh window opens; the
	// bounded retry machine absorbs transient upstream failures.
	eventBus.Subscribe(util.TopicAccessRefreshDue, func(ctx context.Context, ev util.Event) error {
		req, ok := ev.Payload.(model.AccessRequest)
		if !ok {
			return fmt.Errorf("unexpected payload on %s: %T", ev.Topic, ev.Payload)
		}
		grant, err := issuer.HandleRefreshFailure(ctx, req.ResourceID, req.SubjectID, 0)
		if err != nil {
			return err
		}
		if grant == nil {
			logger.Warn("Proactive refresh exhausted, re-authentication required",
				zap.String("resourceID", req.ResourceID))
		}
		return nil
	})

	startMaintenance(ctx, auditService, ttlCache, issuer)

	// Initialize controllers
	controllers := controller.InitializeControllers(issuer, auditService, orchestrator, ttlCache)

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	engine := router.SetupRouter(
		controllers,
		[]byte(config.GetString("auth.sessionSecret")),
		config.GetInt("server.rateLimitRequests"),
		config.GetDuration("server.rateLimitWindow"),
	)

	// Set up the server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler: engine,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

// startMaintenance runs the hourly housekeeping loop: audit retention
// (behind a shared lock so one instance sweeps), cache consistency, and
// rate window pruning.
func startMaintenance(ctx context.Context, auditService audit.Service, ttlCache *cache.TTLCache, issuer *access.Issuer) {
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runMaintenance(ctx, auditService, ttlCache, issuer)
			}
		}
	}()
}

func runMaintenance(ctx context.Context, auditService audit.Service, ttlCache *cache.TTLCache, issuer *access.Issuer) {
	locked, err := db.LockResource(ctx, "audit-retention", 10*time.Minute)
	if err != nil {
		logger.Error("Retention lock unavailable", zap.Error(err))
	} else if locked {
		removed, err := auditService.CleanupOldEntries(ctx, config.GetInt("audit.retentionDays"))
		if err != nil {
			logger.Error("Audit retention sweep failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("Audit retention sweep finished", zap.Int("removed", removed))
		}
		if err := db.UnlockResource(ctx, "audit-retention"); err != nil {
			logger.Error("Failed to release retention lock", zap.Error(err))
		}
	}

	ttlCache.EnsureConsistency(ctx)
	if pruned := issuer.PruneRateWindows(); pruned > 0 {
		logger.Debug("Pruned rate windows", zap.Int("count", pruned))
	}
}
