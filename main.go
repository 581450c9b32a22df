package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"anno-linker/config"
	"anno-linker/providers"
	"anno-linker/providers/globalise"
	"anno-linker/providers/iiif"
	"anno-linker/services"
	"anno-linker/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	linkDecisionsCounter       *prometheus.CounterVec
	linkConflictsCounter       prometheus.Counter
	placesEmittedCounter       prometheus.Counter
	targetFetchFailuresCounter prometheus.Counter
)

func init() {
	linkDecisionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_decisions_total",
			Help: "Total number of linking requests by consolidation decision.",
		},
		[]string{"decision"},
	)
	linkConflictsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "link_conflicts_total",
			Help: "Total number of linking requests rejected because of overlapping annotations.",
		},
	)
	placesEmittedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gazetteer_places_emitted_total",
			Help: "Total number of places returned by the gazetteer endpoints.",
		},
	)
	targetFetchFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annorepo_target_fetch_failures_total",
			Help: "Total number of target annotations that could not be fetched during aggregation.",
		},
	)
	prometheus.MustRegister(linkDecisionsCounter, linkConflictsCounter, placesEmittedCounter, targetFetchFailuresCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	for _, slug := range cfg.ProjectSlugs() {
		p, _ := cfg.Project(slug)
		if !p.HasToken() {
			logging.Warn("Kein AnnoRepo-Token gesetzt, Schreibzugriffe deaktiviert",
				zap.String("project", slug), zap.String("env", p.TokenEnv))
		}
	}

	// Audit-Trail
	var audit services.AuditRecorder = services.NopAuditRecorder{}
	if cfg.AuditEnabled() {
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			logging.Fatal("Failed to connect to audit database", zap.Error(err))
		}
		recorder, err := services.NewGormAuditRecorder(db, logging)
		if err != nil {
			logging.Fatal("Audit migration failed", zap.Error(err))
		}
		audit = recorder
		logging.Info("Successfully connected to audit database.")
	}

	// Seiten-Cache
	var cache services.PageCache
	if cfg.RedisURL != "" {
		redisCache, err := services.NewRedisPageCache(cfg.RedisURL, cfg.PlaceCacheTTL, logging)
		if err != nil {
			logging.Fatal("Redis page cache setup failed", zap.Error(err))
		}
		cache = redisCache
		logging.Info("Using Redis page cache")
	}

	// Setup Services
	stores := services.NewStores(cfg, logging)
	enrichers := []providers.PlaceProvider{globalise.NewFetcher(cfg, logging)}
	aggregator := services.NewAggregator(cfg, logging, stores, cache, iiif.NewFetcher(cfg, logging), enrichers...)
	linking := services.NewLinkingService(cfg, logging, stores, audit)
	cleanup := services.NewCleanupService(cfg, logging, stores, audit)

	var exporter *services.SnapshotExporter
	if cfg.SnapshotsEnabled() {
		snapshotStore, err := storage.NewSnapshotStore(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		exporter = services.NewSnapshotExporter(aggregator, snapshotStore, logging)
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	setupLinkingRoutes(router, cfg, linking, cleanup, logging)
	setupGazetteerRoutes(router, cfg, aggregator, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		runScheduledJob(context.Background(), cfg, aggregator, exporter, logging)
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// runScheduledJob wärmt Seite 0 aller Projekte vor und exportiert, falls konfiguriert, Snapshots.
func runScheduledJob(ctx context.Context, cfg *config.Config, agg *services.Aggregator, exporter *services.SnapshotExporter, log *zap.Logger) {
	log.Info("Running scheduled gazetteer warmup...")
	counts := agg.Warmup(ctx)
	for project, n := range counts {
		log.Info("Warmup completed", zap.String("project", project), zap.Int("places", n))
	}
	if exporter == nil {
		return
	}
	for _, slug := range cfg.ProjectSlugs() {
		if _, err := exporter.Export(ctx, slug, 0, cfg.KeepSnapshots); err != nil {
			log.Error("Snapshot export failed", zap.String("project", slug), zap.Error(err))
		}
	}
}
