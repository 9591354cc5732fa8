package main

import (
	"context"
	"time"

	"sextant/internal/engine"
	"sextant/internal/handlers"
	"sextant/internal/ingest"
	"sextant/internal/metrics"
	"sextant/internal/pipeline"
	"sextant/internal/search"
	"sextant/internal/usage"
	"sextant/pkg/auth"
	"sextant/pkg/clients"
	"sextant/pkg/config"
	"sextant/pkg/database"
	"sextant/pkg/logging"
	"sextant/pkg/monitoring"
	"sextant/pkg/server"
	"sextant/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("sextant")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Sextant (context-window search API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	querierURL := config.RequireEnv("QUERIER_URL")
	ingesterURL := config.RequireEnv("INGESTER_URL")

	// Postgres holds pipeline definitions
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	pgDB := database.MustConnect(dbConfig, logger)
	defer func() { _ = pgDB.Close() }()

	// ClickHouse is the usage accounting sink
	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouse(chConfig, logger)
	defer func() { _ = clickhouse.Close() }()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("sextant", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("sextant", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(pgDB))
	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseHealthCheck(clickhouse))
	healthChecker.AddCheck("querier", monitoring.HTTPServiceHealthCheck("querier", querierURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":    dbURL,
		"CLICKHOUSE_HOST": clickhouseHost,
		"CLICKHOUSE_DB":   clickhouseDB,
		"JWT_SECRET":      jwtSecret,
		"QUERIER_URL":     querierURL,
	}))

	// Create custom search metrics
	serviceMetrics := &metrics.Metrics{
		SearchRequests:   metricsCollector.NewCounter("search_requests_total", "Search requests executed", []string{"operation", "status"}),
		SearchDuration:   metricsCollector.NewHistogram("search_duration_seconds", "Search request duration", []string{"operation"}, nil),
		QueryPendingNums: metricsCollector.NewGauge("query_pending_nums", "Search requests pending admission", []string{"organization"}),
		UsageRecords:     metricsCollector.NewCounter("usage_records_total", "Usage records emitted", []string{"status"}),
	}
	serviceMetrics.PostgresQueries, serviceMetrics.DBDuration, serviceMetrics.DBConnections = metricsCollector.CreateDatabaseMetrics()
	serviceMetrics.DBConnections.WithLabelValues("postgres").Set(1)
	serviceMetrics.DBConnections.WithLabelValues("clickhouse").Set(1)

	// Query engine client with retry and circuit breaker
	engineClient := engine.NewClient(engine.Config{
		BaseURL:      querierURL,
		ServiceToken: serviceToken,
		Timeout:      60 * time.Second,
		Logger:       logger,
		CircuitBreakerConfig: &clients.CircuitBreakerConfig{
			Name:   "querier",
			Logger: logger,
		},
	})

	// Admission policy is selected once at startup
	var admission search.AdmissionPolicy
	if config.GetEnvBool("FEATURE_QUERY_QUEUE_ENABLED", false) {
		logger.Info("Search admission queue enabled")
		admission = search.NewQueueAdmission(serviceMetrics.QueryPendingNums)
	} else {
		admission = search.NewNoopAdmission(serviceMetrics.QueryPendingNums)
	}

	searcher := search.NewSearcher(engineClient, admission, serviceMetrics, logger)

	// Usage accounting sink
	usageReporter := usage.NewClickHouseReporter(clickhouse, logger, serviceMetrics,
		config.GetEnvInt("USAGE_BUFFER_SIZE", 1024))
	defer usageReporter.Close()

	// Pipeline metadata store
	pipelineStore := pipeline.NewStore(pgDB, logger, serviceMetrics)
	if err := pipelineStore.CreateTable(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to initialize pipelines schema")
	}

	// Ingestion forwarding client
	ingestClient := ingest.NewClient(ingest.Config{
		BaseURL:      ingesterURL,
		ServiceToken: serviceToken,
		Logger:       logger,
		CircuitBreakerConfig: &clients.CircuitBreakerConfig{
			Name:   "ingester",
			Logger: logger,
		},
	})

	allowedFields := config.GetEnvList("SEARCH_AROUND_FIELDS", []string{"host", "service", "level", "k8s_namespace_name", "k8s_pod_name"})

	handlers.Init(logger, serviceMetrics, searcher, usageReporter, pipelineStore, ingestClient, allowedFields)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "sextant", healthChecker, metricsCollector)

	api := router.Group("/api")
	api.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		api.GET("/:org_id/:stream_name/_around", handlers.SearchAround)
		api.POST("/:org_id/:stream_name/_around", handlers.SearchAround)
		api.GET("/:org_id/pipelines", handlers.ListPipelines)
		api.POST("/:org_id/pipelines", handlers.CreatePipeline)
		api.DELETE("/:org_id/pipelines/:pipeline_id", handlers.DeletePipeline)
	}

	// Ingest forwarding is service-to-service only
	svc := router.Group("/api")
	svc.Use(auth.ServiceAuthMiddleware(serviceToken))
	{
		svc.POST("/:org_id/:stream_name/_json", handlers.IngestJSON)
	}

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("sextant", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
