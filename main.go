package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/kerbrat/veilleur/api"
	"github.com/kerbrat/veilleur/datastore"
	"github.com/kerbrat/veilleur/dedup"
	"github.com/kerbrat/veilleur/delivery"
	"github.com/kerbrat/veilleur/enhance"
	"github.com/kerbrat/veilleur/processing"
	rh "github.com/kerbrat/veilleur/route-handlers"
	"github.com/kerbrat/veilleur/scheduler"
	"github.com/kerbrat/veilleur/sources"
)

const (
	defaultPort        = "8080"
	defaultDatabaseURL = "user=postgres password=password dbname=veilleur host=localhost port=5432 sslmode=disable"

	defaultTickInterval     = 5 * time.Minute
	defaultWorkerCount      = 4
	defaultQueueSize        = 64
	defaultRunTimeout       = 3 * time.Minute
	defaultCallTimeout      = 30 * time.Second
	defaultDrainTimeout     = 30 * time.Second
	defaultRetentionHours   = 48
	defaultThreshold        = 70
	defaultExpansionTermCap = 5
	defaultProviderRPS      = 2

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOllamaModel   = "llama3"

	defaultNewsLanguage = "en-US"
	defaultNewsCountry  = "US"

	dbPingTimeout     = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
	dbMaxOpenConns    = 25
	dbMaxIdleConns    = 25
	dbConnMaxLifetime = 5 * time.Minute
)

type config struct {
	port        string
	databaseURL string

	tickInterval     time.Duration
	workerCount      int
	queueSize        int
	runTimeout       time.Duration
	callTimeout      time.Duration
	drainTimeout     time.Duration
	retentionWindow  time.Duration
	threshold        int
	expansionTermCap int
	providerRPS      int

	openAIAPIKey  string
	openAIBaseURL string
	openAIModel   string
	ollamaBaseURL string
	ollamaModel   string

	sheetsAccessToken string

	newsLanguage string
	newsCountry  string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, relying on process environment")
	}

	cfg := loadConfig()

	db, err := setupDatabase(cfg.databaseURL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}
	defer db.Close()

	campaignRepo := datastore.NewCampaignRepository(db)

	source := sources.NewGoogleNewsSource(cfg.newsLanguage, cfg.newsCountry)
	sink := delivery.NewSheetsSink(cfg.sheetsAccessToken, cfg.callTimeout)
	deduplicator := dedup.New(cfg.retentionWindow)
	chain := buildProviderChain(cfg)

	executor := processing.NewCampaignExecutor(
		campaignRepo,
		source,
		chain,
		deduplicator,
		sink,
		cfg.threshold,
		cfg.expansionTermCap,
		cfg.runTimeout,
		cfg.callTimeout,
	)

	campaignScheduler := scheduler.New(
		campaignRepo,
		executor,
		cfg.tickInterval,
		cfg.workerCount,
		cfg.queueSize,
		cfg.drainTimeout,
	)
	if err := campaignScheduler.Start(); err != nil {
		log.Fatalf("Scheduler start failed: %v", err)
	}

	campaignHandler := rh.NewCampaignHandler(campaignRepo)
	apiRouter := api.SetupRoutes(campaignHandler)

	mainRouter := chi.NewRouter()
	mainRouter.Mount("/", apiRouter)
	mainRouter.Post("/scheduler/tick", campaignScheduler.HandleTick)

	startServer(cfg.port, mainRouter)

	campaignScheduler.Stop()
}

// buildProviderChain assembles the scoring/expansion providers in
// preference order. Providers without credentials are skipped; the
// chain itself supplies the deterministic fallback.
func buildProviderChain(cfg config) *enhance.Chain {
	limit := rate.Limit(cfg.providerRPS)
	var providers []enhance.ChainProvider

	if cfg.openAIAPIKey != "" {
		providers = append(providers, enhance.ChainProvider{
			Provider: enhance.NewOpenAIProvider("openai", cfg.openAIBaseURL, cfg.openAIAPIKey, cfg.openAIModel, cfg.callTimeout),
			Limiter:  rate.NewLimiter(limit, cfg.providerRPS),
		})
	} else {
		log.Println("WARNING: OPENAI_API_KEY not set, skipping OpenAI provider")
	}

	if cfg.ollamaBaseURL != "" {
		providers = append(providers, enhance.ChainProvider{
			Provider: enhance.NewOllamaProvider(cfg.ollamaBaseURL, cfg.ollamaModel, cfg.callTimeout),
			Limiter:  rate.NewLimiter(limit, cfg.providerRPS),
		})
	}

	if len(providers) == 0 {
		log.Println("WARNING: No AI providers configured, using heuristic scoring only")
	}
	return enhance.NewChain(providers...)
}

func loadConfig() config {
	port := envOr("PORT", defaultPort)

	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		dbURL = defaultDatabaseURL
		log.Println("WARNING: DB_CONNECTION_STRING not set, using default local connection string.")
	}

	sheetsToken := os.Getenv("SHEETS_ACCESS_TOKEN")
	if sheetsToken == "" {
		log.Println("WARNING: SHEETS_ACCESS_TOKEN not set. Sheet delivery will fail at runtime.")
	}

	return config{
		port:        port,
		databaseURL: dbURL,

		tickInterval:     envDuration("TICK_INTERVAL", defaultTickInterval),
		workerCount:      envInt("WORKER_COUNT", defaultWorkerCount),
		queueSize:        envInt("QUEUE_SIZE", defaultQueueSize),
		runTimeout:       envDuration("RUN_TIMEOUT", defaultRunTimeout),
		callTimeout:      envDuration("CALL_TIMEOUT", defaultCallTimeout),
		drainTimeout:     envDuration("DRAIN_TIMEOUT", defaultDrainTimeout),
		retentionWindow:  time.Duration(envInt("RETENTION_WINDOW_HOURS", defaultRetentionHours)) * time.Hour,
		threshold:        envInt("RELEVANCE_THRESHOLD", defaultThreshold),
		expansionTermCap: envInt("EXPANSION_TERM_CAP", defaultExpansionTermCap),
		providerRPS:      envInt("PROVIDER_RPS", defaultProviderRPS),

		openAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		openAIBaseURL: envOr("OPENAI_BASE_URL", defaultOpenAIBaseURL),
		openAIModel:   envOr("OPENAI_MODEL", defaultOpenAIModel),
		ollamaBaseURL: os.Getenv("OLLAMA_BASE_URL"),
		ollamaModel:   envOr("OLLAMA_MODEL", defaultOllamaModel),

		sheetsAccessToken: sheetsToken,

		newsLanguage: envOr("NEWS_LANGUAGE", defaultNewsLanguage),
		newsCountry:  envOr("NEWS_COUNTRY", defaultNewsCountry),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("WARNING: Invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("WARNING: Invalid %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}

func setupDatabase(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection successful")
	return db, nil
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
