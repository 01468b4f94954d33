// GuruGeeks is a personalized news aggregation backend. It pulls articles
// from NewsAPI, the Guardian, and the New York Times, normalizes them into
// one schema, and serves filtered and personalized feeds over a REST API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ikehi/GURUGEEKS/internal/api"
	"github.com/ikehi/GURUGEEKS/internal/news/feed"
	"github.com/ikehi/GURUGEEKS/internal/news/ingest"
	"github.com/ikehi/GURUGEEKS/internal/news/normalize"
	"github.com/ikehi/GURUGEEKS/internal/news/sources"
	"github.com/ikehi/GURUGEEKS/internal/news/store"
	"github.com/ikehi/GURUGEEKS/internal/user"
	"github.com/ikehi/GURUGEEKS/pkg/config"
	"github.com/ikehi/GURUGEEKS/pkg/scraper"
	"github.com/ikehi/GURUGEEKS/pkg/storage"
)

var version = "dev"

// Config is the full application configuration, loadable from YAML with
// environment variable overrides.
type Config struct {
	Server struct {
		Port      string `yaml:"port" env:"API_PORT"`
		JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	} `yaml:"server"`
	Database storage.Config `yaml:"database"`
	Providers struct {
		NewsAPIKey  string `yaml:"newsapi_key" env:"NEWS_API_KEY"`
		GuardianKey string `yaml:"guardian_key" env:"GUARDIAN_API_KEY"`
		NYTimesKey  string `yaml:"nytimes_key" env:"NYT_API_KEY"`
	} `yaml:"providers"`
	Ingest struct {
		Interval    config.Duration `yaml:"interval" env:"SCRAPING_INTERVAL"`
		Timeout     config.Duration `yaml:"timeout" env:"INGEST_TIMEOUT"`
		Concurrency int             `yaml:"concurrency" env:"INGEST_CONCURRENCY"`
	} `yaml:"ingest"`
	Feed struct {
		Language string `yaml:"language" env:"FEED_LANGUAGE"`
		Country  string `yaml:"country" env:"FEED_COUNTRY"`
	} `yaml:"feed"`
	Scraper struct {
		MinInterval config.Duration `yaml:"min_interval" env:"SCRAPER_MIN_INTERVAL"`
	} `yaml:"scraper"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.JWTSecret = "change-me-in-production"
	cfg.Database.Driver = storage.SQLite
	cfg.Database.DSN = "data/gurugeeks.db"
	cfg.Ingest.Interval = config.Duration(30 * time.Minute)
	cfg.Ingest.Timeout = config.Duration(60 * time.Second)
	cfg.Ingest.Concurrency = 3
	cfg.Feed.Language = "en"
	cfg.Feed.Country = "us"
	cfg.Scraper.MinInterval = config.Duration(2 * time.Second)
	return cfg
}

func loadConfig(path string) (*Config, error) {
	// A missing .env file is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := defaultConfig()
	if err := config.LoadOrDefault(path, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildRegistry wires one adapter per provider whose API key is configured.
// Missing keys are not fatal; the provider is skipped with a warning.
func buildRegistry(cfg *Config) *sources.Registry {
	registry := sources.NewRegistry(cfg.Ingest.Timeout.Std(), cfg.Ingest.Concurrency)
	if cfg.Providers.NewsAPIKey != "" {
		registry.Register(sources.NewNewsAPISource(cfg.Providers.NewsAPIKey))
	} else {
		slog.Warn("NEWS_API_KEY not configured, skipping newsapi")
	}
	if cfg.Providers.GuardianKey != "" {
		registry.Register(sources.NewGuardianSource(cfg.Providers.GuardianKey))
	} else {
		slog.Warn("GUARDIAN_API_KEY not configured, skipping guardian")
	}
	if cfg.Providers.NYTimesKey != "" {
		registry.Register(sources.NewNYTimesSource(cfg.Providers.NYTimesKey))
	} else {
		slog.Warn("NYT_API_KEY not configured, skipping nytimes")
	}
	return registry
}

func openStores(cfg *Config) (*storage.DB, *user.Store, *store.Store, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	ctx := context.Background()
	// Users first; saved articles reference them.
	if err := db.Migrate(ctx, user.Schema); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx, store.Schema); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, user.NewStore(db), store.NewStore(db), nil
}

func newScheduler(cfg *Config, articles *store.Store) *ingest.Scheduler {
	return ingest.NewScheduler(
		buildRegistry(cfg),
		normalize.New(cfg.Feed.Language, cfg.Feed.Country),
		articles,
		cfg.Ingest.Interval.Std(),
	)
}

func runServe(cfg *Config) error {
	db, users, articles, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scheduler := newScheduler(cfg, articles)
	server := api.NewServer(users, articles, feed.NewEngine(articles), scheduler,
		scraper.NewHTTPFetcher(cfg.Scraper.MinInterval.Std()),
		api.Config{JWTSecret: cfg.Server.JWTSecret})

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	go scheduler.Start(ingestCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Routes(),
	}
	go func() {
		slog.Info("starting API server", "port", cfg.Server.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")
	stopIngest()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runIngestOnce(cfg *Config) error {
	db, _, articles, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := newScheduler(cfg, articles).Trigger(context.Background())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "gurugeeks",
		Short: "Personalized news aggregation backend",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the API server with periodic ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runIngestOnce(cfg)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("gurugeeks", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
