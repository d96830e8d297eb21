package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunlinmail/dunlin/backend"
	"github.com/dunlinmail/dunlin/cache"
	"github.com/dunlinmail/dunlin/config"
	"github.com/dunlinmail/dunlin/db"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/maildrop"
	"github.com/dunlinmail/dunlin/server/pop3"
	"github.com/dunlinmail/dunlin/storage"
)

func main() {
	cfg := config.NewDefaultConfig()

	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")

	// Flags override values from the config file when set explicitly.
	fDbHost := flag.String("dbhost", cfg.Database.Host, "Database host (overrides config)")
	fDbPort := flag.String("dbport", cfg.Database.Port, "Database port (overrides config)")
	fDbUser := flag.String("dbuser", cfg.Database.User, "Database user (overrides config)")
	fDbPassword := flag.String("dbpassword", cfg.Database.Password, "Database password (overrides config)")
	fDbName := flag.String("dbname", cfg.Database.Name, "Database name (overrides config)")
	fS3Endpoint := flag.String("s3endpoint", cfg.S3.Endpoint, "S3 endpoint (overrides config)")
	fS3AccessKey := flag.String("s3accesskey", cfg.S3.AccessKey, "S3 access key (overrides config)")
	fS3SecretKey := flag.String("s3secretkey", cfg.S3.SecretKey, "S3 secret key (overrides config)")
	fS3Bucket := flag.String("s3bucket", cfg.S3.Bucket, "S3 bucket name (overrides config)")
	fPop3Addr := flag.String("pop3addr", cfg.POP3.Addr, "POP3 listener address (overrides config)")
	fAllowDelete := flag.Bool("allowdelete", cfg.POP3.AllowDelete, "Allow session commits to delete messages (overrides config)")
	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output destination (overrides config)")
	flag.Parse()

	if err := config.Load(*configPath, &cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dbhost":
			cfg.Database.Host = *fDbHost
		case "dbport":
			cfg.Database.Port = *fDbPort
		case "dbuser":
			cfg.Database.User = *fDbUser
		case "dbpassword":
			cfg.Database.Password = *fDbPassword
		case "dbname":
			cfg.Database.Name = *fDbName
		case "s3endpoint":
			cfg.S3.Endpoint = *fS3Endpoint
		case "s3accesskey":
			cfg.S3.AccessKey = *fS3AccessKey
		case "s3secretkey":
			cfg.S3.SecretKey = *fS3SecretKey
		case "s3bucket":
			cfg.S3.Bucket = *fS3Bucket
		case "pop3addr":
			cfg.POP3.Addr = *fPop3Addr
		case "allowdelete":
			cfg.POP3.AllowDelete = *fAllowDelete
		case "logoutput":
			cfg.Logging.Output = *fLogOutput
		}
	})

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	s3, err := storage.New(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("failed to initialize object storage", "error", err)
	}

	bodyCache, err := cache.New(cfg.LocalCache.Path,
		cfg.LocalCache.CapacityMB<<20, cfg.LocalCache.MaxObjectSizeMB<<20)
	if err != nil {
		logger.Fatal("failed to initialize local cache", "error", err)
	}
	defer bodyCache.Close()

	purgeInterval, _ := cfg.LocalCache.GetPurgeInterval()
	go runCachePurge(ctx, bodyCache, purgeInterval)

	be := backend.New(database, s3, bodyCache)
	registry := maildrop.NewRegistry()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, be)
	}

	if !cfg.POP3.Start {
		logger.Warn("POP3 listener disabled, nothing to serve")
		<-ctx.Done()
		return
	}

	srv := pop3.New(cfg.POP3, be, registry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("POP3 server failed", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.Close()
		<-errCh
	}
}

func runCachePurge(ctx context.Context, c *cache.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Purge(); err != nil {
				logger.Warn("cache purge failed", "error", err)
			}
		}
	}
}

func serveMetrics(addr string, be *backend.Backend) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := be.TestSettings(ctx); err != nil {
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Error("metrics endpoint failed", "error", err)
	}
}
