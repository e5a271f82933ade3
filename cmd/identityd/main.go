// Command identityd serves the password recovery API: request-reset,
// verify-otp and reset-password.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goRecover/identity"
	"github.com/MrEthical07/goRecover/identity/httpapi"
	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/internal/logger"
	"github.com/MrEthical07/goRecover/internal/startup"
	"github.com/MrEthical07/goRecover/internal/telemetry"
)

type seedableDirectory interface {
	identity.Directory
	Add(ctx context.Context, email, passwordHash string) (identity.Account, error)
}

func main() {
	logger.SetPrefix("identityd")
	dev := flag.Bool("dev", false, "use in-process Redis and seed a demo account")
	flag.Parse()
	defer logger.Flush()

	if err := run(*dev); err != nil {
		logger.Errorf("%v", err)
		logger.Flush()
		os.Exit(1)
	}
}

func run(dev bool) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.identityConfig(dev)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), "identityd", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Errorf("tracing shutdown: %v", err)
		}
	}()
	if cfg.OtelEndpoint != "" {
		logger.Infof("tracing: exporting to %s", cfg.OtelEndpoint)
	}

	var client redis.UniversalClient
	if dev {
		c, stop, err := startup.StartMiniredis()
		if err != nil {
			return err
		}
		defer stop()
		client = c
		logger.Info("-dev: using in-process redis")
	} else {
		c, err := startup.ConnectRedisWithRetry(context.Background(), cfg.RedisURL, 60*time.Second)
		if err != nil {
			return err
		}
		defer c.Close()
		client = c
	}

	var dir seedableDirectory
	if cfg.DirectoryPath != "" {
		sqlDir, err := identity.OpenSQLiteDirectory(cfg.DirectoryPath)
		if err != nil {
			return err
		}
		defer sqlDir.Close()
		dir = sqlDir
		logger.Infof("accounts: sqlite %s", cfg.DirectoryPath)
	} else {
		dir = identity.NewMemoryDirectory()
		logger.Info("accounts: in-memory")
	}

	sinks := audit.Fanout{audit.NewJSONWriterSink(os.Stdout)}
	if cfg.AuditFile != "" {
		f, err := os.OpenFile(cfg.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		sinks = append(sinks, audit.NewJSONWriterSink(f))
		logger.Infof("audit: also writing to %s", cfg.AuditFile)
	}

	svc, err := identity.NewService(policy, identity.Backends{
		Redis:     client,
		Directory: dir,
		Notifier:  identity.LogNotifier{Logger: log.New(os.Stderr, "[identityd] ", log.LstdFlags)},
		AuditSink: sinks,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	report := svc.SecurityReport()
	logger.Infof("signing=%s token_ttl=%s code_ttl=%s attempts=%d rate_limited=%t",
		report.SigningAlgorithm, report.TokenTTL, report.CodeTTL, report.MaxCodeAttempts, report.RateLimitingActive)
	for _, w := range report.Warnings {
		logger.Infof("security warning: %s", w)
	}

	if dev {
		if err := seedAccount(context.Background(), svc, dir, cfg.SeedEmail, cfg.SeedPassword); err != nil {
			return err
		}
	}

	router := httpapi.NewRouter(svc, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.AccessLog,
		RequestTimeout: cfg.RequestTimeout,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	var srvWg sync.WaitGroup
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	srvWg.Wait()

	stats := svc.Stats()
	logger.Infof("stopped: requests=%d verified=%d committed=%d audit_dropped=%d",
		stats.RequestAccepted, stats.VerifySuccess, stats.CommitSuccess, svc.AuditDropped())
	return nil
}

func seedAccount(ctx context.Context, svc *identity.Service, dir seedableDirectory, email, pw string) error {
	if _, err := dir.Lookup(ctx, email); err == nil {
		return nil
	}
	hash, err := svc.HashPassword(pw)
	if err != nil {
		return err
	}
	if _, err := dir.Add(ctx, email, hash); err != nil && !errors.Is(err, identity.ErrAccountExists) {
		return err
	}
	logger.Infof("-dev: seeded account %s", email)
	return nil
}
