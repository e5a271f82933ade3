// Command recover is the terminal client of the password recovery flow.
//
// With -dev it runs an identity service in-process and writes passcodes to
// RECOVER_DEV_LOG instead of talking to RECOVER_IDENTITY_URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/gateway"
	"github.com/MrEthical07/goRecover/internal/telemetry"
	"github.com/MrEthical07/goRecover/internal/tui"
	"github.com/MrEthical07/goRecover/metrics/export/prometheus"
)

func main() {
	dev := flag.Bool("dev", false, "run an in-process identity service with a demo account")
	flag.Parse()

	if err := run(*dev); err != nil {
		fmt.Fprintf(os.Stderr, "recover: %v\n", err)
		os.Exit(1)
	}
}

func run(dev bool) error {
	ctx := context.Background()
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	// The HTTP gateway captures the global propagator, so tracing comes first.
	shutdownTracing, err := telemetry.Setup(ctx, "recover", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	var gw goRecover.Gateway
	if dev {
		logFile, err := tea.LogToFile(cfg.DevLogFile, "identity")
		if err != nil {
			return fmt.Errorf("open dev log: %w", err)
		}
		defer logFile.Close()

		inproc, stop, err := startDevService(ctx)
		if err != nil {
			return err
		}
		defer stop()
		gw = inproc
		fmt.Printf("dev mode: account %s, passcodes are written to %s\n", devEmail, cfg.DevLogFile)
	} else {
		httpGW, err := gateway.NewHTTP(cfg.IdentityURL, gateway.HTTPOptions{Timeout: cfg.RequestTimeout})
		if err != nil {
			return err
		}
		gw = httpGW
	}

	m, closeMirror, err := cfg.openMirror(ctx)
	if err != nil {
		return err
	}
	defer closeMirror()

	builder := goRecover.New().
		WithConfig(cfg.storeConfig()).
		WithGateway(gw).
		WithMirror(m)
	if cfg.AuditFile != "" {
		f, err := os.OpenFile(cfg.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open audit file: %w", err)
		}
		defer f.Close()
		builder = builder.WithAuditSink(goRecover.NewJSONWriterSink(f))
	}
	store, err := builder.Build()
	if err != nil {
		return err
	}
	defer store.Close()

	app := tui.NewApp(store, tui.Options{OpTimeout: cfg.RequestTimeout + cfg.RequestTimeout/2})
	defer app.Close()
	if _, err := tea.NewProgram(app).Run(); err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		f, err := os.OpenFile(cfg.MetricsFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		defer f.Close()
		exp := prometheus.NewPrometheusExporter(store).
			WithConstLabels(map[string]string{"mirror": cfg.Mirror, "scope": cfg.MirrorScope})
		if _, err := exp.WriteTo(f); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
