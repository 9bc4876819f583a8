package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/journal-auth/internal/app"
	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/config"
	"github.com/dropDatabas3/journal-auth/internal/metrics"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/all"
)

var version = "dev"

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagPrint      = flag.Bool("print-config", false, "imprime config efectiva (sin secretos) y termina")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			log.Printf("dotenv: cargado %s", *flagEnvFile)
		}
	}

	cfg, err := config.Load(config.ResolvePath(*flagConfigPath))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *flagPrint {
		printConfigSummary(cfg)
		return
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	lg := logger.L()

	if err := audit.Init(audit.Config{
		File:         cfg.Audit.File,
		MaxAge:       config.Duration(cfg.Audit.MaxAge),
		RotationTime: config.Duration(cfg.Audit.RotationTime),
	}); err != nil {
		lg.Fatal("audit", logger.Err(err))
	}
	defer func() { _ = audit.Close() }()

	if err := metrics.Register(nil); err != nil {
		lg.Fatal("metrics", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(bootCtx, cfg)
	cancel()
	if err != nil {
		lg.Fatal("bootstrap", logger.Err(err))
	}
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler,
		ReadTimeout:       config.Duration(cfg.Server.ReadTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:       60 * time.Second,
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		lg.Info("listening",
			logger.String("addr", cfg.Server.Addr),
			logger.String("secrets_driver", cfg.Secrets.Driver),
			logger.String("store_driver", cfg.Store.Driver),
			logger.KID(a.Manager.Snapshot().Active.ID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown solicitado")
	case err := <-srvErr:
		if err != nil {
			lg.Error("http server", logger.Err(err))
		}
		stop()
	case err := <-runErr:
		if err != nil {
			lg.Error("background loops", logger.Err(err))
		}
		stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("shutdown incompleto", logger.Err(err))
	}
	lg.Info("bye")
}

func printConfigSummary(c *config.Config) {
	mask := func(s string) string {
		if s == "" {
			return "(vacío)"
		}
		return "***"
	}
	fmt.Printf("app:        %s (%s)\n", c.App.Name, c.App.Env)
	fmt.Printf("server:     %s internal_key=%s admin_key=%s\n", c.Server.Addr, mask(c.Server.InternalAPIKey), mask(c.Server.AdminAPIKey))
	fmt.Printf("keys:       rotation=%s overlap=%s retired_grace=%s\n", c.Keys.RotationInterval, c.Keys.Overlap, c.Keys.RetiredGrace)
	fmt.Printf("secrets:    driver=%s prefix=%s master_key=%s webhook=%s\n", c.Secrets.Driver, c.Secrets.Prefix, mask(c.Secrets.MasterKey), mask(c.Secrets.WebhookSecret))
	fmt.Printf("store:      driver=%s dsn=%s\n", c.Store.Driver, mask(c.Store.DSN))
	fmt.Printf("tokens:     issuer=%s access=%s refresh=%s m2m=%s\n", c.Tokens.Issuer, c.Tokens.Access.TTL, c.Tokens.Refresh.TTL, c.Tokens.M2M.TTL)
	fmt.Printf("lifecycle:  reuse_scope=%s\n", c.Lifecycle.ReuseScope)
	fmt.Printf("m2m:        registry=%s\n", c.M2M.RegistryFile)
	fmt.Printf("rate:       enabled=%v driver=%s limit=%d/%s\n", c.Rate.Enabled, c.Rate.Driver, c.Rate.Limit, c.Rate.Window)
}
