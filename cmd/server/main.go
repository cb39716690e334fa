package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kiliankoe/dropone/internal/api"
	"github.com/kiliankoe/dropone/internal/config"
	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/hub"
	"github.com/kiliankoe/dropone/internal/identity"
	"github.com/kiliankoe/dropone/internal/notify"
	"github.com/kiliankoe/dropone/internal/scheduler"
	"github.com/kiliankoe/dropone/internal/telemetry"
	"github.com/kiliankoe/dropone/internal/ws"
)

var version = "dev" // Set at build time via -ldflags

const usage = `Drop-One - online rock-paper-scissors elimination server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                      Port to listen on (default: 8080)
  DROPONE_STORE             memory, sqlite or postgres (default: memory)
  DROPONE_SQLITE_PATH       SQLite database file (default: ./dropone.db)
  DROPONE_DATABASE_URL      Postgres DSN for the postgres store
  DROPONE_JWT_SECRET        HMAC secret for player bearer tokens
  DROPONE_ADMIN_USER        Admin username for basic auth
  DROPONE_ADMIN_PASS        Admin password for basic auth
  DROPONE_CORS_ORIGINS      Comma separated allowed origins (default: any)
  DROPONE_TICK_INTERVAL     Round timer resolution (default: 1s)
  DROPONE_REAP_INTERVAL     How often idle players are checked (default: 15s)
  DROPONE_IDLE_THRESHOLD    Inactivity before removal (default: 3m)
  DROPONE_INITIAL_LIVES     Lives per player (default: 3)
  DROPONE_WAITING_SECONDS   Buffer before each round (default: 3)
  DROPONE_SELECT_SECONDS    Time to pick two gestures (default: 10)
  DROPONE_EXCLUDE_SECONDS   Time to drop one (default: 10)
  DROPONE_REVEAL_SECONDS    Time results stay up (default: 5)
  DROPONE_FINALS_THRESHOLD  Players left when finals start (default: 4)
  DROPONE_ROSTER_LOCK       Lock window before a scheduled start (default: 1m)
  DROPONE_THREE_WAY         replay or minority (default: replay)
  DROPONE_EXPORT_ENABLED    Append round results to a file (default: false)
  DROPONE_EXPORT_FILE       Export path (default: ./dropone-results.txt)
  DROPONE_OTEL_ENDPOINT     OTLP/HTTP endpoint, tracing is off when empty
  DROPONE_LOG_FORMAT        console or json (default: console)
  DROPONE_LOG_LEVEL         zerolog level (default: info)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(usage, os.Args[0], os.Args[0], os.Args[0])
		return
	}
	if *showVersion {
		fmt.Printf("Drop-One %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, "dropone", version, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("flush traces")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	var verifier *identity.Verifier
	if cfg.JWTSecret != "" {
		if verifier, err = identity.NewVerifier(cfg.JWTSecret); err != nil {
			return err
		}
	}

	fanout := notify.NewFanout(notify.Log{Logger: log.Logger})
	opts := []game.Option{
		game.WithPublisher(fanout),
		game.WithLogger(log.Logger),
		game.WithDefaults(cfg.Game.SessionConfig()),
	}
	if cfg.ExportEnabled {
		opts = append(opts, game.WithExportFile(cfg.ExportFile))
	}
	engine := game.NewEngine(store, opts...)

	gin.SetMode(gin.ReleaseMode)
	r := api.NewRouter(api.RouterConfig{
		Engine:      engine,
		Verifier:    verifier,
		AdminUser:   cfg.AdminUser,
		AdminPass:   cfg.AdminPass,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
		Logger:      log.Logger,
		Ping:        store.Ping,
	})

	sock := ws.New(engine, verifier)
	io := sock.Mount(r)
	defer io.Close()
	fanout.Add(sock)

	h := hub.New(engine.Session, log.Logger)
	r.GET("/ws/sessions/:id", h.Handle)
	fanout.Add(h)

	sched := scheduler.New(engine, scheduler.Options{
		TickInterval:  cfg.TickInterval,
		ReapInterval:  cfg.ReapInterval,
		IdleThreshold: cfg.IdleThreshold,
		Logger:        log.Logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("store", cfg.Store).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
