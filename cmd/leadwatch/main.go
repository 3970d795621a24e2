// Entry point for the leadwatch service: portal extraction on a jittered
// schedule plus the dashboard HTTP API.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/energum/leadwatch/config"
	"github.com/energum/leadwatch/dbopen"
	"github.com/energum/leadwatch/dispatch"
	"github.com/energum/leadwatch/runlog"
	"github.com/energum/leadwatch/scrape"
	"github.com/energum/leadwatch/store"
	"github.com/energum/leadwatch/web"
)

// Exit codes. Authentication failures get their own code so a supervisor
// can page instead of blindly restarting into a locked account.
const (
	exitErr  = 1
	exitAuth = 2
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	once := flag.Bool("once", false, "run a single extraction and exit")
	flag.Parse()

	// Local development convenience; absence of .env is not an error.
	godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(exitErr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("leadwatch exited", "error", err)
		if errors.Is(err, scrape.ErrAuthentication) {
			os.Exit(exitAuth)
		}
		os.Exit(exitErr)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	db, err := dbopen.Open(filepath.Join(cfg.DataDir, "leadwatch.db"),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(runlog.Schema),
		dbopen.WithSchema(store.Schema),
		dbopen.WithSchema(web.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := runlog.New(db)
	progress := runlog.NewProgress(runlog.DefaultCapacity)
	leadStore := store.New(db)

	notifier, err := dispatch.NewNotifier(cfg.WebhookURL)
	if err != nil {
		return err
	}
	pipeline := dispatch.NewPipeline(cfg.StateFile, cfg.LogFile, notifier, logger)
	engine := scrape.New(cfg, ledger, progress, logger)

	// doRun assumes the running flag is already held by the caller.
	doRun := func(ctx context.Context) error {
		leads, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		delivered, err := pipeline.Process(ctx, leads)
		if err != nil {
			logger.Error("save dedup state", "error", err)
		}
		inserted, err := leadStore.SaveLeads(ctx, leads)
		if err != nil {
			logger.Error("persist leads", "error", err)
		}
		logger.Info("run complete",
			"extracted", len(leads), "delivered", delivered, "stored", inserted)

		if len(leads) > 0 {
			if err := dispatch.GenerateReadme(leads[0], cfg.ReadmeFile); err != nil {
				logger.Warn("regenerate webhook readme", "error", err)
			}
		}
		return nil
	}

	runOnce := func(ctx context.Context) error {
		if !progress.TryStart() {
			return errors.New("a run is already in flight")
		}
		defer progress.Done()
		return doRun(ctx)
	}

	if once {
		return runOnce(ctx)
	}

	trigger := newTrigger(ctx, progress, logger, doRun)

	if len(cfg.SessionSecret) == 0 {
		return errors.New("SESSION_SECRET is required for the dashboard")
	}
	// Derive a fixed 32-byte JWT secret from whatever the operator set.
	secretHash := sha256.Sum256([]byte(cfg.SessionSecret))

	users := web.NewUsers(db)
	server := web.NewServer(users, leadStore, ledger, progress, trigger,
		secretHash[:], cfg.DataDir, logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx, ":"+cfg.Port) }()

	schedErr := make(chan error, 1)
	go func() { schedErr <- schedule(ctx, cfg.ScrapeInterval, logger, runOnce) }()

	select {
	case err := <-serveErr:
		return err
	case err := <-schedErr:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		<-serveErr
		return nil
	}
}

// newTrigger returns the dashboard's manual run trigger. The running flag
// is claimed before the trigger reports success, so two near-simultaneous
// triggers cannot both be told a run started; the run itself is
// fire-and-forget, observed through the progress feed.
func newTrigger(ctx context.Context, progress *runlog.Progress, logger *slog.Logger,
	doRun func(context.Context) error) func() error {
	return func() error {
		if !progress.TryStart() {
			return errors.New("a run is already in flight")
		}
		go func() {
			defer progress.Done()
			if err := doRun(ctx); err != nil {
				logger.Error("triggered run failed", "error", err)
			}
		}()
		return nil
	}
}

// schedule runs fn forever on a jittered interval. An authentication
// failure stops the scheduler; other failures are logged and the next
// cycle proceeds.
func schedule(ctx context.Context, interval time.Duration, logger *slog.Logger,
	fn func(context.Context) error) error {
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, scrape.ErrAuthentication) {
				return err
			}
			logger.Error("scheduled run failed", "error", err)
		}

		delay := jitter(interval)
		logger.Info("next run scheduled", "in", delay.Round(time.Second))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// jitter spreads runs across ±20% of the base interval so the portal never
// sees a metronome.
func jitter(base time.Duration) time.Duration {
	spread := float64(base) * 0.2
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

func newLogger() *slog.Logger {
	var lvl slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func init() {
	// flag.Usage carries the service one-liner for operators.
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"leadwatch: portal lead extraction service\n\nUsage:\n")
		flag.PrintDefaults()
	}
}
