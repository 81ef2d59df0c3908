// Command voxtodo is the voice-driven to-do server: it records an utterance,
// has a remote endpoint turn it into tasks, stores them and schedules local
// reminders for their due dates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtodo/internal/api"
	"github.com/MrWong99/voxtodo/internal/config"
	"github.com/MrWong99/voxtodo/internal/health"
	"github.com/MrWong99/voxtodo/internal/ingest"
	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/internal/reminder"
	"github.com/MrWong99/voxtodo/internal/resilience"
	"github.com/MrWong99/voxtodo/internal/tasks"
	"github.com/MrWong99/voxtodo/pkg/capture"
	"github.com/MrWong99/voxtodo/pkg/capture/execrec"
	"github.com/MrWong99/voxtodo/pkg/notify"
	"github.com/MrWong99/voxtodo/pkg/notify/local"
	"github.com/MrWong99/voxtodo/pkg/transcribe"
)

const (
	shutdownTimeout        = 15 * time.Second
	reminderCommandTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxtodo.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxtodo: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxtodo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxtodo starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"storage", cfg.Storage.Driver,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("configuration changed; restart to apply", "sections", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(telemetry.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	db, err := config.DefaultRegistry().Create(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.Storage.Driver, "err", err)
		return 1
	}
	defer db.Close()

	// ── Reminders and task store ──────────────────────────────────────────────
	notifier := local.New(deliverer(cfg.Reminders.Command))
	defer notifier.Close()
	sched := reminder.New(notifier, reminder.WithMetrics(metrics))

	events := api.NewHub(api.WithHubMetrics(metrics), api.WithOriginPatterns(originPatterns(cfg.Server.CORSOrigins)...))
	store, err := tasks.New(ctx, db, sched,
		tasks.WithCancelOnDone(cfg.Reminders.CancelOnDoneEnabled()),
		tasks.WithObserver(events.PublishTask),
		tasks.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to load tasks", "err", err)
		return 1
	}

	// ── Transcription and capture ─────────────────────────────────────────────
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "transcription",
		MaxFailures:  cfg.Transcription.Breaker.MaxFailures,
		ResetTimeout: cfg.Transcription.Breaker.ResetTimeout,
	})
	checkers := []health.Checker{{Name: "storage", Check: store.Ping}}

	var manager *ingest.Manager
	if cfg.Transcription.BaseURL != "" && len(cfg.Capture.Command) > 0 {
		parser, err := transcribe.New(cfg.Transcription.BaseURL, cfg.Transcription.APIKey,
			transcribe.WithTimeout(cfg.Transcription.Timeout),
			transcribe.WithGuard(breaker),
		)
		if err != nil {
			slog.Error("failed to create transcription client", "err", err)
			return 1
		}
		perms := execrec.Permissions{Binary: cfg.Capture.Command[0]}
		manager = ingest.NewManager(ingest.ManagerConfig{
			NewSession: func() (*capture.Session, error) {
				rec, err := execrec.New(cfg.Capture.Command, execrec.WithStopTimeout(cfg.Capture.StopTimeout))
				if err != nil {
					return nil, err
				}
				return capture.NewSession(rec, perms, capture.WithDir(cfg.Capture.Dir)), nil
			},
			Parser:   parser,
			Tasks:    store,
			Metrics:  metrics,
			OnChange: events.PublishIngestion,
		})
		checkers = append(checkers, health.Checker{Name: "transcription", Check: breaker.Check, Advisory: true})
	}

	// ── HTTP API ──────────────────────────────────────────────────────────────
	apiCfg := api.Config{
		Tasks:          store,
		Events:         events,
		Health:         health.New(checkers...),
		MetricsHandler: telemetry.MetricsHandler(),
		MetricsPath:    cfg.Telemetry.MetricsPath,
		Metrics:        metrics,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}
	if manager != nil {
		apiCfg.Ingest = manager
	}
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.NewServer(apiCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, manager != nil)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := store.Resync(gctx); err != nil {
			slog.Warn("reminder resync incomplete", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────────
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutdown signal received, stopping…")

		events.Close()
		err := srv.Shutdown(shutdownCtx)
		if manager != nil {
			err = errors.Join(err, manager.Shutdown(shutdownCtx))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Reminder delivery ─────────────────────────────────────────────────────────

// deliverer returns the local notifier callback. It always logs; when argv
// is non-empty it also runs that command with {title} and {body} replaced.
func deliverer(argv []string) func(notify.Notification) {
	return func(n notify.Notification) {
		slog.Info("reminder due", "task_id", n.ID, "title", n.Title, "body", n.Body, "at", n.At)
		if len(argv) == 0 {
			return
		}
		args := make([]string, len(argv))
		r := strings.NewReplacer("{title}", n.Title, "{body}", n.Body)
		for i, a := range argv {
			args[i] = r.Replace(a)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reminderCommandTimeout)
			defer cancel()
			if out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput(); err != nil {
				slog.Warn("reminder command failed", "task_id", n.ID, "err", err, "output", string(out))
			}
		}()
	}
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		out = append(out, o)
	}
	return out
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, voice bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxtodo — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Storage", cfg.Storage.Driver)
	if voice {
		printRow("Transcription", cfg.Transcription.BaseURL)
		printRow("Recorder", cfg.Capture.Command[0])
	} else {
		printRow("Voice capture", "(disabled)")
	}
	if cfg.Reminders.CancelOnDoneEnabled() {
		printRow("Done cancels", "yes")
	} else {
		printRow("Done cancels", "no")
	}
	printRow("Metrics", cfg.Telemetry.MetricsPath)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
