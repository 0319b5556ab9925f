package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/listing-radar/internal/discovery"
	"github.com/sells-group/listing-radar/internal/monitoring"
	"github.com/sells-group/listing-radar/internal/scheduler"
)

var runPort int

// schedulerAPI is the part of the scheduler the HTTP surface drives.
type schedulerAPI interface {
	Status() scheduler.Status
	TickFull(ctx context.Context, trigger discovery.Trigger) (discovery.CycleReport, error)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and the status server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(env.Metrics, monitoring.NewAlerter(cfg.Monitoring))
		sched := scheduler.New(env.Orchestrator, scheduler.Config{
			QuickCheckInterval: cfg.Discovery.QuickCheckInterval(),
			FullScrapeInterval: cfg.Discovery.FullScrapeInterval(),
			QuickCheckCategory: cfg.Discovery.QuickCheckCategory,
			MaxSafetyPages:     cfg.Discovery.MaxSafetyPages,
			ScrapeOnStart:      cfg.Discovery.ScrapeOnStart,
		}, nil, schedulerHooks(env.Metrics, checker))

		return runServices(ctx, sched, checker.Run, func(gctx context.Context) error {
			return startServer(gctx, buildRouter(gctx, sched, env.Metrics, cfg.Server.CORSOrigins), resolvePort(runPort, cfg.Server.Port))
		})
	},
}

// lifecycle is a service started before and stopped after the background
// workers.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// runServices starts sched, then runs the checker and serve until ctx is
// done or serve fails. Nothing runs in the background when Start fails.
func runServices(ctx context.Context, sched lifecycle, checker func(context.Context), serve func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		checker(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return serve(gctx)
	})
	return g.Wait()
}

// schedulerHooks feeds scheduler activity into metrics and alerting.
func schedulerHooks(m *monitoring.Metrics, checker *monitoring.Checker) scheduler.Hooks {
	states := make([]string, len(scheduler.States))
	for i, s := range scheduler.States {
		states[i] = s.String()
	}
	return scheduler.Hooks{
		OnCycle: func(r discovery.CycleReport) {
			checker.Submit(r)
		},
		OnQuickCheck: func(o scheduler.QuickOutcome) {
			m.QuickCheck(string(o))
		},
		OnState: func(s scheduler.State) {
			m.SetState(s.String(), states...)
		},
	}
}

// buildRouter mounts the status surface. Manual scrapes run on ctx so they
// end with the server. Cross-origin requests are allowed only from origins.
func buildRouter(ctx context.Context, sched schedulerAPI, metrics *monitoring.Metrics, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		if sched == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
			return
		}
		writeJSON(w, http.StatusOK, sched.Status())
	})

	r.Post("/scrape", func(w http.ResponseWriter, _ *http.Request) {
		if sched == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
			return
		}
		if sched.Status().MutexHeld {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "scrape in progress"})
			return
		}
		go func() {
			report, err := sched.TickFull(ctx, discovery.TriggerManual)
			if err != nil {
				zap.L().Warn("manual scrape failed", zap.Error(err))
				return
			}
			zap.L().Info("manual scrape complete",
				zap.String("cycle_id", report.ID),
				zap.Duration("duration", report.Duration()),
			)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	runCmd.Flags().IntVar(&runPort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(runCmd)
}
