package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/guard"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// watcher re-validates the session and rebuilds the roster on a timer,
// exporting what it saw as gauges.
type watcher struct {
	a      *app
	logger *slog.Logger

	campers       *prometheus.GaugeVec
	authenticated prometheus.Gauge
	cycles        *prometheus.CounterVec
}

func newWatcher(a *app) *watcher {
	w := &watcher{
		a:      a,
		logger: a.logger.With(slog.String("component", "watch")),
		campers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "camperstories_admin",
			Name:      "roster_campers",
			Help:      "Campers in the last roster, by completeness.",
		}, []string{"state"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camperstories_admin",
			Name:      "session_authenticated",
			Help:      "1 while the admin session is authenticated.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camperstories_admin",
			Name:      "watch_cycles_total",
			Help:      "Watch cycles by result.",
		}, []string{"result"}),
	}

	a.registry.MustRegister(w.campers, w.authenticated, w.cycles)

	return w
}

// cycle runs one pass. It returns an error only when watching should stop:
// the session is gone or the context ended. Anything else is logged and
// counted.
func (w *watcher) cycle(ctx context.Context) error {
	if err := w.a.gateway.RefreshAuthState(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	snap := w.a.gateway.Session().Current()
	if d := guard.Protect(snap); d.Outcome != guard.RenderChild {
		w.authenticated.Set(0)
		w.cycles.WithLabelValues("signed_out").Inc()

		// A transient validation failure leaves the stored credentials in
		// place; try again next tick.
		if snap.Err != nil && apperrors.IsTransient(snap.Err) {
			w.logger.Warn("session check failed", slog.String("error", snap.Err.Error()))
			return nil
		}

		return &redirectError{location: d.Location, reason: d.Reason}
	}

	w.authenticated.Set(1)

	roster, err := w.a.dash.BuildRoster(ctx)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrSessionExpired):
		w.authenticated.Set(0)
		w.cycles.WithLabelValues("expired").Inc()

		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		w.cycles.WithLabelValues("failure").Inc()
		w.logger.Warn("building roster", slog.String("error", err.Error()))

		return nil
	}

	sum := roster.Summary()
	w.campers.WithLabelValues("complete").Set(float64(sum.Total - sum.Incomplete))
	w.campers.WithLabelValues("incomplete").Set(float64(sum.Incomplete))
	w.cycles.WithLabelValues("success").Inc()

	w.logger.Info("roster refreshed",
		slog.Int("total", sum.Total),
		slog.Int("incomplete", sum.Incomplete),
	)

	return nil
}

// loop runs cycle now and then every interval until ctx ends or a cycle
// asks to stop.
func (w *watcher) loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "watch")
	interval := fs.Duration("interval", a.cfg.WatchInterval, "time between checks (default $WATCH_INTERVAL)")
	addr := fs.String("addr", a.cfg.MetricsAddr, "metrics listen address, empty to disable (default $METRICS_ADDR)")

	if err := parse(fs, args); err != nil {
		return err
	}

	if *interval <= 0 {
		return usageError{errors.New("watch: -interval must be positive")}
	}

	w := newWatcher(a)
	g, gctx := errgroup.WithContext(ctx)

	if *addr != "" {
		ln, err := net.Listen("tcp", *addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}

		srv := server.New(*addr, server.NewMux(server.MuxConfig{
			Gatherer: a.registry,
			Session:  a.gateway.Session(),
			Logger:   a.logger,
		}))

		w.logger.Info("serving metrics", slog.String("listen", ln.Addr().String()))

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})
	}

	g.Go(func() error {
		return w.loop(gctx, *interval)
	})

	return g.Wait()
}
