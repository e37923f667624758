// Package watch drives the periodic refresh loop: one subscription,
// one watched platform, a snapshot of matching arrivals printed every
// interval. It is the CLI's engine, kept separate so it can be tested
// against a fake site.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"imhd2txt/pkg/imhd"
	"imhd2txt/pkg/metrics"
	"imhd2txt/pkg/subscription"
	"imhd2txt/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	BaseURL      string
	StopID       int
	Platform     string
	Platforms    []string // subscribe set; defaults to just Platform
	Routes       []string
	Interval     time.Duration
	ResolveNames bool
	Once         bool
	Out          io.Writer // snapshot destination, default os.Stdout
}

type Watcher struct {
	config Config
	client *imhd.Client
	sub    *subscription.Subscription
	out    io.Writer
	tracer trace.Tracer
}

func New(config Config) (*Watcher, error) {
	if config.StopID <= 0 {
		return nil, fmt.Errorf("a stop id is required")
	}
	if config.Platform == "" {
		return nil, fmt.Errorf("a platform is required")
	}
	if len(config.Routes) == 0 {
		return nil, fmt.Errorf("at least one route number is required")
	}
	if config.Interval <= 0 {
		config.Interval = 120 * time.Second
	}

	sub, err := subscription.New(subscription.Config{
		BaseURL:   config.BaseURL,
		StopID:    config.StopID,
		Platform:  config.Platform,
		Platforms: config.Platforms,
	})
	if err != nil {
		return nil, err
	}

	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	return &Watcher{
		config: config,
		client: imhd.NewClient(config.BaseURL),
		sub:    sub,
		out:    out,
		tracer: otel.Tracer("watch"),
	}, nil
}

// Run refreshes immediately, then once per interval until the context
// is cancelled. Refresh failures are logged and the loop carries on:
// the push channel has its own recovery, and a single bad cycle is not
// a reason to stop watching.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.sub.Close()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	slog.Info("watch started",
		"stop", w.config.StopID,
		"platform", w.config.Platform,
		"routes", w.config.Routes,
		"interval", w.config.Interval,
	)

	if err := w.refreshOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("refresh failed", "error", err)
	}
	if w.config.Once {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.refreshOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("refresh failed", "error", err)
			}
		}
	}
}

func (w *Watcher) refreshOnce(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "watch.refresh_once",
		trace.WithAttributes(
			attribute.Int("stop.id", w.config.StopID),
			attribute.String("stop.platform", w.config.Platform),
			attribute.StringSlice("routes", w.config.Routes),
		),
	)
	defer span.End()

	start := time.Now()
	if metrics.IsEnabled() {
		metrics.WatchCyclesTotal.Add(ctx, 1)
	}

	if err := w.sub.Fetch(ctx); err != nil {
		span.RecordError(err)
		if metrics.IsEnabled() {
			metrics.WatchRefreshErrors.Add(ctx, 1)
		}
		return fmt.Errorf("refreshing subscription: %w", err)
	}

	var resolver subscription.DestinationResolver
	if w.config.ResolveNames {
		resolver = w.client
	}

	arrivals, err := w.sub.Estimates(ctx, w.config.Platform, w.config.Routes, resolver)
	if err != nil {
		if errors.Is(err, subscription.ErrNoData) {
			// The channel stayed silent for this platform. Not fatal:
			// the next cycle may catch a frame.
			slog.Warn("no data received for platform yet", "platform", w.config.Platform)
			return nil
		}
		span.RecordError(err)
		if metrics.IsEnabled() {
			metrics.WatchRefreshErrors.Add(ctx, 1)
		}
		return err
	}

	snap := types.Snapshot{
		StopID:   w.config.StopID,
		Platform: w.config.Platform,
		Taken:    time.Now(),
		Arrivals: arrivals,
	}
	w.printSnapshot(snap)

	span.SetAttributes(attribute.Int("arrivals.count", len(arrivals)))
	if metrics.IsEnabled() {
		metrics.WatchArrivalsExtracted.Add(ctx, int64(len(arrivals)))
		metrics.WatchCycleDuration.Record(ctx, time.Since(start).Seconds())
	}
	metrics.RecordLastRefreshTimestamp()

	return nil
}

// printSnapshot writes one refresh in the plain line-per-arrival format
// the tool exists for. Anything fancier belongs on stderr.
func (w *Watcher) printSnapshot(snap types.Snapshot) {
	fmt.Fprintf(w.out, "%s  stop %d  platform %s\n",
		snap.Taken.Format("2006-01-02 15:04:05"), snap.StopID, snap.Platform)

	if len(snap.Arrivals) == 0 {
		fmt.Fprintf(w.out, "  no matching departures\n")
		return
	}

	for _, e := range snap.Arrivals {
		dest := e.Destination
		if dest == "" {
			dest = strconv.Itoa(e.CielZastavka)
		}
		fmt.Fprintf(w.out, "  %s to %s in %.1f min (delay: %d)\n",
			e.Linka, dest, e.TOffset/60, e.CasDelta)
	}
}
