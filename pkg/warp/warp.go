// Package warp is the client entry point: it wires the gateway, the
// interaction loader, the snapshot cache and an executor into an evaluator
// and hands out per-contract handles.
package warp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/janekolszak/warp/config"
	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/evaluator"
	"github.com/janekolszak/warp/pkg/executor/handler"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/sortkey"
)

// Warp is a contract state client. It is safe for concurrent use.
type Warp struct {
	cfg       *config.Config
	evaluator *evaluator.Evaluator
	loader    *loader.Loader
	cache     *cache.EvaluationCache
	registry  *handler.Registry
	logger    *logging.Logger
	metrics   metrics.Metrics

	closers []func(context.Context) error
}

// Contract returns a handle for one contract. Handles are cheap; each
// carries its own evaluation option overrides.
func (w *Warp) Contract(id string) *Contract {
	return &Contract{w: w, id: id}
}

// Evaluator returns the underlying evaluator.
func (w *Warp) Evaluator() *evaluator.Evaluator {
	return w.evaluator
}

// Registry returns the default handler registry, or nil when the client
// was built with its own executor.
func (w *Warp) Registry() *handler.Registry {
	return w.registry
}

// Interactions loads the contract's confirmed interactions with
// from < sort key <= to using the default evaluation options.
func (w *Warp) Interactions(ctx context.Context, contractID string, from, to sortkey.Key) ([]*interaction.Record, error) {
	opts := w.evaluator.Defaults()
	return w.loader.Load(ctx, contractID, from, to, loader.Options{
		ConfirmationBlocks: opts.ConfirmationBlocks,
		InternalWrites:     opts.InternalWrites,
	})
}

// Snapshot returns the cached snapshot at or below bound without
// evaluating anything. Only snapshots taken under the client defaults are
// considered.
func (w *Warp) Snapshot(ctx context.Context, contractID string, bound sortkey.Key) (*cache.CachedValue, bool, error) {
	return w.cache.GetLatestBefore(ctx, evaluator.CacheID(contractID, w.evaluator.Defaults()), bound)
}

// Snapshots lists the contract's cached snapshot keys taken under the
// client defaults.
func (w *Warp) Snapshots(ctx context.Context, contractID string) ([]sortkey.Key, error) {
	return w.cache.Snapshots(ctx, evaluator.CacheID(contractID, w.evaluator.Defaults()))
}

// Invalidate drops every cached snapshot of the contract after the given
// key, under every policy, for example after a chain reorganization.
func (w *Warp) Invalidate(ctx context.Context, contractID string, after sortkey.Key) (int, error) {
	total := 0
	for _, id := range evaluator.CacheIDs(contractID) {
		n, err := w.cache.Invalidate(ctx, id, after)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are
// disabled.
func (w *Warp) MetricsHandler() http.Handler {
	h, _ := w.metrics.Handler().(http.Handler)
	return h
}

// ServeMetrics serves the Prometheus handler on the configured listen
// address until ctx is done.
func (w *Warp) ServeMetrics(ctx context.Context) error {
	h := w.MetricsHandler()
	if h == nil {
		return errors.New("metrics are disabled")
	}
	listener, err := net.Listen("tcp", w.cfg.Metrics.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.cfg.Metrics.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(listener)
	}()
	w.logger.Info("serving metrics", logging.Address(listener.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

// Close releases the cache, log file and tracer in reverse order of
// creation.
func (w *Warp) Close(ctx context.Context) error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
