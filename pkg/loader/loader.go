// Package loader fetches a contract's interactions from a paginated index
// for a sort key range.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/sorter"
	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// Defaults for Config.
const (
	DefaultPageSize        = 500
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// Config controls paging and retries.
type Config struct {
	PageSize        int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:        DefaultPageSize,
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Options are the per-load evaluation options the loader honors.
type Options struct {
	// ConfirmationBlocks excludes interactions in the most recent blocks.
	ConfirmationBlocks uint64

	// InternalWrites also loads interactions writing to the contract
	// through the Interact-Write tag.
	InternalWrites bool
}

// Loader loads interaction ranges from a Source.
type Loader struct {
	source  Source
	cfg     Config
	logger  *logging.Logger
	metrics metrics.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(ld *Loader) {
		if m != nil {
			ld.metrics = m
		}
	}
}

// New creates a Loader. Zero config fields take their defaults.
func New(source Source, cfg Config, opts ...Option) *Loader {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}

	l := &Loader{
		source:  source,
		cfg:     cfg,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("loader")
	return l
}

// Load returns every confirmed interaction of contractID with
// from < sortKey <= to, exactly once, in ascending sort key order.
// Empty bounds are unbounded. Failed loads return an error and no records.
func (l *Loader) Load(ctx context.Context, contractID string, from, to sortkey.Key, opts Options) ([]*interaction.Record, error) {
	if from != "" && to != "" {
		switch c := sortkey.Compare(from, to); {
		case c == 0:
			return nil, nil
		case c > 0:
			return nil, fmt.Errorf("%w: %s is above %s", types.ErrInvalidRange, from, to)
		}
	}

	start := time.Now()
	var attempts atomic.Int64
	fail := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, types.ErrDataIntegrity) || errors.Is(err, types.ErrInvalidSortKey) {
			return types.WrapContractError(err, contractID)
		}
		return &types.LoadError{
			ContractID: contractID,
			From:       string(from),
			To:         string(to),
			Attempts:   int(attempts.Load()),
			Err:        err,
		}
	}

	tip, err := retry(ctx, l, &attempts, func() (uint64, error) {
		return l.source.TipHeight(ctx)
	})
	if err != nil {
		return nil, fail(err)
	}
	if tip < opts.ConfirmationBlocks {
		return nil, nil
	}

	q := Query{
		TagValue:  contractID,
		MaxHeight: tip - opts.ConfirmationBlocks,
		PageSize:  l.cfg.PageSize,
	}
	if q.MaxHeight == 0 {
		// Nothing is confirmed yet.
		return nil, nil
	}
	if from != "" {
		h, err := sortkey.Height(from)
		if err != nil {
			return nil, err
		}
		q.MinHeight = h
	}
	if to != "" {
		h, err := sortkey.Height(to)
		if err != nil {
			return nil, err
		}
		q.MaxHeight = min(q.MaxHeight, h)
	}
	// A zero MaxHeight would lift the limit; height zero is never confirmed.
	if q.MaxHeight == 0 || q.MinHeight > q.MaxHeight {
		return nil, nil
	}

	tags := []string{interaction.TagContract}
	if opts.InternalWrites {
		tags = append(tags, interaction.TagInteractWrite)
	}

	results := make([][]*interaction.Record, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range tags {
		tq := q
		tq.TagName = tag
		g.Go(func() error {
			records, err := l.queryAll(gctx, tq, to, &attempts)
			results[i] = records
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fail(err)
	}

	merged, err := l.merge(contractID, from, to, q.MaxHeight, results)
	if err != nil {
		return nil, fail(err)
	}

	elapsed := time.Since(start)
	l.metrics.IncInteractionsLoaded(len(merged))
	l.metrics.ObserveLoadDuration(elapsed)
	l.logger.Debug("loaded interactions",
		logging.ContractID(contractID),
		logging.SortKey(string(from)),
		logging.Bound(string(to)),
		logging.Count(len(merged)),
		logging.Duration(elapsed))
	return merged, nil
}

// queryAll follows the cursor of one tag query until the index runs out
// of pages or a page lies entirely in blocks above the upper bound.
func (l *Loader) queryAll(ctx context.Context, q Query, to sortkey.Key, attempts *atomic.Int64) ([]*interaction.Record, error) {
	var out []*interaction.Record
	for {
		page, err := retry(ctx, l, attempts, func() (*Page, error) {
			return l.source.Interactions(ctx, q)
		})
		if err != nil {
			return nil, err
		}

		beyond := len(page.Edges) > 0
		for _, e := range page.Edges {
			if e.Node == nil {
				return nil, fmt.Errorf("%w: empty edge at cursor %q", types.ErrDataIntegrity, e.Cursor)
			}
			r := e.Node.Clone()
			if err := r.EnsureSortKey(); err != nil {
				return nil, err
			}
			// Pages are height ordered only, so a page proves nothing
			// about later pages until it has moved past the bound's block.
			if to == "" || !aboveHeight(r.SortKey, to) {
				beyond = false
			}
			out = append(out, r)
			q.After = e.Cursor
		}

		if !page.HasNextPage || beyond || len(page.Edges) == 0 {
			return out, nil
		}
		l.logger.Debug("fetching next page",
			logging.Cursor(q.After),
			logging.Count(len(out)))
	}
}

// aboveHeight reports whether k lies in a later block than bound.
func aboveHeight(k, bound sortkey.Key) bool {
	kh, err := sortkey.Height(k)
	if err != nil {
		return false
	}
	bh, err := sortkey.Height(bound)
	if err != nil {
		return false
	}
	return kh > bh
}

// merge deduplicates by id, applies the key range and confirmation height,
// and orders the result.
func (l *Loader) merge(contractID string, from, to sortkey.Key, maxHeight uint64, results [][]*interaction.Record) ([]*interaction.Record, error) {
	seen := make(map[string]*interaction.Record)
	var merged []*interaction.Record
	for _, records := range results {
		for _, r := range records {
			if prev, ok := seen[r.ID]; ok {
				if prev.SortKey != r.SortKey {
					return nil, fmt.Errorf("%w: interaction %s refetched with sort key %s, was %s",
						types.ErrDataIntegrity, r.ID, r.SortKey, prev.SortKey)
				}
				continue
			}
			if !r.Targets(contractID) {
				return nil, fmt.Errorf("%w: interaction %s does not target %s",
					types.ErrDataIntegrity, r.ID, contractID)
			}
			seen[r.ID] = r
			if r.Block.Height > maxHeight || !sortkey.InRange(r.SortKey, from, to) {
				continue
			}
			merged = append(merged, r)
		}
	}
	return sorter.Sort(merged)
}

// retry runs fn with exponential backoff, counting every attempt.
// Integrity errors and caller cancellation are not retried.
func retry[T any](ctx context.Context, l *Loader, attempts *atomic.Int64, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.cfg.MaxAttempts-1)), ctx)
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempts.Add(1)
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, types.ErrDataIntegrity) || errors.Is(err, types.ErrInvalidSortKey) {
			return v, backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, next time.Duration) {
		l.metrics.IncLoadRetries()
		l.logger.Warn("index request failed, retrying",
			logging.Attempt(int(attempts.Load())),
			logging.Error(err),
			logging.Duration(next))
	})
}
