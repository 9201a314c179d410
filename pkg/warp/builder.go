package warp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/janekolszak/warp/config"
	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/contract"
	"github.com/janekolszak/warp/pkg/evaluator"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/executor/handler"
	"github.com/janekolszak/warp/pkg/gateway"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/tracing"
	wotel "github.com/janekolszak/warp/pkg/tracing/otel"
)

// Builder assembles a Warp client. Components left unset are created from
// the configuration: the gateway serves both interactions and contract
// definitions, and the cache backend is opened from the [cache] section.
type Builder struct {
	cfg *config.Config

	// Pluggable components (optional)
	source      loader.Source
	definitions contract.DefinitionLoader
	store       cache.Store
	executor    executor.Executor
	logger      *logging.Logger
	metrics     metrics.Metrics
	tracer      tracing.Tracer

	// Error tracking during build
	err error
}

// NewBuilder creates a Builder with the given configuration.
func NewBuilder(cfg *config.Config) *Builder {
	b := &Builder{cfg: cfg}
	if cfg == nil {
		b.err = errors.New("warp: nil config")
	}
	return b
}

// WithSource sets the interaction index, replacing the gateway.
func (b *Builder) WithSource(s loader.Source) *Builder {
	if b.err != nil {
		return b
	}
	b.source = s
	return b
}

// WithDefinitions sets the contract definition loader, replacing the gateway.
func (b *Builder) WithDefinitions(d contract.DefinitionLoader) *Builder {
	if b.err != nil {
		return b
	}
	b.definitions = d
	return b
}

// WithStore sets the snapshot store, replacing the configured backend.
func (b *Builder) WithStore(s cache.Store) *Builder {
	if b.err != nil {
		return b
	}
	b.store = s
	return b
}

// WithExecutor sets the contract executor. Without one, an empty handler
// registry is used; register code on it through Warp.Registry.
func (b *Builder) WithExecutor(e executor.Executor) *Builder {
	if b.err != nil {
		return b
	}
	b.executor = e
	return b
}

// WithLogger sets the logger, replacing the [logging] section.
func (b *Builder) WithLogger(l *logging.Logger) *Builder {
	if b.err != nil {
		return b
	}
	b.logger = l
	return b
}

// WithMetrics sets the metrics sink, replacing the [metrics] section.
func (b *Builder) WithMetrics(m metrics.Metrics) *Builder {
	if b.err != nil {
		return b
	}
	b.metrics = m
	return b
}

// WithTracer sets the tracer, replacing the [tracing] section.
func (b *Builder) WithTracer(t tracing.Tracer) *Builder {
	if b.err != nil {
		return b
	}
	b.tracer = t
	return b
}

// Build creates the client. Resources opened here are released by Close,
// or immediately if Build fails.
func (b *Builder) Build(ctx context.Context) (_ *Warp, err error) {
	if b.err != nil {
		return nil, b.err
	}

	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	w := &Warp{cfg: cfg}
	defer func() {
		if err != nil {
			_ = w.Close(context.Background())
		}
	}()

	logger := b.logger
	if logger == nil {
		var closer io.Closer
		logger, closer, err = NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, func(context.Context) error { return closer.Close() })
	}
	w.logger = logger

	m := b.metrics
	if m == nil {
		if cfg.Metrics.Enabled {
			m = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
		} else {
			m = metrics.NewNopMetrics()
		}
	}
	w.metrics = m

	tracer := b.tracer
	if tracer == nil {
		var shutdown func(context.Context) error
		tracer, shutdown, err = wotel.Setup(ctx, tracing.Config{
			Enabled:          cfg.Tracing.Enabled,
			ServiceName:      cfg.Tracing.ServiceName,
			ServiceVersion:   cfg.Tracing.ServiceVersion,
			Environment:      cfg.Tracing.Environment,
			SampleRate:       cfg.Tracing.SampleRate,
			Exporter:         cfg.Tracing.Exporter,
			ExporterEndpoint: cfg.Tracing.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		w.closers = append(w.closers, shutdown)
	}

	source, definitions := b.source, b.definitions
	if source == nil || definitions == nil {
		client, err := gateway.NewClient(gateway.Config{
			URL:               cfg.Gateway.URL,
			Timeout:           cfg.Gateway.Timeout.Duration(),
			MaxRetries:        cfg.Gateway.MaxRetries,
			RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
			Burst:             cfg.Gateway.Burst,
		},
			gateway.WithLogger(logger),
			gateway.WithMetrics(m),
			gateway.WithTracer(tracer),
		)
		if err != nil {
			return nil, fmt.Errorf("creating gateway client: %w", err)
		}
		if source == nil {
			source = client
		}
		if definitions == nil {
			definitions = gateway.NewDefinitionLoader(client)
		}
	}

	store := b.store
	if store == nil {
		store, err = cache.OpenStore(ctx, cache.StoreConfig{
			Backend: cfg.Cache.Backend,
			Path:    cfg.Cache.Path,
			Redis: cache.RedisOptions{
				Addr:      cfg.Cache.Redis.Addr,
				Password:  cfg.Cache.Redis.Password,
				DB:        cfg.Cache.Redis.DB,
				KeyPrefix: cfg.Cache.Redis.KeyPrefix,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
	}
	w.cache, err = cache.New(store, cfg.Cache.LRUSize, cache.WithLogger(logger), cache.WithMetrics(m))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	w.closers = append(w.closers, func(context.Context) error { return w.cache.Close() })

	w.loader = loader.New(source, loader.Config{
		PageSize:        cfg.Loader.PageSize,
		MaxAttempts:     cfg.Loader.MaxAttempts,
		InitialInterval: cfg.Loader.InitialInterval.Duration(),
		MaxInterval:     cfg.Loader.MaxInterval.Duration(),
	}, loader.WithLogger(logger), loader.WithMetrics(m))

	exec := b.executor
	if exec == nil {
		w.registry = handler.NewRegistry(handler.WithLogger(logger))
		exec = w.registry
	}

	defaults, err := evaluationOptions(cfg.Evaluation)
	if err != nil {
		return nil, err
	}
	w.evaluator, err = evaluator.New(definitions, w.loader, w.cache, exec,
		evaluator.WithLogger(logger),
		evaluator.WithMetrics(m),
		evaluator.WithTracer(tracer),
		evaluator.WithDefaultOptions(defaults),
	)
	if err != nil {
		return nil, fmt.Errorf("creating evaluator: %w", err)
	}

	logger.Info("warp client ready",
		logging.Address(cfg.Gateway.URL),
		logging.Backend(cfg.Cache.Backend),
		logging.Policy(string(defaults.UnsafeClient)))
	return w, nil
}

// MustBuild is like Build but panics if an error occurs.
func (b *Builder) MustBuild(ctx context.Context) *Warp {
	w, err := b.Build(ctx)
	if err != nil {
		panic(err)
	}
	return w
}

// New creates a Warp client from configuration. Use NewBuilder to replace
// individual components.
func New(ctx context.Context, cfg *config.Config) (*Warp, error) {
	return NewBuilder(cfg).Build(ctx)
}

func evaluationOptions(cfg config.EvaluationConfig) (evaluator.Options, error) {
	policy, err := executor.ParsePolicy(string(cfg.UnsafeClient))
	if err != nil {
		return evaluator.Options{}, err
	}
	return evaluator.Options{
		MaxInteractionEvaluationTime: cfg.MaxInteractionEvaluationTime.Duration(),
		UnsafeClient:                 policy,
		ConfirmationBlocks:           cfg.ConfirmationBlocks,
		InternalWrites:               cfg.InternalWrites,
	}, nil
}
