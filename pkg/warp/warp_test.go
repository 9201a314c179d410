package warp

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/janekolszak/warp/config"
	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/contract"
	"github.com/janekolszak/warp/pkg/evaluator"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/executor/handler"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
	wtesting "github.com/janekolszak/warp/testing"
)

type env struct {
	ledger *wtesting.Ledger
	source *loader.MemorySource
	defs   *contract.MemoryDefinitionLoader
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ledger: wtesting.NewLedger(),
		source: loader.NewMemorySource(),
		defs:   contract.NewMemoryDefinitionLoader(),
	}
	require.NoError(t, e.defs.Deploy(contract.Definition{
		ID:        "token",
		SrcTxID:   "src-token",
		Owner:     "owner-1",
		InitState: json.RawMessage(`{"supply":0}`),
	}))
	for _, fn := range []string{"mint", "mint", "mint", "peek"} {
		e.ledger.Interact("token", `{"function":"`+fn+`"}`)
		e.ledger.Mine()
	}
	e.source.Add(e.ledger.Records()...)
	return e
}

func mint(_ context.Context, in *handler.Invocation) (json.RawMessage, error) {
	var st struct {
		Supply int `json:"supply"`
	}
	if err := state.Decode(in.State, &st); err != nil {
		return nil, err
	}
	st.Supply++
	return state.Encode(st)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "memory"
	cfg.Logging.Output = filepath.Join(t.TempDir(), "warp.log")
	return cfg
}

func (e *env) build(t *testing.T, cfg *config.Config) *Warp {
	t.Helper()
	w, err := NewBuilder(cfg).
		WithSource(e.source).
		WithDefinitions(e.defs).
		Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	require.NotNil(t, w.Registry())
	w.Registry().MustRegister(handler.Code{
		Version:         "src-token",
		UnsafeFunctions: []string{"peek"},
		Handle: handler.Functions(map[string]handler.Func{
			"mint": mint,
			"peek": mint,
		}),
	})
	return w
}

func TestReadState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	w := e.build(t, testConfig(t))

	token := w.Contract("token")
	require.Equal(t, "token", token.ID())

	// The default policy fails on the unsafe peek.
	_, err := token.ReadState(ctx, "")
	require.ErrorIs(t, err, types.ErrPolicyViolationFatal)

	token.SetEvaluationOptions(evaluator.WithUnsafeClient(executor.PolicySkip))
	require.Equal(t, executor.PolicySkip, token.EvaluationOptions().UnsafeClient)

	v, err := token.ReadState(ctx, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"supply":3}`, string(v.State))
	require.Len(t, v.Validity, 4)

	records := e.ledger.Records()
	mid, err := token.ReadState(ctx, records[1].SortKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"supply":2}`, string(mid.State))

	// Another handle keeps its own options, and the snapshots taken under
	// skip never answer it.
	plain := w.Contract("token")
	require.Equal(t, executor.PolicyThrow, plain.EvaluationOptions().UnsafeClient)
	_, err = plain.ReadState(ctx, "")
	require.ErrorIs(t, err, types.ErrPolicyViolationFatal)

	keys, err := w.Snapshots(ctx, "token")
	require.NoError(t, err)
	require.Empty(t, keys)

	n, err := w.Invalidate(ctx, "token", records[0].SortKey)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	v, err = token.ReadState(ctx, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"supply":3}`, string(v.State))
}

func TestConfiguredDefaults(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cfg := testConfig(t)
	cfg.Evaluation.UnsafeClient = config.PolicyAllow
	w := e.build(t, cfg)

	require.Equal(t, executor.PolicyAllow, w.Evaluator().Defaults().UnsafeClient)
	v, err := w.Contract("token").ReadState(ctx, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"supply":4}`, string(v.State))
}

func TestInteractionsAndCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cfg := testConfig(t)
	cfg.Evaluation.UnsafeClient = config.PolicySkip
	w := e.build(t, cfg)
	records := e.ledger.Records()

	got, err := w.Interactions(ctx, "token", records[0].SortKey, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, records[1].ID, got[0].ID)

	_, found, err := w.Snapshot(ctx, "token", "")
	require.NoError(t, err)
	require.False(t, found)

	_, err = w.Contract("token").ReadState(ctx, records[1].SortKey)
	require.NoError(t, err)
	_, err = w.Contract("token").ReadState(ctx, "")
	require.NoError(t, err)

	keys, err := w.Snapshots(ctx, "token")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	snap, found, err := w.Snapshot(ctx, "token", "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, records[3].SortKey, snap.SortKey)

	n, err := w.Invalidate(ctx, "token", records[1].SortKey)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap, found, err = w.Snapshot(ctx, "token", "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, records[1].SortKey, snap.SortKey)
}

func TestBuildRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	e := newEnv(t)

	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()
	cfg.Evaluation.UnsafeClient = config.PolicySkip
	w := e.build(t, cfg)

	_, err := w.Contract("token").ReadState(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, mr.Keys())
}

func TestBuildDiskBackends(t *testing.T) {
	for _, backend := range []string{"leveldb", "badgerdb"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			cfg := testConfig(t)
			cfg.Cache.Backend = backend
			cfg.Cache.Path = filepath.Join(t.TempDir(), "cache")
			cfg.Evaluation.UnsafeClient = config.PolicySkip
			w := e.build(t, cfg)

			v, err := w.Contract("token").ReadState(ctx, "")
			require.NoError(t, err)
			require.JSONEq(t, `{"supply":3}`, string(v.State))
		})
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewBuilder(nil).Build(ctx)
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.Cache.Backend = "sqlite"
	_, err = New(ctx, cfg)
	require.ErrorIs(t, err, config.ErrInvalidCacheBackend)

	cfg = testConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = "127.0.0.1:1"
	_, err = New(ctx, cfg)
	require.Error(t, err)

	require.Panics(t, func() { NewBuilder(nil).MustBuild(ctx) })
}

func TestBuildWithGateway(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.URL = "http://127.0.0.1:1"
	w, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))
}

func TestMetricsHandler(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	w := e.build(t, testConfig(t))
	require.Nil(t, w.MetricsHandler())

	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Evaluation.UnsafeClient = config.PolicySkip
	w = e.build(t, cfg)
	_, err := w.Contract("token").ReadState(ctx, "")
	require.NoError(t, err)

	h := w.MetricsHandler()
	require.NotNil(t, h)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "warp_evaluations_total")
	require.Contains(t, string(body), "warp_interactions_evaluated_total")
}

func TestServeMetrics(t *testing.T) {
	e := newEnv(t)
	w := e.build(t, testConfig(t))
	require.Error(t, w.ServeMetrics(context.Background()))

	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	w = e.build(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.ServeMetrics(ctx) }()
	cancel()
	require.NoError(t, <-done)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warp.log")
	l, closer, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	l.Debug("hello", logging.ContractID("token"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"contract_id":"token"`), string(data))

	_, closer, err = NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	_, _, err = NewLogger(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
