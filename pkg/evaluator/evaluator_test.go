package evaluator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/tracing"
	wotel "github.com/janekolszak/warp/pkg/tracing/otel"
	"github.com/janekolszak/warp/pkg/types"
)

func TestNew(t *testing.T) {
	f := newFixture(t)
	ld := loader.New(f.source, loader.Config{})

	_, err := New(nil, ld, f.cache, f.exec)
	require.Error(t, err)
	_, err = New(f.defs, nil, f.cache, f.exec)
	require.Error(t, err)
	_, err = New(f.defs, ld, nil, f.exec)
	require.Error(t, err)
	_, err = New(f.defs, ld, f.cache, nil)
	require.Error(t, err)

	_, err = New(f.defs, ld, f.cache, f.exec, WithDefaultOptions(Options{UnsafeClient: "maybe"}))
	require.Error(t, err)

	e, err := New(f.defs, ld, f.cache, f.exec)
	require.NoError(t, err)
	require.Equal(t, DefaultOptions(), e.Defaults())
}

func TestOptions(t *testing.T) {
	o := DefaultOptions()
	require.NoError(t, o.Validate())
	require.Equal(t, executor.PolicyThrow, o.UnsafeClient)
	require.Equal(t, 60*time.Second, o.MaxInteractionEvaluationTime)

	over := o.Apply(
		WithUnsafeClient(executor.PolicySkip),
		WithConfirmationBlocks(3),
		WithInternalWrites(true),
		nil,
	)
	require.Equal(t, executor.PolicySkip, over.UnsafeClient)
	require.Equal(t, uint64(3), over.ConfirmationBlocks)
	require.True(t, over.InternalWrites)
	require.Equal(t, o.MaxInteractionEvaluationTime, over.MaxInteractionEvaluationTime)
	require.NotEqual(t, o.fingerprint(), over.fingerprint())

	require.Error(t, o.Apply(WithMaxInteractionEvaluationTime(-time.Second)).Validate())
	require.Error(t, o.Apply(WithUnsafeClient("")).Validate())
}

func TestEvaluateGenesis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count": 7}`)

	v, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Empty(t, v.SortKey)
	require.Equal(t, `{"count":7}`, string(v.State))
	require.Equal(t, srcCounter, v.CodeVersion)
	require.Empty(t, v.Validity)
	require.Zero(t, f.snapshots("c1"))

	_, err = f.eval.Evaluate(ctx, "missing", "")
	require.ErrorIs(t, err, types.ErrContractNotFound)

	_, err = f.eval.Evaluate(ctx, "", "")
	require.Error(t, err)

	_, err = f.eval.Evaluate(ctx, "c1", "garbage")
	require.ErrorIs(t, err, types.ErrInvalidSortKey)
}

func TestEvaluatePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)

	ok1 := f.interact("c1", call("inc"))
	rejected := f.interact("c1", call("fail"))
	f.mine()
	crashed := f.interact("c1", call("crash"))
	unknown := f.interact("c1", call("nope"))
	ok2 := f.interact("c1", call("inc"))
	f.mine()

	v, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, float64(2), count(t, v))
	require.Equal(t, ok2.SortKey, v.SortKey)

	require.Equal(t, map[string]bool{
		ok1.ID:      true,
		rejected.ID: false,
		crashed.ID:  false,
		unknown.ID:  false,
		ok2.ID:      true,
	}, v.Validity)
	require.Equal(t, map[string]string{
		rejected.ID: "caller is not allowed",
		crashed.ID:  "executor fault",
		unknown.ID:  `unknown function "nope"`,
	}, v.ErrorMessages)
	require.Equal(t, 1, f.snapshots("c1"))
}

func TestEvaluateUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)

	for range 3 {
		f.interact("c1", call("inc"))
		f.interact("c1", call("inc"))
		f.mine()
	}

	first, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, int64(6), f.exec.executions.Load())

	// Latest: the loader is consulted but nothing is re-executed.
	again, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Equal(t, int64(6), f.exec.executions.Load())

	// Exact bound: the snapshot is returned without touching the index.
	calls := f.source.Calls()
	exact, err := f.eval.Evaluate(ctx, "c1", first.SortKey)
	require.NoError(t, err)
	require.Equal(t, first, exact)
	require.Equal(t, calls, f.source.Calls())

	// New interactions resume from the snapshot.
	f.interact("c1", call("inc"))
	f.mine()
	next, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, float64(7), count(t, next))
	require.Equal(t, int64(7), f.exec.executions.Load())
	require.Len(t, next.Validity, 7)
	require.Equal(t, 2, f.snapshots("c1"))
}

func TestEvaluateBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)
	for range 4 {
		for range 5 {
			f.interact("c1", call("inc"))
		}
		f.mine()
	}
	records := f.ledger.Records()
	require.Len(t, records, 20)

	third, err := f.eval.Evaluate(ctx, "c1", records[2].SortKey)
	require.NoError(t, err)
	require.Equal(t, float64(3), count(t, third))
	require.Equal(t, records[2].SortKey, third.SortKey)

	seventeenth, err := f.eval.Evaluate(ctx, "c1", records[16].SortKey)
	require.NoError(t, err)
	require.Equal(t, float64(17), count(t, seventeenth))
	require.Len(t, seventeenth.Validity, 17)
	require.Equal(t, int64(17), f.exec.executions.Load())

	// A lower bound than the latest snapshot replays from the best snapshot
	// below it and leaves the cache unchanged.
	tenth, err := f.eval.Evaluate(ctx, "c1", records[9].SortKey)
	require.NoError(t, err)
	require.Equal(t, float64(10), count(t, tenth))
	require.Equal(t, 2, f.snapshots("c1"))
}

func TestEvaluateConfirmations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)
	for range 3 {
		f.interact("c1", call("inc"))
		f.mine()
	}

	v, err := f.eval.Evaluate(ctx, "c1", "", WithConfirmationBlocks(2))
	require.NoError(t, err)
	require.Equal(t, float64(1), count(t, v))

	v, err = f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, float64(3), count(t, v))
}

func TestEvaluateInternalWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.deploy("c2", srcCounter, `{"count":0}`)

	f.interact("c1", call("inc"))
	f.interact("c2", call("inc"), interaction.Tag{Name: interaction.TagInteractWrite, Value: "c1"})
	f.mine()

	v, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, float64(1), count(t, v))

	_, e := f.newEvaluator(WithDefaultOptions(DefaultOptions().Apply(WithInternalWrites(true))))
	v, err = e.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, float64(2), count(t, v))
}

func TestEvaluateTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)

	slow := f.interact("c1", call("slow"))
	f.interact("c1", call("inc"))
	f.mine()

	v, err := f.eval.Evaluate(ctx, "c1", "", WithMaxInteractionEvaluationTime(20*time.Millisecond))
	require.NoError(t, err)
	require.False(t, v.Validity[slow.ID])
	require.Contains(t, v.ErrorMessages[slow.ID], types.ErrInteractionTimeout.Error())
	require.Equal(t, float64(1), count(t, v))
}

// evaluationCounter records evaluation results.
type evaluationCounter struct {
	metrics.Metrics
	mu     sync.Mutex
	counts map[string]int
}

func newEvaluationCounter() *evaluationCounter {
	return &evaluationCounter{Metrics: metrics.NewNopMetrics(), counts: make(map[string]int)}
}

func (c *evaluationCounter) IncEvaluations(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[result]++
}

func (c *evaluationCounter) get(result string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[result]
}

func TestEvaluateCancellation(t *testing.T) {
	counter := newEvaluationCounter()
	f := newFixture(t,
		WithMetrics(counter),
		WithDefaultOptions(DefaultOptions().Apply(WithMaxInteractionEvaluationTime(0))))
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.interact("c1", call("inc"))
	f.interact("c1", call("slow"))
	f.mine()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.eval.Evaluate(ctx, "c1", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned run stops and is counted once, when it ends.
	require.Eventually(t, func() bool { return counter.get(metrics.ResultCanceled) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, counter.get(metrics.ResultCanceled))
	require.Zero(t, f.eval.flights.waiting(flightKey("c1", "", f.eval.Defaults())))
	require.Zero(t, f.snapshots("c1"))
}

func TestEvaluateLoadFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.interact("c1", call("inc"))
	f.mine()

	f.source.FailNext(10, errors.New("gateway down"))
	_, err := f.eval.Evaluate(ctx, "c1", "")
	require.ErrorIs(t, err, types.ErrLoadFailure)
	require.Zero(t, f.snapshots("c1"))
	require.Zero(t, f.exec.executions.Load())
}

func TestEvaluateCoalescesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewPrometheusMetrics("test")
	f := newFixture(t, WithMetrics(m))
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.interact("c1", call("gate"))
	f.mine()

	const callers = 8
	results := make([]*cache.CachedValue, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.eval.Evaluate(ctx, "c1", "")
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool { return f.gateHits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	require.Equal(t, int64(1), f.exec.executions.Load())
	for _, v := range results {
		require.NotNil(t, v)
		require.Equal(t, float64(1), count(t, v))
	}
	// Callers get independent copies.
	results[0].Validity["x"] = true
	require.NotContains(t, results[1].Validity, "x")
}

func TestEvaluateCoalescedCallerOutlivesFirst(t *testing.T) {
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.interact("c1", call("gate"))
	f.mine()
	key := flightKey("c1", "", f.eval.Defaults())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.eval.Evaluate(firstCtx, "c1", "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.gateHits.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		v   *cache.CachedValue
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := f.eval.Evaluate(context.Background(), "c1", "")
		second <- result{v, err}
	}()
	require.Eventually(t, func() bool { return f.eval.flights.waiting(key) == 2 }, time.Second, time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	require.Equal(t, 1, f.eval.flights.waiting(key))

	close(f.gate)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, float64(1), count(t, got.v))
	require.Equal(t, int64(1), f.exec.executions.Load())
	require.Equal(t, 1, f.snapshots("c1"))
}

func TestEvaluateDeterminism(t *testing.T) {
	ctx := context.Background()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	names := []string{"inc", "fail", "crash", "noop", "evolve"}

	properties.Property("resuming from any snapshot equals replay from genesis", prop.ForAll(
		func(picks []int, cut int) bool {
			f := newFixture(t)
			f.deploy("c1", srcCounter, `{"note":"a<b&c","count":0}`)
			for i, pick := range picks {
				fn := names[pick]
				in := call(fn)
				if fn == "evolve" {
					in = callWith(fn, "", srcDouble)
				}
				f.interact("c1", in)
				if i%3 == 2 {
					f.mine()
				}
			}
			f.mine()
			records := f.ledger.Records()
			if len(records) == 0 {
				return true
			}
			cut = min(cut, len(records)-1)

			genesis, err := f.eval.Evaluate(ctx, "c1", "")
			if err != nil {
				return false
			}

			// Resume through a cold cache so the snapshot is decoded from
			// the store rather than served from memory.
			store := cache.NewMemoryStore()
			_, writer := f.evaluatorOn(store)
			if _, err := writer.Evaluate(ctx, "c1", records[cut].SortKey); err != nil {
				return false
			}
			_, resumer := f.evaluatorOn(store)
			resumed, err := resumer.Evaluate(ctx, "c1", "")
			if err != nil {
				return false
			}

			a, err := cache.Encode(genesis)
			if err != nil {
				return false
			}
			b, err := cache.Encode(resumed)
			if err != nil {
				return false
			}
			return bytes.Equal(a, b)
		},
		gen.SliceOfN(12, gen.IntRange(0, len(names)-1)),
		gen.IntRange(0, 11),
	))

	properties.TestingRun(t)
}

func TestEvaluateEvolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)

	f.interact("c1", call("inc"))
	evolve := f.interact("c1", callWith("evolve", "", srcDouble))
	f.mine()
	f.interact("c1", call("inc"))
	f.mine()

	v, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.True(t, v.Validity[evolve.ID])
	require.Equal(t, srcDouble, v.CodeVersion)
	require.Equal(t, float64(3), count(t, v))

	// A snapshot taken at the evolve resumes on the new code.
	_, e := f.newEvaluator()
	mid, err := e.Evaluate(ctx, "c1", evolve.SortKey)
	require.NoError(t, err)
	require.Equal(t, srcDouble, mid.CodeVersion)
	resumed, err := e.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.Equal(t, v, resumed)

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)
		f.deploy("c1", srcCounter, `{"count":0}`)
		bad := f.interact("c1", callWith("evolve", "", "src-missing"))
		f.interact("c1", call("inc"))
		f.mine()

		v, err := f.eval.Evaluate(ctx, "c1", "")
		require.NoError(t, err)
		require.False(t, v.Validity[bad.ID])
		require.Contains(t, v.ErrorMessages[bad.ID], "src-missing")
		require.Equal(t, srcCounter, v.CodeVersion)
		require.Equal(t, float64(1), count(t, v))
	})
}

func TestEvaluateCyclicRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("c1", srcCounter, `{"count":0}`)

	self := f.interact("c1", callWith("read", "c1", ""))
	f.interact("c1", call("inc"))
	f.mine()

	v, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)
	require.False(t, v.Validity[self.ID])
	require.Contains(t, v.ErrorMessages[self.ID], types.ErrCyclicNestedEvaluation.Error())
	require.Equal(t, float64(1), count(t, v))
}

func TestEvaluateMutualRead(t *testing.T) {
	ctx := context.Background()
	internal := WithDefaultOptions(DefaultOptions().Apply(WithInternalWrites(true)))
	f := newFixture(t, internal)
	f.deploy("a", srcCounter, `{"count":0}`)
	f.deploy("b", srcCounter, `{"count":0}`)

	f.interact("a", call("inc"))
	f.interact("b", call("inc"))
	f.mine()
	// Runs on a reading b and on b reading a, at the same sort key.
	tx := f.interact("a", callWith("mutual", "b", "a"),
		interaction.Tag{Name: interaction.TagInteractWrite, Value: "b"})
	f.mine()
	f.interact("a", call("inc"))
	f.mine()

	evaluateInOrder := func(order ...string) map[string]*cache.CachedValue {
		_, e := f.newEvaluator(internal)
		out := make(map[string]*cache.CachedValue)
		for _, id := range order {
			v, err := e.Evaluate(ctx, id, "")
			require.NoError(t, err)
			out[id] = v
		}
		return out
	}
	ab := evaluateInOrder("a", "b")
	ba := evaluateInOrder("b", "a")

	for _, id := range []string{"a", "b"} {
		require.False(t, ab[id].Validity[tx.ID], id)
		require.Contains(t, ab[id].ErrorMessages[tx.ID], types.ErrCyclicNestedEvaluation.Error(), id)

		x, err := cache.Encode(ab[id])
		require.NoError(t, err)
		y, err := cache.Encode(ba[id])
		require.NoError(t, err)
		require.Equal(t, string(x), string(y), id)
	}
	require.Equal(t, ab["a"].ErrorMessages[tx.ID], ab["b"].ErrorMessages[tx.ID])
	require.Equal(t, float64(2), count(t, ab["a"]))
	require.Equal(t, float64(1), count(t, ab["b"]))
}

func TestEvaluateNestedRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy("token", srcCounter, `{"count":0}`)
	f.deploy("reader", srcCounter, `{"count":0}`)

	f.interact("token", call("inc"))
	f.mine()
	read := f.interact("reader", callWith("read", "token", ""))
	f.mine()
	f.interact("token", call("inc"))
	f.mine()

	v, err := f.eval.Evaluate(ctx, "reader", "")
	require.NoError(t, err)
	require.True(t, v.Validity[read.ID])
	// The read sees the token as of the reading interaction only.
	require.JSONEq(t, `{"count":0,"read":{"count":1}}`, string(v.State))

	token, err := f.eval.Evaluate(ctx, "token", "")
	require.NoError(t, err)
	require.Equal(t, float64(2), count(t, token))
}

func TestEvaluateTracing(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	f := newFixture(t, WithTracer(wotel.NewTracerWithProvider("test", provider)))
	f.deploy("c1", srcCounter, `{"count":0}`)
	f.interact("c1", call("inc"))
	f.mine()

	_, err := f.eval.Evaluate(ctx, "c1", "")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, s := range exporter.GetSpans() {
		names[s.Name] = true
	}
	require.True(t, names[tracing.SpanEvaluate])
	require.True(t, names[tracing.SpanLoad])
	require.True(t, names[tracing.SpanReplay])
}
