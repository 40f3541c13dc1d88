package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/fulfillment"
	"github.com/roach88/tillsync/internal/projection"
	"github.com/roach88/tillsync/internal/realtime"
	"github.com/roach88/tillsync/internal/store"
	"github.com/roach88/tillsync/internal/testutil"
)

// Epoch is the clock reading at the start of every scenario.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Harness runs scenarios against the real checkout and fulfillment services
// with a deterministic clock, sequential ids and an in-memory store.
type Harness struct {
	store    *store.Store
	sessions *checkout.Service
	orders   *fulfillment.Engine
	clock    *testutil.FixedClock
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Execution errors in the
// flow are recorded in the trace; Run only fails when the environment
// cannot be set up.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result := NewResult()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFixedClock(Epoch)
	channel := &recordingChannel{inner: realtime.NewBroker(), result: result}
	notifier := realtime.NewNotifier(channel, realtime.WithNotifierLogger(logger))

	h := &Harness{
		store: st,
		sessions: checkout.New(st, channel,
			checkout.WithNotifier(notifier),
			checkout.WithClock(clock.Now),
			checkout.WithIDGenerator(testutil.NewSequenceIDs("session")),
			checkout.WithLogger(logger),
		),
		orders: fulfillment.New(st, projection.NewStockPublisher(notifier),
			fulfillment.WithClock(clock.Now),
			fulfillment.WithIDGenerator(testutil.NewSequenceIDs("order")),
			fulfillment.WithLogger(logger),
		),
		clock:  clock,
		result: result,
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario.Items); err != nil {
		return nil, fmt.Errorf("failed to seed items: %w", err)
	}

	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Invoke, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, items []domain.StockedItem) error {
	for _, item := range items {
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = h.clock.Now()
		}
		if _, err := h.store.PutItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// executeStep runs one operation, recording its invocation, any publishes
// it causes, and its completion. The returned error is reserved for
// malformed steps; operation failures become completions.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep) error {
	args, err := Canonicalize(step.Args)
	if err != nil {
		return fmt.Errorf("args: %w", err)
	}
	h.result.AddInvocation(step.Invoke, args)

	op := operations[step.Invoke]
	out, opErr := op(h, ctx, step.Args)

	outputCase, result := "ok", out
	if opErr != nil {
		var argErr *argsError
		if errors.As(opErr, &argErr) {
			return argErr
		}
		outputCase, result = completionOf(opErr)
	}
	canonical, err := Canonicalize(result)
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	h.result.AddCompletion(outputCase, canonical)

	h.checkExpect(index, step, outputCase, canonical, opErr)
	return nil
}

func (h *Harness) checkExpect(index int, step FlowStep, outputCase string, result any, opErr error) {
	want := "ok"
	if step.Expect != nil {
		want = step.Expect.Case
	}
	if outputCase != want {
		msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", index, step.Invoke, want, outputCase)
		if opErr != nil {
			msg += fmt.Sprintf(" (%v)", opErr)
		}
		h.result.AddError(msg)
		return
	}
	if step.Expect == nil || step.Expect.Result == nil {
		return
	}
	if ok, detail := matchSubset(result, step.Expect.Result); !ok {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: result mismatch: %s", index, step.Invoke, detail))
	}
}

// completionOf maps an operation error to a completion case and result.
func completionOf(err error) (string, any) {
	var de *domain.Error
	if !errors.As(err, &de) {
		return "ERROR", map[string]any{"message": err.Error()}
	}
	if len(de.Details) == 0 {
		return string(de.Code), nil
	}
	details := make(map[string]any, len(de.Details))
	for k, v := range de.Details {
		details[k] = v
	}
	return string(de.Code), details
}

// recordingChannel forwards to an in-process broker and records every
// accepted publish in the trace.
type recordingChannel struct {
	mu     sync.Mutex
	inner  *realtime.Broker
	result *Result
}

func (c *recordingChannel) Publish(ctx context.Context, key string, msg realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inner.Publish(ctx, key, msg); err != nil {
		return err
	}
	payload, err := Canonicalize(msg.Payload)
	if err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	c.result.AddPublish(key, msg.Seq, payload)
	return nil
}

func (c *recordingChannel) Subscribe(ctx context.Context, key string) (*realtime.Subscription, error) {
	return c.inner.Subscribe(ctx, key)
}
