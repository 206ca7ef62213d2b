package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPoison = errors.New("poison")

type countingHandler struct {
	calls int
	errs  []error
	seen  []string
}

func (h *countingHandler) Topic() string { return "requests" }

func (h *countingHandler) Handle(ctx context.Context, _ []byte) error {
	h.calls++
	h.seen = append(h.seen, TraceID(ctx))
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	base := []ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}
	c, err := NewConsumer(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func msg() kafka.Message { return kafka.Message{Topic: "requests", Value: []byte("{}")} }

func TestHandleWithRetryRecovers(t *testing.T) {
	c := newTestConsumer(t)
	h := &countingHandler{errs: []error{errors.New("blip")}}

	attempts, err := c.handleWithRetry(context.Background(), h, msg())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestHandleWithRetryGivesUp(t *testing.T) {
	c := newTestConsumer(t)
	boom := errors.New("down")
	h := &countingHandler{errs: []error{boom, boom, boom, boom}}

	attempts, err := c.handleWithRetry(context.Background(), h, msg())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestHandleWithRetrySkipsPermanentErrors(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetryable(func(err error) bool { return !errors.Is(err, errPoison) }))
	h := &countingHandler{errs: []error{errPoison}}

	attempts, err := c.handleWithRetry(context.Background(), h, msg())
	assert.ErrorIs(t, err, errPoison)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, h.calls)
}

func TestHandleWithRetryStopsOnCancel(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(5, time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &countingHandler{errs: []error{errors.New("blip"), errors.New("blip")}}

	attempts, err := c.handleWithRetry(ctx, h, msg())
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestHandleOnceAppliesTimeout(t *testing.T) {
	c := newTestConsumer(t, WithConsumerHandleTimeout(time.Millisecond))
	var deadline bool
	h := handlerFunc(func(ctx context.Context, _ []byte) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	require.NoError(t, c.handleOnce(context.Background(), h, msg()))
	assert.True(t, deadline)
}

type handlerFunc func(context.Context, []byte) error

func (handlerFunc) Topic() string                                { return "requests" }
func (f handlerFunc) Handle(ctx context.Context, b []byte) error { return f(ctx, b) }

func TestTraceHookThreadsHeader(t *testing.T) {
	c := newTestConsumer(t)
	var errs int
	c.WithConsumerHook(NewHookChain(
		TraceHook(),
		nil,
		HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { errs++ }},
	))
	h := &countingHandler{errs: []error{errors.New("blip")}}
	km := msg()
	km.Headers = []kafka.Header{{Key: TraceHeader, Value: []byte("req-42")}}

	_, err := c.handleWithRetry(context.Background(), h, km)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42", "req-42"}, h.seen)
	assert.Equal(t, 1, errs)
}

func TestHookChainRecoversPanics(t *testing.T) {
	chain := NewHookChain(HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
	})
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestLaneForIsStablePerPartition(t *testing.T) {
	c := newTestConsumer(t, WithConsumerWorkers(4))
	c.lanes = make([]chan kafka.Message, 4)

	seen := map[int]bool{}
	for p := 0; p < 32; p++ {
		lane := c.laneFor("requests", p)
		assert.Equal(t, lane, c.laneFor("requests", p))
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 4)
		seen[lane] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestBackoff(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoff(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]string{"ticker": "AAPL"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticker":"AAPL"}`, string(b))

	b, _ = encodeValue("raw")
	assert.Equal(t, []byte("raw"), b)

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer()
	assert.ErrorContains(t, err, "brokers")

	_, err = NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(0))
	assert.ErrorContains(t, err, "workers")
}

func TestStartRequiresHandler(t *testing.T) {
	c := newTestConsumer(t)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}
