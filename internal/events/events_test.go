package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/groupledger/internal/ledger"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{64, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection refused", err: errors.New("dial AMQP: connection refused"), expected: true},
		{name: "channel closed", err: errors.New("message channel closed"), expected: true},
		{name: "EOF", err: errors.New("unexpected EOF"), expected: true},
		{name: "other", err: errors.New("start consuming: access refused"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestRateDeferredMessage(t *testing.T) {
	msg := NewRateDeferredMessage(ledger.DeferredRate{GroupID: "g1", TransactionID: "t1", Currency: "JPY", BaseCurrency: "USD"})
	body, err := msg.ToJSON()
	require.NoError(t, err)

	got, err := RateDeferredMessageFromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TransactionID)
	assert.Equal(t, "JPY", got.Currency)

	_, err = RateDeferredMessageFromJSON([]byte(`{"transaction_id":"t1"}`))
	assert.Error(t, err)
	_, err = RateDeferredMessageFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

type fakeRepairer struct {
	groups []string
	err    error
}

func (f *fakeRepairer) RepairDeferredRates(_ context.Context, groupID string) (ledger.RepairResult, error) {
	f.groups = append(f.groups, groupID)
	return ledger.RepairResult{Scanned: 1, Repaired: 1}, f.err
}

func TestWorkerHandle(t *testing.T) {
	r := &fakeRepairer{}
	w := NewWorker(nil, r, nil)
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, &RateDeferredMessage{GroupID: "g1", TransactionID: "t1"}))
	assert.Equal(t, []string{"g1"}, r.groups)

	r.err = fmt.Errorf("group g2: %w", ledger.ErrNotFound)
	assert.NoError(t, w.Handle(ctx, &RateDeferredMessage{GroupID: "g2"}))

	r.err = errors.New("database is locked")
	assert.Error(t, w.Handle(ctx, &RateDeferredMessage{GroupID: "g3"}))
}

type stubConsumer struct {
	msgs []*RateDeferredMessage
}

func (s *stubConsumer) ConsumeRateDeferred(ctx context.Context, handler func(context.Context, *RateDeferredMessage) error) error {
	for _, m := range s.msgs {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubConsumer) Close() error { return nil }

func TestWorkerRunStopsOnCancel(t *testing.T) {
	r := &fakeRepairer{}
	var dials atomic.Int32
	w := NewWorker(func() (Consumer, error) {
		dials.Add(1)
		return &stubConsumer{msgs: []*RateDeferredMessage{{GroupID: "g1"}, {GroupID: "g2"}}}, nil
	}, r, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, []string{"g1", "g2"}, r.groups)
}

func TestWorkerRunReturnsFatalDialError(t *testing.T) {
	w := NewWorker(func() (Consumer, error) {
		return nil, errors.New("access refused")
	}, &fakeRepairer{}, nil)

	err := w.Run(context.Background())
	assert.EqualError(t, err, "access refused")
}

type recordedAck struct {
	acks, nacks, requeues int
}

func (r *recordedAck) Ack(uint64, bool) error { r.acks++; return nil }

func (r *recordedAck) Nack(_ uint64, _ bool, requeue bool) error {
	r.nacks++
	if requeue {
		r.requeues++
	}
	return nil
}

func (r *recordedAck) Reject(_ uint64, requeue bool) error { return r.Nack(0, false, requeue) }

type publishRecorder struct {
	published []amqp091.Publishing
	err       error
}

func (p *publishRecorder) publish(_ context.Context, msg amqp091.Publishing) error {
	p.published = append(p.published, msg)
	return p.err
}

func newTestClient(p *publishRecorder, delays *[]int) *Client {
	return &Client{
		publish: p.publish,
		retryDelay: func(attempt int) time.Duration {
			*delays = append(*delays, attempt)
			return 0
		},
	}
}

func rateDeferredDelivery(t *testing.T, ack amqp091.Acknowledger, headers amqp091.Table) amqp091.Delivery {
	t.Helper()
	body, err := NewRateDeferredMessage(ledger.DeferredRate{GroupID: "g1", TransactionID: "t1", Currency: "JPY", BaseCurrency: "USD"}).ToJSON()
	require.NoError(t, err)
	return amqp091.Delivery{Acknowledger: ack, Headers: headers, Type: "rate.deferred", Body: body}
}

func TestHandleDeliveryAcksSuccess(t *testing.T) {
	p := &publishRecorder{}
	var delays []int
	c := newTestClient(p, &delays)
	ack := &recordedAck{}

	var got *RateDeferredMessage
	err := c.handleDelivery(context.Background(), rateDeferredDelivery(t, ack, nil), func(_ context.Context, m *RateDeferredMessage) error {
		got = m
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TransactionID)
	assert.Equal(t, &recordedAck{acks: 1}, ack)
	assert.Empty(t, p.published)
}

func TestHandleDeliveryDropsUndecodable(t *testing.T) {
	p := &publishRecorder{}
	var delays []int
	c := newTestClient(p, &delays)
	ack := &recordedAck{}

	err := c.handleDelivery(context.Background(), amqp091.Delivery{Acknowledger: ack, Body: []byte("not json")}, func(context.Context, *RateDeferredMessage) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, &recordedAck{nacks: 1}, ack)
}

func TestHandleDeliveryRetriesWithBackoff(t *testing.T) {
	p := &publishRecorder{}
	var delays []int
	c := newTestClient(p, &delays)
	failing := func(context.Context, *RateDeferredMessage) error { return errors.New("database is locked") }

	// Each failure republishes with a higher count instead of requeueing.
	var headers amqp091.Table
	for attempt := 1; attempt < maxDeliveryAttempts; attempt++ {
		ack := &recordedAck{}
		require.NoError(t, c.handleDelivery(context.Background(), rateDeferredDelivery(t, ack, headers), failing))
		assert.Equal(t, &recordedAck{acks: 1}, ack, "attempt %d", attempt)

		require.Len(t, p.published, attempt)
		last := p.published[attempt-1]
		assert.Equal(t, int32(attempt), last.Headers[attemptsHeader])
		assert.Equal(t, "rate.deferred", last.Type)
		headers = last.Headers
	}
	assert.Equal(t, []int{0, 1, 2, 3}, delays)

	ack := &recordedAck{}
	require.NoError(t, c.handleDelivery(context.Background(), rateDeferredDelivery(t, ack, headers), failing))
	assert.Equal(t, &recordedAck{nacks: 1}, ack)
	assert.Len(t, p.published, maxDeliveryAttempts-1)
}

func TestHandleDeliveryRequeuesWhenRepublishFails(t *testing.T) {
	p := &publishRecorder{err: errors.New("channel closed")}
	var delays []int
	c := newTestClient(p, &delays)
	ack := &recordedAck{}

	err := c.handleDelivery(context.Background(), rateDeferredDelivery(t, ack, nil), func(context.Context, *RateDeferredMessage) error {
		return errors.New("database is locked")
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, delays, "requeue only after the backoff")
	assert.Equal(t, &recordedAck{nacks: 1, requeues: 1}, ack)
}

func TestHandleDeliveryStopsOnCancel(t *testing.T) {
	p := &publishRecorder{}
	c := &Client{publish: p.publish, retryDelay: func(int) time.Duration { return time.Hour }}
	ack := &recordedAck{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.handleDelivery(ctx, rateDeferredDelivery(t, ack, nil), func(context.Context, *RateDeferredMessage) error {
		return errors.New("database is locked")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, &recordedAck{nacks: 1, requeues: 1}, ack)
	assert.Empty(t, p.published)
}

func TestDeliveryAttempts(t *testing.T) {
	assert.Equal(t, 0, deliveryAttempts(nil))
	assert.Equal(t, 0, deliveryAttempts(amqp091.Table{attemptsHeader: "3"}))
	assert.Equal(t, 3, deliveryAttempts(amqp091.Table{attemptsHeader: int32(3)}))
	assert.Equal(t, 4, deliveryAttempts(amqp091.Table{attemptsHeader: int64(4)}))
	assert.Equal(t, 2, deliveryAttempts(amqp091.Table{attemptsHeader: int16(2)}))
}
