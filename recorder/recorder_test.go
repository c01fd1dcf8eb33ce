package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/mq"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	nextID  int64
	records []audit.Event
}

func (f *fakeStore) Append(ctx context.Context, e audit.Event) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Record{}, f.err
	}
	f.nextID++
	f.records = append(f.records, e)
	return Record{ID: f.nextID}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encodedEvent(t *testing.T) []byte {
	t.Helper()
	raw, err := audit.Encode(audit.Event{
		Timestamp:   time.Now().UTC(),
		ActorID:     "u-1",
		ServiceID:   "pedidos",
		Action:      audit.ActionUpdate,
		Description: "order 4 moved to Despachado",
		Entity:      "PEDIDO",
		EntityID:    "4",
	})
	require.NoError(t, err)
	return raw
}

func message(body []byte, acked chan struct{}) mq.Message {
	return mq.Message{
		Body: body,
		Ack: func() error {
			close(acked)
			return nil
		},
	}
}

func testConfig() Config {
	return Config{Queue: "audit_queue", Prefetch: 1, Backoff: 5 * time.Millisecond}
}

func TestRecorderPersistsThenAcks(t *testing.T) {
	store := &fakeStore{}
	msgs := make(chan mq.Message, 1)
	acked := make(chan struct{})
	closed := make(chan struct{}, 4)

	open := func(ctx context.Context) (<-chan mq.Message, io.Closer, error) {
		return msgs, closerFunc(func() error { closed <- struct{}{}; return nil }), nil
	}

	r := New(testConfig(), store, open, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	msgs <- message(encodedEvent(t), acked)

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never acknowledged")
	}
	assert.Equal(t, 1, store.count())

	cancel()
	close(msgs)
	require.NoError(t, <-done)
}

func TestPoisonMessageAckedButNotStored(t *testing.T) {
	store := &fakeStore{}
	msgs := make(chan mq.Message, 1)
	acked := make(chan struct{})

	open := func(ctx context.Context) (<-chan mq.Message, io.Closer, error) {
		return msgs, closerFunc(func() error { return nil }), nil
	}

	r := New(testConfig(), store, open, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	msgs <- message([]byte(`{"not valid json`), acked)

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("poison message was never acknowledged")
	}
	assert.Equal(t, 0, store.count())

	cancel()
	close(msgs)
	require.NoError(t, <-done)
}

func TestPersistFailureDropsConnectionWithoutAck(t *testing.T) {
	store := &fakeStore{err: errors.New("database unavailable")}
	msgs := make(chan mq.Message, 1)
	closed := make(chan struct{}, 1)

	var ackCalled bool
	msg := mq.Message{
		Body: encodedEvent(t),
		Ack:  func() error { ackCalled = true; return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	opens := 0
	open := func(openCtx context.Context) (<-chan mq.Message, io.Closer, error) {
		opens++
		if opens > 1 {
			// The first session failed persistence; stop the test here.
			cancel()
			return nil, nil, errors.New("no broker")
		}
		return msgs, closerFunc(func() error { closed <- struct{}{}; return nil }), nil
	}

	r := New(testConfig(), store, open, discardLogger())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	msgs <- msg

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never dropped after persistence failure")
	}

	require.NoError(t, <-done)
	assert.False(t, ackCalled, "a message whose record is not durable must stay unacked")
	assert.Equal(t, 0, store.count())
}

func TestRedeliveredMessageProcessedAfterReconnect(t *testing.T) {
	store := &fakeStore{err: errors.New("database unavailable")}
	acked := make(chan struct{})

	body := encodedEvent(t)
	opens := 0
	open := func(ctx context.Context) (<-chan mq.Message, io.Closer, error) {
		opens++
		msgs := make(chan mq.Message, 1)
		if opens == 1 {
			msgs <- mq.Message{Body: body, Ack: func() error { return nil }}
		} else {
			// The store has recovered; the broker redelivers the unacked message.
			store.mu.Lock()
			store.err = nil
			store.mu.Unlock()
			msgs <- message(body, acked)
		}
		return msgs, closerFunc(func() error { return nil }), nil
	}

	r := New(testConfig(), store, open, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("redelivered message was never acknowledged")
	}
	assert.Equal(t, 1, store.count())
	assert.GreaterOrEqual(t, opens, 2)

	cancel()
	require.NoError(t, <-done)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	open := func(ctx context.Context) (<-chan mq.Message, io.Closer, error) {
		return nil, nil, errors.New("broker down")
	}

	r := New(testConfig(), &fakeStore{}, open, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on cancellation")
	}
}
