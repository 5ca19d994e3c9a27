package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{ch: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.ch <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type handlerFunc struct {
	topic string
	fn    func([]byte) error
}

func (h handlerFunc) Topic() string                            { return h.topic }
func (h handlerFunc) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func TestProducerEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	reg := prometheus.NewRegistry()
	p := newProducer(w, "gzip", reg)

	require.NoError(t, p.Publish(context.Background(), "eos.fits", []byte("Si"), map[string]float64{"v0": 18}))
	require.NoError(t, p.PublishBatch(context.Background(), "eos.curves", []Message{
		{Key: []byte("a"), Value: "raw"},
		{Key: []byte("b"), Value: []byte{1, 2}},
	}))
	require.NoError(t, p.PublishMessage(context.Background(), "eos.logs", []string{"x"}))
	require.NoError(t, p.PublishBatch(context.Background(), "eos.curves", nil))

	msgs := w.written()
	require.Len(t, msgs, 4)
	assert.Equal(t, "eos.fits", msgs[0].Topic)
	assert.JSONEq(t, `{"v0":18}`, string(msgs[0].Value))
	assert.Equal(t, "raw", string(msgs[1].Value))
	assert.Equal(t, []byte{1, 2}, msgs[2].Value)
	assert.Nil(t, msgs[3].Key)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("eos.curves", "gzip", "ok")))
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerReportsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(w, "gzip", nil)
	assert.Error(t, p.Publish(context.Background(), "t", nil, "x"))

	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)
}

func TestProducerRejectsUnencodable(t *testing.T) {
	p := newProducer(&fakeWriter{}, "gzip", nil)
	assert.Error(t, p.Publish(context.Background(), "t", nil, make(chan int)))
}

func testConsumer(t *testing.T, r *fakeReader, dlq *fakeWriter, retry int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(2),
		WithConsumerRetry(retry, time.Millisecond, 2*time.Millisecond),
		WithConsumerDLQ("jobs.dlq"),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	c.newReader = func(string) reader { return r }
	c.dlq = dlq
	return c
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Topic: "jobs", Value: []byte(`{"n":1}`)},
		kafka.Message{Topic: "jobs", Value: []byte(`{"n":2}`)},
	)
	var mu sync.Mutex
	var seen []int
	c := testConsumer(t, r, &fakeWriter{}, 0)
	c.RegisterHandler(handlerFunc{topic: "jobs", fn: func(b []byte) error {
		var v struct{ N int }
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, v.N)
		mu.Unlock()
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return r.commits() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{1, 2}, seen)
}

func TestConsumerRetriesThenParksInDLQ(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "jobs", Key: []byte("Si"), Value: []byte("bad")})
	dlq := &fakeWriter{}
	var mu sync.Mutex
	attempts, hookErrors := 0, 0

	c := testConsumer(t, r, dlq, 2)
	c.RegisterHandler(handlerFunc{topic: "jobs", fn: func([]byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("cannot decode")
	}})
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) {
		mu.Lock()
		hookErrors++
		mu.Unlock()
	}})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(dlq.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, hookErrors)
	parked := dlq.written()[0]
	assert.Equal(t, "jobs.dlq", parked.Topic)
	assert.Equal(t, "Si", string(parked.Key))
	assert.Equal(t, "source_topic", parked.Headers[0].Key)
	assert.True(t, dlq.closed)
}

func TestConsumerRecoversHandlerPanics(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "jobs", Value: []byte("x")})
	dlq := &fakeWriter{}
	c := testConsumer(t, r, dlq, 0)
	c.RegisterHandler(handlerFunc{topic: "jobs", fn: func([]byte) error { panic("boom") }})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(dlq.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
}

func TestConsumerBeforeHookCanRewritePayload(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "jobs", Value: []byte("raw")})
	got := make(chan string, 1)
	c := testConsumer(t, r, &fakeWriter{}, 0)
	c.RegisterHandler(handlerFunc{topic: "jobs", fn: func(b []byte) error {
		got <- string(b)
		return nil
	}})
	c.WithConsumerHook(HookFuncs{Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
		return ctx, km, append([]byte("hooked:"), data...), nil
	}})

	require.NoError(t, c.Start(context.Background()))
	select {
	case s := <-got:
		assert.Equal(t, "hooked:raw", s)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	require.NoError(t, c.Stop(context.Background()))
}

type ctxHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h ctxHandler) Topic() string                              { return h.topic }
func (h ctxHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

func TestStopDrainsQueuedMessages(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Topic: "jobs", Value: []byte("first")},
		kafka.Message{Topic: "jobs", Value: []byte("second")},
		kafka.Message{Topic: "jobs", Value: []byte("third")},
	)
	dlq := &fakeWriter{}
	c := testConsumer(t, r, dlq, 0)
	c.cfg.WorkerCount = 1

	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var done []string
	c.RegisterHandler(ctxHandler{topic: "jobs", fn: func(ctx context.Context, b []byte) error {
		once.Do(func() {
			close(started)
			<-release
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		done = append(done, string(b))
		mu.Unlock()
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	<-started
	require.Eventually(t, func() bool { return len(c.msgChan) == 2 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return c.ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, done)
	assert.Equal(t, 3, r.commits())
	assert.Empty(t, dlq.written())
}

func TestStopTimeoutLeavesRunningMessageUncommitted(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "jobs", Value: []byte("slow")})
	dlq := &fakeWriter{}
	c := testConsumer(t, r, dlq, 3)

	started := make(chan struct{})
	c.RegisterHandler(ctxHandler{topic: "jobs", fn: func(ctx context.Context, _ []byte) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	require.NoError(t, c.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Stop(ctx))

	c.workWG.Wait()
	assert.Zero(t, r.commits())
	assert.Empty(t, dlq.written())
}

func TestStartWithoutHandlers(t *testing.T) {
	c := testConsumer(t, newFakeReader(), &fakeWriter{}, 0)
	assert.Error(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
