package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

// queueReader hands out queued messages, then blocks until ctx ends.
type queueReader struct {
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *queueReader) Close() error { return nil }

func useTracing(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return recorder
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := NewHeaderCarrier(&msg)

	c.Set("traceparent", "a")
	c.Set("tracestate", "b")
	c.Set("traceparent", "c")

	assert.Equal(t, "c", c.Get("traceparent"))
	assert.Equal(t, "b", c.Get("tracestate"))
	assert.Empty(t, c.Get("baggage"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, c.Keys())
	assert.Len(t, msg.Headers, 2)
}

func TestProducer_Publish(t *testing.T) {
	useTracing(t)
	writer := &recordingWriter{}
	p := &Producer{writer: writer}

	event := map[string]string{"orderId": "o-1", "to": "cancelled"}
	require.NoError(t, p.Publish(context.Background(), "order.status_changed", "o-1", event))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "order.status_changed", msg.Topic)
	assert.Equal(t, "o-1", string(msg.Key))
	assert.JSONEq(t, `{"orderId":"o-1","to":"cancelled"}`, string(msg.Value))
	assert.NotEmpty(t, NewHeaderCarrier(&msg).Get("traceparent"))
}

func TestProducer_PublishErrors(t *testing.T) {
	p := &Producer{writer: &recordingWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), "order.created", "o-1", struct{}{})
	assert.ErrorContains(t, err, "publish to order.created")

	err = p.Publish(context.Background(), "order.created", "o-1", make(chan int))
	assert.ErrorContains(t, err, "encode order.created event")
}

func TestConsumer_PropagatesTraceAndCommits(t *testing.T) {
	recorder := useTracing(t)
	writer := &recordingWriter{}
	p := &Producer{writer: writer}

	ctx, parent := otel.Tracer("test").Start(context.Background(), "create order")
	require.NoError(t, p.Publish(ctx, "order.created", "o-1", map[string]int{"n": 1}))
	require.NoError(t, p.Publish(ctx, "order.created", "o-2", map[string]int{"n": 2}))
	parent.End()

	reader := &queueReader{queue: writer.msgs}
	c := &Consumer{reader: reader, topic: "order.created", groupID: "worker"}

	runCtx, cancel := context.WithCancel(context.Background())
	var keys []string
	var traceIDs []trace.TraceID
	err := c.Consume(runCtx, func(ctx context.Context, key string, _ []byte) error {
		keys = append(keys, key)
		traceIDs = append(traceIDs, trace.SpanContextFromContext(ctx).TraceID())
		if len(keys) == 2 {
			cancel()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"o-1", "o-2"}, keys)
	assert.Len(t, reader.committed, 2)
	for _, id := range traceIDs {
		assert.Equal(t, parent.SpanContext().TraceID(), id)
	}

	var processed int
	for _, s := range recorder.Ended() {
		if s.Name() == "process order.created" {
			processed++
		}
	}
	assert.Equal(t, 2, processed)
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Key: []byte("o-1"), Value: []byte("{}")}}}
	c := &Consumer{reader: reader, topic: "order.created"}

	boom := errors.New("smtp unavailable")
	err := c.Consume(context.Background(), func(context.Context, string, []byte) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reader.committed)
}
