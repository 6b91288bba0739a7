package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// collect subscribes to topic and forwards every message to the returned
// channel.
func collect(t *testing.T, b domain.EventBus, topic string) (<-chan *domain.Message, domain.Subscription) {
	t.Helper()

	out := make(chan *domain.Message, 64)
	sub, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s failed: %v", topic, err)
	}
	return out, sub
}

func next(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func none(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %s", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBusDelivery(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	t.Run("Envelope", func(t *testing.T) {
		recorded, _ := collect(t, b, domain.TopicPredictionRecorded)

		if err := b.Publish(ctx, domain.TopicPredictionRecorded, []byte(`{"id":"p-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := next(t, recorded)
		if string(msg.Payload) != `{"id":"p-1"}` || msg.Topic != domain.TopicPredictionRecorded {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message ID and timestamp")
		}
		if msg.Metadata["producer"] != "kestrel" {
			t.Errorf("expected producer metadata, got %v", msg.Metadata)
		}
		if _, ok := msg.Metadata[domain.MetadataTraceID]; ok {
			t.Error("expected no trace ID without a span")
		}
	})

	t.Run("TraceIDFromSpan", func(t *testing.T) {
		scored, _ := collect(t, b, domain.TopicPredictionScored)

		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{0x01, 0x02, 0x03},
			SpanID:  trace.SpanID{0x04},
		})
		b.Publish(trace.ContextWithSpanContext(ctx, sc), domain.TopicPredictionScored, []byte("{}"))

		msg := next(t, scored)
		if msg.Metadata[domain.MetadataTraceID] != sc.TraceID().String() {
			t.Errorf("expected trace ID %s, got %v", sc.TraceID(), msg.Metadata)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		highRisk, _ := collect(t, b, domain.TopicHighRisk)
		failed, _ := collect(t, b, domain.TopicPredictionFailed)

		b.Publish(ctx, domain.TopicHighRisk, []byte("alert"))

		next(t, highRisk)
		none(t, failed)
	})

	t.Run("FanOut", func(t *testing.T) {
		first, _ := collect(t, b, "fanout.topic")
		second, _ := collect(t, b, "fanout.topic")

		b.Publish(ctx, "fanout.topic", []byte("broadcast"))

		next(t, first)
		next(t, second)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch, sub := collect(t, b, "unsub.topic")
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic %q", sub.Topic())
		}

		b.Publish(ctx, "unsub.topic", []byte("1"))
		next(t, ch)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		b.Publish(ctx, "unsub.topic", []byte("2"))
		none(t, ch)
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var calls atomic.Int32
		b.Subscribe(ctx, "failing.topic", func(context.Context, *domain.Message) error {
			calls.Add(1)
			return errors.New("boom")
		})

		b.Publish(ctx, "failing.topic", []byte("1"))
		b.Publish(ctx, "failing.topic", []byte("2"))

		deadline := time.Now().Add(time.Second)
		for calls.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("NoSubscribers", func(t *testing.T) {
		if err := b.Publish(ctx, "nobody.listens", []byte("x")); err != nil {
			t.Errorf("publish failed: %v", err)
		}
	})
}

func TestChannelBusFullBufferDrops(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()

	ctx := context.Background()
	release := make(chan struct{})
	var handled atomic.Int32

	b.Subscribe(ctx, "slow.topic", func(context.Context, *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, "slow.topic", []byte("x")); err != nil {
			t.Fatalf("publish must not block or fail: %v", err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	if n := handled.Load(); n >= 10 || n == 0 {
		t.Errorf("expected some but not all messages handled, got %d", n)
	}
}

func TestChannelBusSubscriberContext(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	b.Subscribe(ctx, "ctx.topic", func(context.Context, *domain.Message) error {
		calls.Add(1)
		return nil
	})

	cancel()
	time.Sleep(10 * time.Millisecond)
	b.Publish(context.Background(), "ctx.topic", []byte("late"))
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("expected no delivery after subscriber context ended, got %d", calls.Load())
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	collect(t, b, "close.topic")

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "close.topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.EventBusConfig
		wantErr bool
	}{
		{"Channel", domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50}, false},
		{"DefaultsToChannel", domain.EventBusConfig{}, false},
		{"Unsupported", domain.EventBusConfig{Type: "kafka"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer b.Close()
			if _, ok := b.(*ChannelBus); !ok {
				t.Errorf("expected ChannelBus, got %T", b)
			}
		})
	}
}

func TestChannelBusBurst(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()

	const n = 100
	ch, _ := collect(t, b, domain.TopicPredictionRequested)
	for i := 0; i < n; i++ {
		b.Publish(context.Background(), domain.TopicPredictionRequested, []byte("req"))
	}
	for i := 0; i < n; i++ {
		next(t, ch)
	}
}
