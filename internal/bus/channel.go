package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus implements EventBus in process. Each subscription owns a
// buffered channel drained by one goroutine, so a subscriber sees its
// messages in publish order. Used as the Community tier event bus.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	topics map[string]map[string]*listener
	closed bool

	running sync.WaitGroup
}

type listener struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[string]*listener),
	}
}

// Publish delivers a message to every subscriber of topic without
// blocking. A subscriber whose buffer is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := newMessage(ctx, topic, payload)
	for _, l := range b.topics[topic] {
		select {
		case l.inbox <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"topic", topic,
				"subscription", l.id,
			)
		}
	}
	return nil
}

// Subscribe registers a handler for topic. Handling stops when the
// subscription is cancelled, ctx ends or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     lctx,
		cancel:  cancel,
		bus:     b,
	}

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*listener)
	}
	b.topics[topic][l.id] = l

	b.running.Add(1)
	go func() {
		defer b.running.Done()
		l.run()
	}()

	return l, nil
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription and waits for running handlers to
// return. Channels are never closed, so a racing Publish cannot panic.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, set := range b.topics {
		for _, l := range set {
			l.cancel()
		}
	}
	b.topics = make(map[string]map[string]*listener)
	b.mu.Unlock()

	b.running.Wait()
	return nil
}

func (b *ChannelBus) forget(l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.topics[l.topic]; ok {
		delete(set, l.id)
		if len(set) == 0 {
			delete(b.topics, l.topic)
		}
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.inbox:
			if err := l.handler(l.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", l.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops delivery to this subscription.
func (l *listener) Unsubscribe() error {
	l.cancel()
	l.bus.forget(l)
	return nil
}

// Topic returns the subscribed topic.
func (l *listener) Topic() string {
	return l.topic
}
