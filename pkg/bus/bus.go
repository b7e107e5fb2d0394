// Package bus implements the asynchronous publish/subscribe message bus that
// connects agents. Subscriptions are keyed by message type; each subscriber
// owns a bounded queue drained by a single worker goroutine, so an agent
// always handles one message at a time and in publish order.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"multiagent/pkg/eventlog"
	"multiagent/pkg/logx"
	"multiagent/pkg/metrics"
	"multiagent/pkg/proto"
)

// DefaultQueueSize is the per-subscriber queue depth used when Options does
// not override it.
const DefaultQueueSize = 64

// Subscriber receives messages from the bus. OnMessage is invoked on the
// subscriber's worker goroutine, never concurrently for the same subscriber.
type Subscriber interface {
	ID() string
	OnMessage(msg *proto.Message)
}

// History archives published messages. Satisfied by the persistence store.
type History interface {
	RecordMessage(msg *proto.Message) error
}

// Options configures optional bus collaborators.
type Options struct {
	QueueSize int
	EventLog  *eventlog.Writer
	Recorder  *metrics.Recorder
	History   History
}

// Bus routes published messages to every subscriber registered for the
// message's type. Target filtering is the receiver's concern; the bus only
// matches on type.
type Bus struct {
	logger    *logx.Logger
	eventLog  *eventlog.Writer
	recorder  *metrics.Recorder
	history   History
	queueSize int

	mu      sync.RWMutex
	subs    map[proto.MsgType]map[string]*worker
	workers map[string]*worker
	running bool

	wg sync.WaitGroup
}

// worker owns one subscriber's delivery queue. done is closed exactly once,
// on detach or bus stop. overflow holds messages that arrived while the
// queue was full; a single drainer goroutine feeds them back into the queue
// in arrival order, and new messages keep routing through overflow until it
// is empty so per-subscriber order is never violated.
type worker struct {
	sub      Subscriber
	queue    chan *proto.Message
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	overflow []*proto.Message
	draining bool
}

// New creates a stopped bus. Call Start before publishing.
func New(opts Options) *Bus {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		logger:    logx.NewLogger("bus"),
		eventLog:  opts.EventLog,
		recorder:  opts.Recorder,
		history:   opts.History,
		queueSize: queueSize,
		subs:      make(map[proto.MsgType]map[string]*worker),
		workers:   make(map[string]*worker),
	}
}

// Start begins delivering messages to subscribers.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bus is already running")
	}
	b.running = true

	for _, w := range b.workers {
		b.startWorker(w)
	}
	b.logger.Info("Bus started with %d subscribers", len(b.workers))
	return nil
}

// Stop shuts down delivery and waits for workers to drain, up to the context
// deadline. Messages still queued when the deadline passes are dropped.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	workers := make([]*worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Bus stop timed out")
		return ctx.Err()
	}
}

// Subscribe registers sub for messages of the given type. A subscriber keeps
// one queue and worker no matter how many types it subscribes to.
func (b *Bus) Subscribe(msgType proto.MsgType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sub.ID()
	w, exists := b.workers[id]
	if !exists {
		w = &worker{
			sub:   sub,
			queue: make(chan *proto.Message, b.queueSize),
			done:  make(chan struct{}),
		}
		b.workers[id] = w
		if b.running {
			b.startWorker(w)
		}
	}

	if b.subs[msgType] == nil {
		b.subs[msgType] = make(map[string]*worker)
	}
	b.subs[msgType][id] = w
	b.logger.Debug("Subscribed %s to %s", id, msgType)
}

// Unsubscribe removes the subscriber from one message type. Its worker keeps
// running while other subscriptions remain.
func (b *Bus) Unsubscribe(msgType proto.MsgType, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[msgType]; ok {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.subs, msgType)
		}
	}
}

// Detach removes the subscriber from every message type and stops its
// worker.
func (b *Bus) Detach(subscriberID string) {
	b.mu.Lock()
	for msgType, set := range b.subs {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.subs, msgType)
		}
	}
	w, ok := b.workers[subscriberID]
	delete(b.workers, subscriberID)
	b.mu.Unlock()

	if ok {
		w.stop()
		b.logger.Info("Detached subscriber: %s", subscriberID)
	}
}

// Publish enqueues msg for every subscriber of its type and returns without
// waiting for handlers. Delivery order is preserved per subscriber, even
// across queue overflow: spilled messages drain back in arrival order from
// a detached goroutine, so a slow agent delays only its own traffic.
func (b *Bus) Publish(msg *proto.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid message: %w", err)
	}

	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return fmt.Errorf("bus is not running")
	}
	targets := make([]*worker, 0, len(b.subs[msg.Type]))
	for _, w := range b.subs[msg.Type] {
		targets = append(targets, w)
	}
	b.mu.RUnlock()

	if b.eventLog != nil {
		if err := b.eventLog.Append(msg); err != nil {
			b.logger.Warn("Failed to record message %s in event log: %v", msg.ID, err)
		}
	}
	if b.history != nil {
		if err := b.history.RecordMessage(msg); err != nil {
			b.logger.Warn("Failed to archive message %s: %v", msg.ID, err)
		}
	}
	if b.recorder != nil {
		b.recorder.ObservePublish(string(msg.Type))
	}

	b.logger.Debug("Publishing %s %s from %s to %d subscribers", msg.Type, msg.ID, msg.SourceID, len(targets))
	for _, w := range targets {
		b.deliver(w, msg)
	}
	return nil
}

func (b *Bus) deliver(w *worker, msg *proto.Message) {
	w.mu.Lock()
	if len(w.overflow) == 0 {
		select {
		case w.queue <- msg:
			w.mu.Unlock()
			return
		default:
		}
	}

	// Queue full, or earlier messages are already waiting in overflow.
	// Route through overflow so this message cannot jump ahead of them.
	w.overflow = append(w.overflow, msg)
	startDrainer := !w.draining
	w.draining = true
	w.mu.Unlock()

	if b.recorder != nil {
		b.recorder.ObserveQueueOverflow(w.sub.ID())
	}
	b.logger.Warn("Queue full for subscriber %s, deferring delivery of %s", w.sub.ID(), msg.ID)
	if startDrainer {
		b.wg.Add(1)
		go b.drainOverflow(w)
	}
}

// drainOverflow feeds deferred messages into the worker queue in arrival
// order. A message is removed from overflow only after it has been queued,
// so concurrent publishes keep routing behind it until then.
func (b *Bus) drainOverflow(w *worker) {
	defer b.wg.Done()
	for {
		w.mu.Lock()
		if len(w.overflow) == 0 {
			w.draining = false
			w.mu.Unlock()
			return
		}
		msg := w.overflow[0]
		w.mu.Unlock()

		select {
		case w.queue <- msg:
			w.mu.Lock()
			w.overflow = w.overflow[1:]
			w.mu.Unlock()
		case <-w.done:
			return
		}
	}
}

func (b *Bus) startWorker(w *worker) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-w.done:
				return
			case msg := <-w.queue:
				b.dispatch(w, msg)
			}
		}
	}()
}

// dispatch invokes the subscriber handler with panic isolation so one
// misbehaving agent cannot take down the bus.
func (b *Bus) dispatch(w *worker, msg *proto.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber %s panicked handling %s %s: %v", w.sub.ID(), msg.Type, msg.ID, r)
		}
	}()

	start := time.Now()
	w.sub.OnMessage(msg)
	if b.recorder != nil {
		b.recorder.ObserveDelivery(w.sub.ID(), string(msg.Type))
		b.recorder.ObserveHandler(w.sub.ID(), string(msg.Type), time.Since(start))
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// SubscriberCount reports how many subscribers are registered for a type.
func (b *Bus) SubscriberCount(msgType proto.MsgType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[msgType])
}
