package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// DefaultPublishTimeout bounds a single delivery.
const DefaultPublishTimeout = 5 * time.Second

// AsyncNotifier hands events to a Publisher from a background goroutine.
// Notify never blocks: when the buffer is full the event is dropped.
type AsyncNotifier struct {
	publisher Publisher
	queue     chan models.CreationEvent
	timeout   time.Duration
	dropped   atomic.Int64
	published atomic.Int64
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	logger    *zap.Logger
}

// NewAsyncNotifier creates a notifier with the given buffer size (default 128).
func NewAsyncNotifier(publisher Publisher, bufferSize int, logger *zap.Logger) *AsyncNotifier {
	if bufferSize < 1 {
		bufferSize = 128
	}
	return &AsyncNotifier{
		publisher: publisher,
		queue:     make(chan models.CreationEvent, bufferSize),
		timeout:   DefaultPublishTimeout,
		logger:    logger.Named("notifier"),
	}
}

// Start begins delivering queued events until Close is called.
func (n *AsyncNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for evt := range n.queue {
			n.deliver(ctx, evt)
		}
	}()
}

func (n *AsyncNotifier) deliver(ctx context.Context, evt models.CreationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, evt); err != nil {
		n.logger.Warn("Failed to publish creation event",
			zap.String("automation_id", evt.AutomationID),
			zap.Error(err))
		return
	}
	n.published.Add(1)
}

// Notify queues evt for delivery and reports whether it was accepted.
func (n *AsyncNotifier) Notify(evt models.CreationEvent) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return false
	}
	select {
	case n.queue <- evt:
		return true
	default:
		n.dropped.Add(1)
		n.logger.Warn("Event buffer full, dropping creation event",
			zap.String("automation_id", evt.AutomationID))
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// Dropped returns the number of events dropped.
func (n *AsyncNotifier) Dropped() int64 { return n.dropped.Load() }

// Published returns the number of events delivered.
func (n *AsyncNotifier) Published() int64 { return n.published.Load() }
