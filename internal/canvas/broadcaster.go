package canvas

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/metrics"
	"collabcanvas/api/internal/room"
)

const (
	DefaultFlushInterval = 80 * time.Millisecond

	flushTimeout = 5 * time.Second
)

// SendFunc delivers a batch of deltas to the room.
type SendFunc func(ctx context.Context, deltas []room.Delta) error

// Broadcaster flushes the queue on the trailing edge of a fixed window:
// the first edit arms a timer, later edits within the window only update
// the queue, and the timer sends everything once.
type Broadcaster struct {
	queue    *Queue
	send     SendFunc
	sched    Scheduler
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending Handle
	stopped bool
	running sync.WaitGroup

	flushMu sync.Mutex
}

func NewBroadcaster(queue *Queue, send SendFunc, sched Scheduler, interval time.Duration, logger *zap.Logger) *Broadcaster {
	if sched == nil {
		sched = TimerScheduler{}
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Broadcaster{
		queue:    queue,
		send:     send,
		sched:    sched,
		interval: interval,
		logger:   logging.OrNop(logger),
	}
}

// Enqueue queues d and arms the flush timer unless one is pending.
func (b *Broadcaster) Enqueue(d room.Delta) {
	b.queue.Put(d)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armLocked()
}

func (b *Broadcaster) armLocked() {
	if b.stopped || b.pending != nil {
		return
	}
	b.running.Add(1)
	b.pending = b.sched.Schedule(b.interval, b.fire)
}

func (b *Broadcaster) fire() {
	defer b.running.Done()
	b.mu.Lock()
	b.pending = nil
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := b.flush(ctx); err != nil {
		b.logger.Debug("flush failed, deltas requeued", zap.Int("queued", b.queue.Len()), zap.Error(err))
	}

	b.mu.Lock()
	if b.queue.Len() > 0 {
		b.armLocked()
	}
	b.mu.Unlock()
}

// FlushNow cancels the pending timer and sends the queue synchronously.
func (b *Broadcaster) FlushNow(ctx context.Context) error {
	b.mu.Lock()
	if b.pending != nil && b.pending.Cancel() {
		b.pending = nil
		b.running.Done()
	}
	b.mu.Unlock()
	return b.flush(ctx)
}

// Stop cancels the pending timer without flushing and waits for a running
// timer callback to return. Enqueue after Stop only queues.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.pending != nil && b.pending.Cancel() {
		b.pending = nil
		b.running.Done()
	}
	b.mu.Unlock()
	b.running.Wait()
}

func (b *Broadcaster) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	deltas := b.queue.Take()
	if len(deltas) == 0 {
		return nil
	}
	if err := b.send(ctx, deltas); err != nil {
		b.queue.Requeue(deltas)
		metrics.Flushes.WithLabelValues("error").Inc()
		return err
	}
	metrics.Flushes.WithLabelValues("ok").Inc()
	metrics.FlushedDeltas.Add(float64(len(deltas)))
	return nil
}
