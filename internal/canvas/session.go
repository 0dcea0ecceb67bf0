package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

// Update is one push from the room. Reset marks the first snapshot after
// a (re)connect.
type Update struct {
	Snapshot room.Snapshot
	Reset    bool
}

// Feed is an open subscription to room updates. C is closed once the feed
// ends.
type Feed interface {
	C() <-chan Update
	Close()
}

// Remote is the room as a client session reaches it. Snapshot returns the
// freshest room state the remote knows of.
type Remote interface {
	Apply(ctx context.Context, deltas []room.Delta) ([]room.Outcome, error)
	Snapshot(ctx context.Context) (room.Snapshot, error)
	Subscribe(ctx context.Context) (Feed, error)
}

type Options struct {
	UserID        string
	FlushInterval time.Duration
	Scheduler     Scheduler
	Now           func() time.Time
	Logger        *zap.Logger
	// OnReconcile, if set, observes every reconciliation pass.
	OnReconcile func(Result)
}

// Session binds a local document to the room: local edits flow out
// through the broadcaster, room snapshots flow in through the reconciler.
type Session struct {
	doc    Document
	remote Remote
	opts   Options
	logger *zap.Logger

	queue       *Queue
	broadcaster *Broadcaster
	reconciler  *Reconciler

	mu       sync.Mutex
	started  bool
	closed   bool
	feed     Feed
	unlisten func()
	done     chan struct{}
}

func NewSession(doc Document, remote Remote, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.OrNop(opts.Logger).Named("canvas")
	if opts.UserID != "" {
		logger = logger.With(zap.String("user_id", opts.UserID))
	}
	s := &Session{
		doc:    doc,
		remote: remote,
		opts:   opts,
		logger: logger,
		queue:  NewQueue(),
		done:   make(chan struct{}),
	}
	s.reconciler = NewReconciler(doc, s.queue.Pending, logger)
	s.broadcaster = NewBroadcaster(s.queue, s.send, opts.Scheduler, opts.FlushInterval, logger)
	return s
}

func (s *Session) Queue() *Queue {
	return s.queue
}

func (s *Session) Reconciler() *Reconciler {
	return s.reconciler
}

// Start subscribes to the room and begins capturing local edits.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("session already started")
	}
	feed, err := s.remote.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to room: %w", err)
	}
	s.started = true
	s.feed = feed
	s.unlisten = s.doc.Listen(s.onChange)
	go s.pump(feed)
	return nil
}

func (s *Session) pump(feed Feed) {
	defer close(s.done)
	for upd := range feed.C() {
		if upd.Reset {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := s.broadcaster.FlushNow(ctx); err != nil {
				s.logger.Warn("flush before resync failed", zap.Error(err))
			}
			cancel()
		}
		res := s.reconciler.Apply(upd.Snapshot)
		if res.Changed() || res.Skipped > 0 {
			s.logger.Debug("reconciled snapshot",
				zap.Uint64("version", upd.Snapshot.Version),
				zap.Int("created", res.Created),
				zap.Int("updated", res.Updated),
				zap.Int("deleted", res.Deleted),
				zap.Int("skipped", res.Skipped),
			)
		}
		if s.opts.OnReconcile != nil {
			s.opts.OnReconcile(res)
		}
	}
}

// onChange captures local edits. Changes made by the reconciler are
// ignored so a remote write never loops back out.
func (s *Session) onChange(c Change) {
	if c.Origin == OriginRemote || !shape.IsSyncable(c.Shape) {
		return
	}
	at := s.reconciler.Capture(c.Shape.ID, s.opts.Now().UnixMilli())
	d := room.Delta{ShapeID: c.Shape.ID, UpdatedAt: at, UpdatedBy: s.opts.UserID}

	switch c.Kind {
	case ChangeAdded, ChangeUpdated:
		rec, err := shape.ToRecord(c.Shape)
		if err != nil {
			s.logger.Warn("local shape not representable", zap.String("shape_id", c.Shape.ID), zap.Error(err))
			return
		}
		if rec.Meta.Source == "" {
			rec.Meta.Source = shape.SourceHuman
		}
		rec.Meta.UpdatedBy = s.opts.UserID
		rec.Meta.UpdatedAt = at
		d.Action = room.ActionUpsert
		d.Shape = &rec
	case ChangeRemoved:
		d.Action = room.ActionDelete
	default:
		return
	}
	s.broadcaster.Enqueue(d)
}

func (s *Session) send(ctx context.Context, deltas []room.Delta) error {
	outcomes, err := s.remote.Apply(ctx, deltas)
	if err != nil {
		return err
	}
	s.reconciler.Acknowledge(deltas, outcomes)
	s.queue.Settle(deltas)

	var rejected []string
	for _, o := range outcomes {
		if !o.Applied {
			s.logger.Info("room rejected local edit", zap.String("shape_id", o.ShapeID), zap.String("reason", o.Reason))
			rejected = append(rejected, o.ShapeID)
		}
	}
	if len(rejected) > 0 {
		s.resync(ctx, rejected)
	}
	return nil
}

// resync rolls rejected local edits back to the room's state. The deltas
// were delivered, so a failure here is logged rather than requeued.
func (s *Session) resync(ctx context.Context, ids []string) {
	snap, err := s.remote.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("resync after rejected edit failed", zap.Strings("shape_ids", ids), zap.Error(err))
		return
	}
	res := s.reconciler.Resync(ids, snap)
	s.logger.Debug("resynced rejected edits",
		zap.Uint64("version", snap.Version),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped),
	)
}

// Flush sends queued edits now.
func (s *Session) Flush(ctx context.Context) error {
	return s.broadcaster.FlushNow(ctx)
}

// Close stops capturing, flushes what is queued, and ends the
// subscription. It waits for the snapshot pump and any timer callback to
// return. The flush error, if any, is returned after teardown completes.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if s.unlisten != nil {
		s.unlisten()
	}
	flushErr := s.broadcaster.FlushNow(ctx)
	s.broadcaster.Stop()
	if !started {
		return flushErr
	}
	s.feed.Close()
	<-s.done
	if flushErr != nil {
		return fmt.Errorf("flush on close: %w", flushErr)
	}
	return nil
}
