package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/canvas"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
)

const snapshotAuthor = "collabcanvas"

// Snapshotter commits the room to history once writes have been quiet for
// the idle period.
type Snapshotter struct {
	room    *room.Room
	history *Service
	idle    time.Duration
	sched   canvas.Scheduler
	logger  *zap.Logger

	mu     sync.Mutex
	latest room.Snapshot
	dirty  bool
	timer  canvas.Handle

	commitMu sync.Mutex
}

func NewSnapshotter(r *room.Room, svc *Service, idle time.Duration, sched canvas.Scheduler, logger *zap.Logger) *Snapshotter {
	if sched == nil {
		sched = canvas.TimerScheduler{}
	}
	return &Snapshotter{
		room:    r,
		history: svc,
		idle:    idle,
		sched:   sched,
		logger:  logging.OrNop(logger).Named("history"),
	}
}

// Run follows the room until ctx ends, then commits anything still
// pending.
func (s *Snapshotter) Run(ctx context.Context) error {
	sub := s.room.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			if _, err := s.Flush(); err != nil {
				s.logger.Warn("final snapshot failed", zap.Error(err))
			}
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			s.observe(snap)
		}
	}
}

func (s *Snapshotter) observe(snap room.Snapshot) {
	if snap.Version == 0 && len(snap.Shapes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.dirty = true
	if s.timer != nil {
		s.timer.Cancel()
	}
	s.timer = s.sched.Schedule(s.idle, s.fire)
}

func (s *Snapshotter) fire() {
	if _, err := s.Flush(); err != nil {
		s.logger.Warn("idle snapshot failed", zap.Error(err))
	}
}

// Flush commits the latest observed snapshot if it has not been
// committed. It reports whether a commit was made.
func (s *Snapshotter) Flush() (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return false, nil
	}
	snap := s.latest
	s.dirty = false
	s.mu.Unlock()

	c := FromSnapshot(s.room.ID(), snap)
	msg := fmt.Sprintf("Snapshot v%d (%d shapes)", snap.Version, len(c.Shapes))
	commit, err := s.history.Commit(c, snapshotAuthor, msg)
	if errors.Is(err, ErrNoChanges) {
		s.logger.Debug("canvas unchanged, snapshot skipped", zap.Uint64("version", snap.Version))
		return false, nil
	}
	if err != nil {
		s.mu.Lock()
		if !s.dirty {
			s.dirty = true
			s.latest = snap
		}
		s.mu.Unlock()
		return false, err
	}
	s.logger.Info("canvas snapshot committed",
		zap.String("hash", commit.Hash),
		zap.Uint64("version", snap.Version),
		zap.Int("shapes", len(c.Shapes)),
	)
	return true, nil
}
