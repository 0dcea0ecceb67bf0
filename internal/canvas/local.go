package canvas

import (
	"context"
	"sync"

	"collabcanvas/api/internal/room"
)

// LocalRemote connects a session to a room in the same process.
type LocalRemote struct {
	Room *room.Room
}

func (l LocalRemote) Apply(ctx context.Context, deltas []room.Delta) ([]room.Outcome, error) {
	return l.Room.Apply(ctx, deltas)
}

func (l LocalRemote) Snapshot(context.Context) (room.Snapshot, error) {
	return l.Room.Snapshot(), nil
}

func (l LocalRemote) Subscribe(context.Context) (Feed, error) {
	f := &localFeed{
		sub:  l.Room.Subscribe(),
		out:  make(chan Update, 1),
		stop: make(chan struct{}),
	}
	go f.run()
	return f, nil
}

type localFeed struct {
	sub  *room.Subscription
	out  chan Update
	stop chan struct{}
	once sync.Once
}

func (f *localFeed) run() {
	defer close(f.out)
	reset := true
	for {
		select {
		case <-f.stop:
			return
		case snap, ok := <-f.sub.C():
			if !ok {
				return
			}
			select {
			case f.out <- Update{Snapshot: snap, Reset: reset}:
				reset = false
			case <-f.stop:
				return
			}
		}
	}
}

func (f *localFeed) C() <-chan Update {
	return f.out
}

func (f *localFeed) Close() {
	f.once.Do(func() {
		close(f.stop)
		f.sub.Close()
	})
}
