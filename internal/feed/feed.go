// Package feed republishes the stored exchange list to live subscribers.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yourorg/cavelog/pkg/types"
)

// Lister is the read side of the record store.
type Lister interface {
	ListAll(ctx context.Context) ([]types.Exchange, error)
}

// Feed re-reads its Lister whenever Notify is called and hands the full snapshot
// to every subscriber. Snapshots are shared and must be treated as read-only.
type Feed struct {
	src  Lister
	wake chan struct{}
	done chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	last    []types.Exchange
	hasLast bool
	closed  bool

	closeOnce sync.Once
}

// New starts the refresh goroutine and loads the first snapshot.
func New(src Lister) *Feed {
	f := &Feed{
		src:  src,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		quit: make(chan struct{}),
		subs: make(map[*Subscription]struct{}),
	}
	go f.run()
	f.Notify()
	return f
}

// Notify schedules a refresh. It never blocks; bursts collapse into one re-read.
func (f *Feed) Notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		select {
		case <-f.quit:
			return
		case <-f.wake:
			f.refresh()
		}
	}
}

func (f *Feed) refresh() {
	list, err := f.src.ListAll(context.Background())
	if err != nil {
		slog.Warn("feed refresh failed", "error", err)
		return
	}
	if list == nil {
		list = []types.Exchange{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last, f.hasLast = list, true
	for s := range f.subs {
		s.offer(list)
	}
}

// Snapshot returns the most recent list and whether one has been loaded yet.
func (f *Feed) Snapshot() ([]types.Exchange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

// Subscribe registers a new subscriber. It receives the current snapshot at once
// when one is loaded. After Close the returned subscription is already cancelled.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{feed: f, ch: make(chan []types.Exchange, 1)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.closeLocked()
		return s
	}
	if f.hasLast {
		s.offer(f.last)
	}
	f.subs[s] = struct{}{}
	return s
}

// Close stops refreshing and closes every subscription channel.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.quit)
		<-f.done
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = true
		for s := range f.subs {
			s.closeLocked()
			delete(f.subs, s)
		}
	})
}

// Subscription is a one-slot mailbox: an undelivered snapshot is replaced by a newer one.
type Subscription struct {
	feed   *Feed
	ch     chan []types.Exchange
	closed bool
}

// C delivers snapshots. It is closed on Cancel or when the feed closes.
func (s *Subscription) C() <-chan []types.Exchange { return s.ch }

// Cancel unregisters s. Safe to call more than once.
func (s *Subscription) Cancel() {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, s)
	s.closeLocked()
}

// offer is called with feed.mu held, so there is a single producer per channel.
func (s *Subscription) offer(list []types.Exchange) {
	if s.closed {
		return
	}
	select {
	case s.ch <- list:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- list:
	default:
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
