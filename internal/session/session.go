package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

// Options wires a Session. Engine and Proximity are required.
type Options struct {
	Engine Engine
	// Proximity delivers the full proximity set once per tick.
	Proximity <-chan []protocol.PeerID
	// OnNearbyChange fires when the set turns empty or non-empty, e.g. to
	// start or stop local capture.
	OnNearbyChange func(nearby bool)
}

// Session owns the reconciler for one stay in a room.
type Session struct {
	opts       Options
	reconciler *Reconciler
	nearby     atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Session {
	return &Session{
		opts:       opts,
		reconciler: NewReconciler(opts.Engine),
	}
}

// Start consumes proximity ticks until ctx is done, Stop is called or
// the proximity channel closes. Calling Start twice is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the session and closes every peer, notifying the remotes.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := s.opts.Engine.CloseAll(); err != nil {
		util.LogDebug("session: close peers: %v", err)
	}
	s.setNearby(false)
}

// Done is closed when the tick loop exits.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Nearby reports whether the last proximity set was non-empty.
func (s *Session) Nearby() bool { return s.nearby.Load() }

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-s.opts.Proximity:
			if !ok {
				return
			}
			s.Tick(set)
		}
	}
}

// Tick reconciles one proximity set. It must not run concurrently with
// the tick loop started by Start.
func (s *Session) Tick(set []protocol.PeerID) {
	directives, err := s.reconciler.Reconcile(set)
	if err != nil {
		util.LogWarning("reconcile: %v", err)
	}
	if len(directives) > 0 {
		util.LogDebug("proximity: %d directive(s)", len(directives))
	}
	s.setNearby(len(normalize(set, s.opts.Engine.LocalID())) > 0)
}

func (s *Session) setNearby(v bool) {
	if s.nearby.Swap(v) != v && s.opts.OnNearbyChange != nil {
		s.opts.OnNearbyChange(v)
	}
}
