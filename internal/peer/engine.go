// Package peer drives offer/answer/ICE negotiation with every nearby
// participant over a signaling channel, keeping at most one live
// connection per peer.
package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

var (
	ErrEngineStopped = errors.New("peer: engine stopped")
	ErrNotStarted    = errors.New("peer: engine not started")
)

// Defaults applied by NewEngine for zero-valued options.
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultGatherTimeout = 3 * time.Second
)

// Options configures an Engine. LocalID, Channel and Factory are required.
type Options struct {
	LocalID protocol.PeerID
	Channel Channel
	Factory ConnFactory
	Media   MediaSource // nil means receive-only

	MaxRetries    int
	RetryDelay    time.Duration
	RetryJitter   time.Duration // uniform extra delay in [0, RetryJitter)
	GatherTimeout time.Duration

	// OnRemoteStream and OnDisconnect run on the engine loop. They must not
	// block or call back into the Engine synchronously.
	OnRemoteStream func(id protocol.PeerID, stream *RemoteStream)
	OnDisconnect   func(id protocol.PeerID)
}

// Snapshot is a point-in-time view of the ids the engine knows about.
type Snapshot struct {
	// Tracked are ids with a record in the table.
	Tracked []protocol.PeerID
	// Abandoned are ids that exhausted their retries. The mark is cleared
	// by ClosePeer, CreateOffer or an offer from that peer.
	Abandoned []protocol.PeerID
}

// Engine owns the peer table. All state changes happen on a single loop
// goroutine; the exported methods hand work to it and wait.
type Engine struct {
	opts Options

	table     *Table
	abandoned map[protocol.PeerID]struct{}
	video     webrtc.TrackLocal // replacement for the source's video track

	loop     *loop
	started  atomic.Bool
	stopOnce sync.Once
}

// NewEngine validates opts and returns an engine ready to Start.
func NewEngine(opts Options) (*Engine, error) {
	if opts.LocalID == "" {
		return nil, fmt.Errorf("peer: local id is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("peer: signaling channel is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("peer: connection factory is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = DefaultGatherTimeout
	}

	return &Engine{
		opts:      opts,
		table:     NewTable(),
		abandoned: make(map[protocol.PeerID]struct{}),
		loop:      newLoop(),
	}, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start subscribes to the signaling channel and starts the loop. The
// engine stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("peer: engine already started")
	}

	e.opts.Channel.OnSignal(func(from protocol.PeerID, s protocol.Signal) {
		e.loop.post(func() { e.handleSignal(from, s) })
	})
	e.opts.Channel.OnClose(func(from protocol.PeerID) {
		e.loop.post(func() { e.closePeer(from, false) })
	})

	go e.loop.run()
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.loop.done:
		}
	}()

	util.LogDebug("negotiation engine started (local id %s)", e.opts.LocalID)
	return nil
}

// Stop closes every peer, notifying the remote sides, and ends the loop.
func (e *Engine) Stop() {
	if !e.started.Load() {
		return
	}
	e.stopOnce.Do(func() {
		_ = e.loop.call(func() { e.closeAll(true) })
		e.loop.stop()
		util.LogDebug("negotiation engine stopped")
	})
}

func (e *Engine) do(fn func()) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	return e.loop.call(fn)
}

// ---------------------------------------------------------------------------
// Directives
// ---------------------------------------------------------------------------

// LocalID returns the id this engine negotiates as.
func (e *Engine) LocalID() protocol.PeerID { return e.opts.LocalID }

// CreateOffer dials id. It is a no-op when the peer is already connected
// or mid-negotiation. Dialing clears an abandoned mark.
func (e *Engine) CreateOffer(id protocol.PeerID) error {
	return e.do(func() { e.offer(id) })
}

// ClosePeer tears down id and sends the remote side a close notice.
func (e *Engine) ClosePeer(id protocol.PeerID) error {
	return e.do(func() { e.closePeer(id, true) })
}

// CloseAll tears down every peer, notifying each remote side.
func (e *Engine) CloseAll() error {
	return e.do(func() { e.closeAll(true) })
}

// HandleSignal processes an inbound signal as if it came from the channel.
func (e *Engine) HandleSignal(from protocol.PeerID, s protocol.Signal) error {
	return e.do(func() { e.handleSignal(from, s) })
}

// HandleClose processes a remote close notice.
func (e *Engine) HandleClose(from protocol.PeerID) error {
	return e.do(func() { e.closePeer(from, false) })
}

// ReplaceVideoTrack swaps the outgoing video track on every peer that
// currently sends video, and uses track for connections made later. It
// returns how many peers were switched.
func (e *Engine) ReplaceVideoTrack(track webrtc.TrackLocal) (int, error) {
	replaced := 0
	err := e.do(func() {
		e.video = track
		for _, id := range e.table.IDs() {
			rec, _ := e.table.Get(id)
			if rec.Conn == nil {
				continue
			}
			ok, err := rec.Conn.ReplaceVideoTrack(track)
			switch {
			case err != nil:
				util.LogPeerWarning(string(id), "replace video track: %v", err)
			case !ok:
				util.LogPeerDebug(string(id), "no video sender, track replacement skipped")
			default:
				replaced++
			}
		}
	})
	return replaced, err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// State returns the negotiation state of id.
func (e *Engine) State(id protocol.PeerID) (State, bool) {
	var (
		state State
		ok    bool
	)
	_ = e.do(func() {
		var rec *Record
		if rec, ok = e.table.Get(id); ok {
			state = rec.State
		}
	})
	return state, ok
}

// Snapshot returns the tracked and abandoned ids.
func (e *Engine) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := e.do(func() {
		snap.Tracked = e.table.IDs()
		for id := range e.abandoned {
			snap.Abandoned = append(snap.Abandoned, id)
		}
		slices.Sort(snap.Abandoned)
	})
	return snap, err
}

// ConnectedPeers returns the ids currently in the connected state.
func (e *Engine) ConnectedPeers() []protocol.PeerID {
	var ids []protocol.PeerID
	_ = e.do(func() {
		for _, id := range e.table.IDs() {
			if rec, _ := e.table.Get(id); rec.State == StateConnected {
				ids = append(ids, id)
			}
		}
	})
	return ids
}

// IsConnected reports whether id is in the connected state.
func (e *Engine) IsConnected(id protocol.PeerID) bool {
	state, ok := e.State(id)
	return ok && state == StateConnected
}

// RemoteStream returns a copy of the tracks received from id, or nil.
func (e *Engine) RemoteStream(id protocol.PeerID) *RemoteStream {
	var stream *RemoteStream
	_ = e.do(func() {
		if rec, ok := e.table.Get(id); ok {
			stream = rec.Stream.clone()
		}
	})
	return stream
}

// ---------------------------------------------------------------------------
// Loop-side implementation
// ---------------------------------------------------------------------------

// polite reports whether we yield to remote's offer on glare.
func (e *Engine) polite(remote protocol.PeerID) bool {
	return e.opts.LocalID.Less(remote)
}

// current returns the record for id if it is still on attempt.
func (e *Engine) current(id protocol.PeerID, attempt uint64) (*Record, bool) {
	rec, ok := e.table.Get(id)
	if !ok || rec.attempt != attempt {
		return nil, false
	}
	return rec, true
}

func (e *Engine) setState(rec *Record, s State) {
	if rec.State == s {
		return
	}
	util.LogPeerDebug(string(rec.ID), "%s → %s", rec.State, s)
	switch {
	case s == StateConnected:
		util.Stats.AddPeerUp()
	case rec.State == StateConnected:
		util.Stats.AddPeerDown()
	}
	rec.State = s
}

func (e *Engine) offer(id protocol.PeerID) {
	if id == e.opts.LocalID {
		util.LogWarning("refusing to dial own id %s", id)
		return
	}
	delete(e.abandoned, id)

	rec, ok := e.table.Get(id)
	if ok {
		switch rec.State {
		case StateConnected, StateOffering, StateAnswering:
			util.LogPeerDebug(string(id), "offer skipped, already %s", rec.State)
			return
		}
		if rec.Negotiating {
			return
		}
	}
	e.startOffer(id, rec)
}

// startOffer opens a fresh connection for id and sends an offer once ICE
// gathering finishes or GatherTimeout elapses, whichever comes first.
func (e *Engine) startOffer(id protocol.PeerID, prev *Record) {
	rec := e.attach(id, prev)
	if rec.Conn == nil {
		return
	}
	conn := rec.Conn

	e.attachLocalMedia(rec, true)
	e.setState(rec, StateOffering)
	rec.Negotiating = true

	offer, err := conn.CreateOffer()
	if err != nil {
		e.fail(rec, fmt.Errorf("create offer: %w", err))
		return
	}
	gathered := conn.GatheringComplete()
	if err := conn.SetLocalDescription(offer); err != nil {
		e.fail(rec, fmt.Errorf("set local offer: %w", err))
		return
	}

	go e.awaitGathering(id, rec.attempt, gathered)
}

func (e *Engine) awaitGathering(id protocol.PeerID, attempt uint64, gathered <-chan struct{}) {
	timer := time.NewTimer(e.opts.GatherTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
	case <-timer.C:
		util.LogPeerDebug(string(id), "ICE gathering still running after %s, sending offer anyway", e.opts.GatherTimeout)
	case <-e.loop.ctx.Done():
		return
	}

	e.loop.post(func() { e.sendOffer(id, attempt) })
}

func (e *Engine) sendOffer(id protocol.PeerID, attempt uint64) {
	rec, ok := e.current(id, attempt)
	if !ok || rec.Conn == nil || rec.State != StateOffering {
		util.LogPeerDebug(string(id), "offer superseded before sending")
		return
	}

	desc := rec.Conn.LocalDescription()
	if desc == nil {
		e.fail(rec, fmt.Errorf("no local description after gathering"))
		return
	}
	if err := e.opts.Channel.Send(id, protocol.Offer{SDP: desc.SDP}); err != nil {
		e.fail(rec, fmt.Errorf("send offer: %w", err))
		return
	}
	rec.sent = true
	util.Stats.AddOffer()
}

// attach closes any previous connection of rec and gives it a fresh one
// on a new attempt number. On factory failure rec.Conn is nil and the
// record has already gone through fail.
func (e *Engine) attach(id protocol.PeerID, rec *Record) *Record {
	if rec == nil {
		rec = &Record{ID: id}
	} else {
		e.release(rec)
	}
	rec.reset()
	rec.Conn = nil
	e.setState(rec, StateIdle)
	rec.attempt++
	e.table.Upsert(id, rec)

	attempt := rec.attempt
	handlers := ConnHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			e.loop.post(func() { e.localCandidate(id, attempt, c) })
		},
		OnTrack: func(t RemoteTrack) {
			e.loop.post(func() { e.remoteTrack(id, attempt, t) })
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			e.loop.post(func() { e.transportState(id, attempt, s) })
		},
	}

	conn, err := e.opts.Factory.NewConn(id, handlers)
	if err != nil {
		e.fail(rec, fmt.Errorf("new connection: %w", err))
		return rec
	}
	rec.Conn = conn
	return rec
}

func (e *Engine) attachLocalMedia(rec *Record, offering bool) {
	sending := make(map[webrtc.RTPCodecType]bool)

	var tracks []webrtc.TrackLocal
	if e.opts.Media != nil {
		tracks = e.opts.Media.Tracks()
	}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if t.Kind() == webrtc.RTPCodecTypeVideo && e.video != nil {
			t = e.video
		}
		if err := rec.Conn.AddTrack(t); err != nil {
			util.LogPeerWarning(string(rec.ID), "add %s track: %v", t.Kind(), err)
			continue
		}
		sending[t.Kind()] = true
	}
	if e.video != nil && !sending[webrtc.RTPCodecTypeVideo] {
		if err := rec.Conn.AddTrack(e.video); err == nil {
			sending[webrtc.RTPCodecTypeVideo] = true
		}
	}

	if len(sending) == 0 {
		util.LogPeerDebug(string(rec.ID), "no local media, negotiating receive-only")
	}
	if !offering {
		return
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if err := rec.Conn.AddReceiver(kind); err != nil {
			util.LogPeerWarning(string(rec.ID), "add %s receiver: %v", kind, err)
		}
	}
}

// release closes rec's connection. Close errors are logged and ignored.
func (e *Engine) release(rec *Record) {
	if rec.Conn == nil {
		return
	}
	if err := rec.Conn.Close(); err != nil {
		util.LogPeerDebug(string(rec.ID), "close connection: %v", err)
	}
}

// fail handles a failed attempt: the connection is released, then either
// a retry is scheduled or the peer is abandoned.
func (e *Engine) fail(rec *Record, err error) {
	util.LogPeerWarning(string(rec.ID), "negotiation failed: %v", err)

	e.release(rec)
	rec.Conn = nil
	rec.reset()
	e.setState(rec, StateFailed)

	rec.Retries++
	if rec.Retries >= e.opts.MaxRetries {
		util.LogPeerWarning(string(rec.ID), "giving up after %d failed attempts", rec.Retries)
		e.abandon(rec)
		return
	}

	util.Stats.AddRetry()
	delay := e.retryDelay()
	id, attempt := rec.ID, rec.attempt
	rec.retryTimer = time.AfterFunc(delay, func() {
		e.loop.post(func() { e.retry(id, attempt) })
	})
	util.LogPeerDebug(string(rec.ID), "retry %d/%d in %s", rec.Retries, e.opts.MaxRetries-1, delay)
}

func (e *Engine) retryDelay() time.Duration {
	if e.opts.RetryJitter <= 0 {
		return e.opts.RetryDelay
	}
	return e.opts.RetryDelay + rand.N(e.opts.RetryJitter)
}

func (e *Engine) retry(id protocol.PeerID, attempt uint64) {
	rec, ok := e.current(id, attempt)
	if !ok || rec.State != StateFailed {
		return
	}
	rec.retryTimer = nil
	e.startOffer(id, rec)
}

func (e *Engine) abandon(rec *Record) {
	e.table.Remove(rec.ID)
	e.setState(rec, StateClosed)
	e.abandoned[rec.ID] = struct{}{}
	e.notifyDisconnect(rec.ID)
}

func (e *Engine) closePeer(id protocol.PeerID, notify bool) {
	delete(e.abandoned, id)

	rec, ok := e.table.Get(id)
	if !ok {
		return
	}

	e.release(rec)
	rec.Conn = nil
	rec.reset()
	e.table.Remove(id)
	e.setState(rec, StateClosed)

	if notify {
		if err := e.opts.Channel.EmitClose(id); err != nil {
			util.LogPeerWarning(string(id), "send close notice: %v", err)
		}
	}
	e.notifyDisconnect(id)
}

func (e *Engine) closeAll(notify bool) {
	for _, id := range e.table.IDs() {
		e.closePeer(id, notify)
	}
	clear(e.abandoned)
}

func (e *Engine) notifyDisconnect(id protocol.PeerID) {
	if e.opts.OnDisconnect != nil {
		e.opts.OnDisconnect(id)
	}
}

// ---------------------------------------------------------------------------
// Inbound signals
// ---------------------------------------------------------------------------

func (e *Engine) handleSignal(from protocol.PeerID, s protocol.Signal) {
	if from == e.opts.LocalID {
		util.LogWarning("dropping %s signal addressed from our own id", protocol.Kind(s))
		return
	}

	switch v := s.(type) {
	case protocol.Offer:
		e.remoteOffer(from, v)
	case protocol.Answer:
		e.remoteAnswer(from, v)
	case protocol.Candidate:
		e.remoteCandidate(from, v)
	default:
		e.drop(from, "unexpected signal %T", s)
	}
}

func (e *Engine) drop(from protocol.PeerID, format string, args ...interface{}) {
	util.Stats.AddDropped()
	util.LogPeerWarning(string(from), format, args...)
}

func (e *Engine) remoteOffer(from protocol.PeerID, offer protocol.Offer) {
	rec, ok := e.table.Get(from)
	if ok {
		collision := rec.Negotiating ||
			(rec.Conn != nil && rec.Conn.SignalingState() != webrtc.SignalingStateStable)
		if collision && !e.polite(from) {
			e.drop(from, "glare: ignoring offer while our own is outstanding")
			return
		}
		if collision {
			util.LogPeerDebug(string(from), "glare: discarding our offer to answer theirs")
		}
	}
	delete(e.abandoned, from)

	rec = e.attach(from, rec)
	if rec.Conn == nil {
		return
	}
	conn := rec.Conn

	e.attachLocalMedia(rec, false)
	e.setState(rec, StateAnswering)
	rec.Negotiating = true

	if err := conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		e.fail(rec, fmt.Errorf("set remote offer: %w", err))
		return
	}
	rec.remoteSet = true
	e.drainCandidates(rec)

	answer, err := conn.CreateAnswer()
	if err != nil {
		e.fail(rec, fmt.Errorf("create answer: %w", err))
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		e.fail(rec, fmt.Errorf("set local answer: %w", err))
		return
	}
	if desc := conn.LocalDescription(); desc != nil {
		answer = *desc
	}
	if err := e.opts.Channel.Send(from, protocol.Answer{SDP: answer.SDP}); err != nil {
		e.fail(rec, fmt.Errorf("send answer: %w", err))
		return
	}
	rec.sent = true
	rec.Negotiating = false
	util.Stats.AddAnswer()
}

func (e *Engine) remoteAnswer(from protocol.PeerID, answer protocol.Answer) {
	rec, ok := e.table.Get(from)
	if !ok {
		e.drop(from, "answer from unknown peer")
		return
	}
	if rec.State != StateOffering || rec.Conn == nil ||
		rec.Conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		e.drop(from, "stale answer while %s", rec.State)
		return
	}

	if err := rec.Conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		e.fail(rec, fmt.Errorf("set remote answer: %w", err))
		return
	}
	rec.remoteSet = true
	rec.Negotiating = false
	e.drainCandidates(rec)
	e.setState(rec, StateConnected)
}

func (e *Engine) remoteCandidate(from protocol.PeerID, c protocol.Candidate) {
	rec, ok := e.table.Get(from)
	if !ok || rec.Conn == nil {
		e.drop(from, "candidate for unknown or idle peer")
		return
	}
	if !rec.remoteSet {
		rec.Pending = append(rec.Pending, c.Init)
		return
	}
	e.applyCandidate(rec, c.Init)
}

// drainCandidates applies buffered candidates in arrival order, once.
func (e *Engine) drainCandidates(rec *Record) {
	pending := rec.Pending
	rec.Pending = nil
	for _, c := range pending {
		e.applyCandidate(rec, c)
	}
}

func (e *Engine) applyCandidate(rec *Record, c webrtc.ICECandidateInit) {
	if err := rec.Conn.AddICECandidate(c); err != nil {
		util.LogPeerWarning(string(rec.ID), "skipping candidate: %v", err)
		return
	}
	util.Stats.AddCandidateRecv()
}

// ---------------------------------------------------------------------------
// Connection events
// ---------------------------------------------------------------------------

func (e *Engine) localCandidate(id protocol.PeerID, attempt uint64, c webrtc.ICECandidateInit) {
	rec, ok := e.current(id, attempt)
	if !ok || rec.Conn == nil || !rec.sent {
		// Before the description goes out, gathered candidates ride in it.
		return
	}
	if err := e.opts.Channel.Send(id, protocol.Candidate{Init: c}); err != nil {
		util.LogPeerDebug(string(id), "send candidate: %v", err)
		return
	}
	util.Stats.AddCandidateSent()
}

func (e *Engine) remoteTrack(id protocol.PeerID, attempt uint64, t RemoteTrack) {
	rec, ok := e.current(id, attempt)
	if !ok || rec.Conn == nil {
		return
	}
	if rec.Stream == nil {
		rec.Stream = &RemoteStream{ID: t.StreamID()}
	}
	rec.Stream.Tracks = append(rec.Stream.Tracks, t)
	util.LogPeerDebug(string(id), "remote %s track %s", t.Kind(), t.ID())

	if e.opts.OnRemoteStream != nil {
		e.opts.OnRemoteStream(id, rec.Stream.clone())
	}
}

func (e *Engine) transportState(id protocol.PeerID, attempt uint64, s webrtc.PeerConnectionState) {
	rec, ok := e.current(id, attempt)
	if !ok || rec.Conn == nil {
		return
	}

	switch s {
	case webrtc.PeerConnectionStateConnected:
		rec.Retries = 0
		rec.Negotiating = false
		e.setState(rec, StateConnected)
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		e.fail(rec, fmt.Errorf("transport %s", s))
	}
}
