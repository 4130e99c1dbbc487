// Package peertest provides in-memory connections and signaling channels
// for exercising the negotiation engine without a network.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/peer"
	"github.com/1ureka/proximity/internal/protocol"
)

// Compile-time interface checks.
var (
	_ peer.Conn        = (*Conn)(nil)
	_ peer.ConnFactory = (*Factory)(nil)
	_ peer.Channel     = (*Channel)(nil)
	_ peer.Channel     = (*HubChannel)(nil)
)

// ---------------------------------------------------------------------------
// Conn
// ---------------------------------------------------------------------------

// Conn is a scripted peer.Conn. Descriptions are opaque strings and the
// signaling state follows the offer/answer rules pion enforces.
type Conn struct {
	Peer     protocol.PeerID
	Seq      int
	handlers peer.ConnHandlers

	mu         sync.Mutex
	state      webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	receivers  []webrtc.RTPCodecType
	gathered   chan struct{}
	gatherOnce sync.Once
	closed     bool

	candidateErr error
}

func newConn(id protocol.PeerID, seq int, h peer.ConnHandlers) *Conn {
	return &Conn{
		Peer:     id,
		Seq:      seq,
		handlers: h,
		state:    webrtc.SignalingStateStable,
		gathered: make(chan struct{}),
	}
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errors.New("peertest: conn closed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer/%s/%d", c.Peer, c.Seq)}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("peertest: create answer in %s", c.state)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer/%s/%d", c.Peer, c.Seq)}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return errors.New("peertest: conn closed")
	case d.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveLocalOffer
	case d.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveRemoteOffer:
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("peertest: local %s in %s", d.Type, c.state)
	}
	c.local = &d
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return errors.New("peertest: conn closed")
	case d.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case d.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveLocalOffer:
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("peertest: remote %s in %s", d.Type, c.state)
	}
	c.remote = &d
	return nil
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// RemoteDescription returns the last applied remote description.
func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("peertest: candidate before remote description")
	}
	if c.candidateErr != nil {
		return c.candidateErr
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

// FailCandidates makes AddICECandidate return err.
func (c *Conn) FailCandidates(err error) {
	c.mu.Lock()
	c.candidateErr = err
	c.mu.Unlock()
}

// Candidates returns the remote candidates applied so far, in order.
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Candidate
	}
	return out
}

func (c *Conn) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

// Tracks returns the local tracks currently attached.
func (c *Conn) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.tracks...)
}

func (c *Conn) AddReceiver(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers = append(c.receivers, kind)
	return nil
}

// Receivers returns the receive-only kinds requested.
func (c *Conn) Receivers() []webrtc.RTPCodecType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.RTPCodecType(nil), c.receivers...)
}

func (c *Conn) ReplaceVideoTrack(t webrtc.TrackLocal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.tracks {
		if cur.Kind() == webrtc.RTPCodecTypeVideo {
			c.tracks[i] = t
			return true, nil
		}
	}
	return false, nil
}

func (c *Conn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

// Gather finishes ICE gathering.
func (c *Conn) Gather() {
	c.gatherOnce.Do(func() { close(c.gathered) })
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitCandidate fires the local ICE candidate handler.
func (c *Conn) EmitCandidate(candidate string) {
	if c.handlers.OnICECandidate != nil {
		c.handlers.OnICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
	}
}

// EmitState fires the transport state handler.
func (c *Conn) EmitState(s webrtc.PeerConnectionState) {
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}

// EmitTrack fires the remote track handler.
func (c *Conn) EmitTrack(t peer.RemoteTrack) {
	if c.handlers.OnTrack != nil {
		c.handlers.OnTrack(t)
	}
}

// Track is a fixed peer.RemoteTrack.
type Track struct {
	TrackID, Stream string
	Type            webrtc.RTPCodecType
}

func (t Track) ID() string                { return t.TrackID }
func (t Track) StreamID() string          { return t.Stream }
func (t Track) Kind() webrtc.RTPCodecType { return t.Type }

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Factory hands out Conns and remembers every one it made, per peer.
type Factory struct {
	// AutoGather makes every new Conn report gathering complete at once.
	AutoGather bool

	mu    sync.Mutex
	err   error
	conns map[protocol.PeerID][]*Conn
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[protocol.PeerID][]*Conn)}
}

// FailNext makes the following NewConn calls return err until cleared
// with FailNext(nil).
func (f *Factory) FailNext(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Factory) NewConn(id protocol.PeerID, h peer.ConnHandlers) (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := newConn(id, len(f.conns[id])+1, h)
	if f.AutoGather {
		c.Gather()
	}
	f.conns[id] = append(f.conns[id], c)
	return c, nil
}

// Conns returns every Conn made for id, oldest first.
func (f *Factory) Conns(id protocol.PeerID) []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns[id]...)
}

// Last returns the newest Conn made for id, or nil.
func (f *Factory) Last(id protocol.PeerID) *Conn {
	conns := f.Conns(id)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Open counts the Conns for id that have not been closed.
func (f *Factory) Open(id protocol.PeerID) int {
	n := 0
	for _, c := range f.Conns(id) {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

// Sent is one outbound signal.
type Sent struct {
	To     protocol.PeerID
	Signal protocol.Signal
}

// Channel records outbound traffic and lets a test inject inbound traffic.
type Channel struct {
	mu       sync.Mutex
	sent     []Sent
	closes   []protocol.PeerID
	onSignal func(protocol.PeerID, protocol.Signal)
	onClose  func(protocol.PeerID)
	err      error
}

func NewChannel() *Channel { return &Channel{} }

// FailSends makes Send and EmitClose return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Channel) Send(to protocol.PeerID, s protocol.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, Sent{To: to, Signal: s})
	return nil
}

func (c *Channel) EmitClose(to protocol.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.closes = append(c.closes, to)
	return nil
}

func (c *Channel) OnSignal(fn func(protocol.PeerID, protocol.Signal)) {
	c.mu.Lock()
	c.onSignal = fn
	c.mu.Unlock()
}

func (c *Channel) OnClose(fn func(protocol.PeerID)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Deliver injects an inbound signal.
func (c *Channel) Deliver(from protocol.PeerID, s protocol.Signal) {
	c.mu.Lock()
	fn := c.onSignal
	c.mu.Unlock()
	if fn != nil {
		fn(from, s)
	}
}

// DeliverClose injects an inbound close notice.
func (c *Channel) DeliverClose(from protocol.PeerID) {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn(from)
	}
}

// Sent returns the outbound signals so far.
func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentKinds returns the kinds of signals sent to id, in order.
func (c *Channel) SentKinds(to protocol.PeerID) []string {
	var kinds []string
	for _, s := range c.Sent() {
		if s.To == to {
			kinds = append(kinds, protocol.Kind(s.Signal))
		}
	}
	return kinds
}

// Closes returns the ids close notices were sent to.
func (c *Channel) Closes() []protocol.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.PeerID(nil), c.closes...)
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// Hub links several HubChannels: a signal sent to an id is delivered to
// that id's channel. Delivery is synchronous and in order.
type Hub struct {
	mu    sync.Mutex
	chans map[protocol.PeerID]*HubChannel
}

func NewHub() *Hub {
	return &Hub{chans: make(map[protocol.PeerID]*HubChannel)}
}

// Channel returns the channel for id, creating it on first use.
func (h *Hub) Channel(id protocol.PeerID) *HubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.chans[id]; ok {
		return c
	}
	c := &HubChannel{hub: h, id: id}
	h.chans[id] = c
	return c
}

func (h *Hub) lookup(id protocol.PeerID) (*HubChannel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chans[id]
	return c, ok
}

// HubChannel is one participant's view of a Hub.
type HubChannel struct {
	Channel
	hub *Hub
	id  protocol.PeerID
}

func (c *HubChannel) Send(to protocol.PeerID, s protocol.Signal) error {
	if err := c.Channel.Send(to, s); err != nil {
		return err
	}
	if dst, ok := c.hub.lookup(to); ok {
		dst.Deliver(c.id, s)
	}
	return nil
}

func (c *HubChannel) EmitClose(to protocol.PeerID) error {
	if err := c.Channel.EmitClose(to); err != nil {
		return err
	}
	if dst, ok := c.hub.lookup(to); ok {
		dst.DeliverClose(c.id)
	}
	return nil
}
