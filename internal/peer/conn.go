package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/protocol"
)

// Conn is the part of a peer connection the engine drives. A Conn serves
// exactly one negotiation attempt and is discarded after Close.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddTrack attaches a local track for sending.
	AddTrack(webrtc.TrackLocal) error
	// AddReceiver makes sure the next offer can receive media of kind even
	// when nothing of that kind is sent.
	AddReceiver(kind webrtc.RTPCodecType) error
	// ReplaceVideoTrack swaps the track of the first sender currently
	// carrying video. It reports false when there is no such sender.
	ReplaceVideoTrack(webrtc.TrackLocal) (bool, error)

	// GatheringComplete returns a channel closed when ICE gathering for
	// the next local description finishes. Call it before
	// SetLocalDescription.
	GatheringComplete() <-chan struct{}

	Close() error
}

// RemoteTrack is an incoming media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// ConnHandlers receive a connection's asynchronous events. They may be
// invoked from any goroutine.
type ConnHandlers struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(RemoteTrack)
	OnStateChange  func(webrtc.PeerConnectionState)
}

// ConnFactory creates a fresh connection for one negotiation attempt.
type ConnFactory interface {
	NewConn(id protocol.PeerID, handlers ConnHandlers) (Conn, error)
}

// Channel is the signaling transport. Inbound handlers are registered once
// and must be invoked in arrival order per sender.
type Channel interface {
	Send(to protocol.PeerID, s protocol.Signal) error
	EmitClose(to protocol.PeerID) error
	OnSignal(func(from protocol.PeerID, s protocol.Signal))
	OnClose(func(from protocol.PeerID))
}

// MediaSource exposes the local tracks attached to every new connection.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
}
