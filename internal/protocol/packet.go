// Package protocol defines the room wire format: event envelopes, their
// payloads, and the negotiation signals relayed between participants.
package protocol

import "encoding/json"

// PeerID is the stable session identifier of a participant. IDs are
// compared lexicographically to decide who dials and who yields on glare.
type PeerID string

// Less reports whether id sorts before other.
func (id PeerID) Less(other PeerID) bool { return id < other }

// Event names an envelope's payload type.
type Event string

// Client → server events.
const (
	EventJoinRoom   Event = "join-room"
	EventPlayerMove Event = "player-move"
	EventSendSignal Event = "send-signal"
	EventClosePeer  Event = "close-peer" // also server → client
	EventQuitRoom   Event = "quit-room"
)

// Server → client events.
const (
	EventCurrentUsers  Event = "current-users"
	EventNewUserJoined Event = "new-user-joined"
	EventPlayerMoved   Event = "player-moved"
	EventUserLeft      Event = "user-left"
	EventReceiveSignal Event = "receive-signal"
	EventError         Event = "error"
)

// Envelope is the JSON frame exchanged over the WebSocket.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is sent once, as the first frame of a connection.
type JoinRoom struct {
	SessionID PeerID  `json:"sessionId,omitempty"`
	Username  string  `json:"username"`
	RoomCode  string  `json:"roomCode"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Player is a participant's public state as broadcast by the room.
type Player struct {
	PlayerID  PeerID  `json:"playerId"`
	Username  string  `json:"username"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
}

// CurrentUsers is the room roster sent to a participant after it joins.
// It includes the participant itself, under SessionID.
type CurrentUsers struct {
	SessionID PeerID            `json:"sessionId,omitempty"`
	Players   map[PeerID]Player `json:"players"`
}

// PlayerMove reports the sender's new position.
type PlayerMove struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
}

// UserLeft announces that a participant disconnected or quit.
type UserLeft struct {
	PlayerID PeerID `json:"playerId"`
}

// SendSignal asks the room to relay a signal to TargetSocketID.
type SendSignal struct {
	TargetSocketID PeerID          `json:"targetSocketId"`
	Signal         json.RawMessage `json:"signal"`
}

// ReceiveSignal carries a relayed signal and its origin.
type ReceiveSignal struct {
	FromUserID PeerID          `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal"`
}

// ClosePeer is the teardown notice. Clients fill TargetSocketID, the room
// rewrites it into FromUserID when forwarding.
type ClosePeer struct {
	TargetSocketID PeerID `json:"targetSocketId,omitempty"`
	FromUserID     PeerID `json:"fromUserId,omitempty"`
}

// ErrorMessage reports a rejected request.
type ErrorMessage struct {
	Message string `json:"message"`
}
