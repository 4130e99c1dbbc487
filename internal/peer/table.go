package peer

import (
	"slices"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/protocol"
)

// State is a peer's position in the negotiation state machine.
type State int

const (
	StateIdle      State = iota // no connection object yet
	StateOffering               // local offer created, awaiting answer
	StateAnswering              // remote offer applied, answer sent
	StateConnected              // answer applied or transport reported connected
	StateFailed                 // transport failed; a retry may be pending
	StateClosed                 // terminal; the record has left the table
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteStream is the set of tracks a peer is sending us.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

func (s *RemoteStream) clone() *RemoteStream {
	if s == nil {
		return nil
	}
	return &RemoteStream{ID: s.ID, Tracks: slices.Clone(s.Tracks)}
}

// Record is the negotiation state for one remote peer. Records are only
// touched from the engine loop.
type Record struct {
	ID protocol.PeerID

	// Conn is the single live connection for this peer. It is replaced,
	// never reused, on each negotiation attempt; the old one is closed first.
	Conn  Conn
	State State

	Stream *RemoteStream

	// Pending holds remote candidates that arrived before a remote
	// description was applied to Conn.
	Pending []webrtc.ICECandidateInit

	Retries     int
	Negotiating bool

	// attempt increments with every new Conn. Asynchronous continuations
	// carry the attempt they were started on and are dropped once it moves.
	attempt    uint64
	remoteSet  bool // remote description applied to Conn
	sent       bool // local description sent; later candidates are trickled
	retryTimer *time.Timer
}

// reset clears everything tied to the current connection, keeping the
// identity and retry count.
func (r *Record) reset() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.Stream = nil
	r.Pending = nil
	r.Negotiating = false
	r.remoteSet = false
	r.sent = false
}

// Table maps peer ids to records. It is plain storage; the caller closes
// a record's connection before replacing or removing it.
type Table struct {
	records map[protocol.PeerID]*Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[protocol.PeerID]*Record)}
}

// Get returns the record for id.
func (t *Table) Get(id protocol.PeerID) (*Record, bool) {
	r, ok := t.records[id]
	return r, ok
}

// Upsert stores r under id, replacing any existing record.
func (t *Table) Upsert(id protocol.PeerID, r *Record) {
	t.records[id] = r
}

// Remove deletes and returns the record for id.
func (t *Table) Remove(id protocol.PeerID) (*Record, bool) {
	r, ok := t.records[id]
	if ok {
		delete(t.records, id)
	}
	return r, ok
}

// IDs returns a sorted snapshot of the current keys.
func (t *Table) IDs() []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }
