// Package session turns per-tick proximity sets into connect and
// disconnect directives for the negotiation engine.
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/1ureka/proximity/internal/peer"
	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

// Engine is the part of *peer.Engine the reconciler drives.
type Engine interface {
	LocalID() protocol.PeerID
	Snapshot() (peer.Snapshot, error)
	CreateOffer(id protocol.PeerID) error
	ClosePeer(id protocol.PeerID) error
	CloseAll() error
}

var _ Engine = (*peer.Engine)(nil)

type DirectiveKind int

const (
	Connect DirectiveKind = iota
	Disconnect
)

func (k DirectiveKind) String() string {
	if k == Connect {
		return "connect"
	}
	return "disconnect"
}

// Directive is one action issued for one peer.
type Directive struct {
	Kind DirectiveKind
	Peer protocol.PeerID
}

func (d Directive) String() string { return fmt.Sprintf("%s %s", d.Kind, d.Peer) }

// Reconciler diffs each proximity set against a fresh snapshot of the
// engine's table. It keeps no state of its own, so a peer that drops out
// of the table while still nearby is redialed on the next tick.
type Reconciler struct {
	engine Engine
}

func NewReconciler(e Engine) *Reconciler {
	return &Reconciler{engine: e}
}

// Reconcile dispatches the directives needed to move the engine towards
// set and returns them. A set the table already matches is a no-op.
// Dispatch errors are joined; every directive is still attempted.
func (r *Reconciler) Reconcile(set []protocol.PeerID) ([]Directive, error) {
	next := normalize(set, r.engine.LocalID())

	snap, err := r.engine.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot peers: %w", err)
	}

	directives := Plan(r.engine.LocalID(), next, snap)

	var errs []error
	for _, d := range directives {
		util.LogDebug("proximity: %s", d)
		switch d.Kind {
		case Connect:
			err = r.engine.CreateOffer(d.Peer)
		case Disconnect:
			err = r.engine.ClosePeer(d.Peer)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
	}
	return directives, errors.Join(errs...)
}

// Plan computes the directives for moving from snap to set. Disconnects
// come first, then connects, each sorted by peer id.
//
// Only the side with the lower id dials. Abandoned peers are not redialed
// while they stay in the set; leaving the set clears the mark.
func Plan(local protocol.PeerID, set []protocol.PeerID, snap peer.Snapshot) []Directive {
	wanted := make(map[protocol.PeerID]struct{}, len(set))
	for _, id := range set {
		wanted[id] = struct{}{}
	}
	tracked := make(map[protocol.PeerID]struct{}, len(snap.Tracked))
	for _, id := range snap.Tracked {
		tracked[id] = struct{}{}
	}
	abandoned := make(map[protocol.PeerID]struct{}, len(snap.Abandoned))
	for _, id := range snap.Abandoned {
		abandoned[id] = struct{}{}
	}

	var drop []protocol.PeerID
	for id := range tracked {
		if _, ok := wanted[id]; !ok {
			drop = append(drop, id)
		}
	}
	for id := range abandoned {
		_, want := wanted[id]
		_, dup := tracked[id]
		if !want && !dup {
			drop = append(drop, id)
		}
	}
	slices.Sort(drop)

	var dial []protocol.PeerID
	for _, id := range set {
		if id == local || !local.Less(id) {
			continue
		}
		if _, ok := tracked[id]; ok {
			continue
		}
		if _, ok := abandoned[id]; ok {
			continue
		}
		dial = append(dial, id)
	}

	directives := make([]Directive, 0, len(drop)+len(dial))
	for _, id := range drop {
		directives = append(directives, Directive{Kind: Disconnect, Peer: id})
	}
	for _, id := range dial {
		directives = append(directives, Directive{Kind: Connect, Peer: id})
	}
	return directives
}

// normalize returns set sorted, deduplicated and without local.
func normalize(set []protocol.PeerID, local protocol.PeerID) []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(set))
	for _, id := range set {
		if id != local && id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
