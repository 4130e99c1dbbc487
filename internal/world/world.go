// Package world tracks player positions in a room and derives the
// proximity set of the local player on every tick.
package world

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

// DefaultRadius is the distance, in world units, under which two players
// are considered near each other.
const DefaultRadius = 100

// World holds the local player and every remote player seen in room
// events. It is safe for concurrent use.
type World struct {
	self   protocol.PeerID
	radius float64

	mu sync.RWMutex
	me protocol.Player

	others *hashmap.Map[protocol.PeerID, protocol.Player]
}

// New creates a world for the local player self starting at (x, y). A
// non-positive radius selects DefaultRadius.
func New(self protocol.PeerID, x, y, radius float64) *World {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &World{
		self:   self,
		radius: radius,
		me:     protocol.Player{PlayerID: self, X: x, Y: y},
		others: hashmap.New[protocol.PeerID, protocol.Player](),
	}
}

func (w *World) Self() protocol.PeerID { return w.self }

func (w *World) Radius() float64 { return w.radius }

// Me returns the local player.
func (w *World) Me() protocol.Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.me
}

// MoveTo sets the local position and reports whether it changed.
func (w *World) MoveTo(x, y float64, direction string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.me.X == x && w.me.Y == y {
		return false
	}
	w.me.X, w.me.Y, w.me.Direction = x, y, direction
	return true
}

// ---------------------------------------------------------------------------
// Room events
// ---------------------------------------------------------------------------

// SetPlayers replaces the known players with a room snapshot. The entry
// for the local player, if any, only updates the local position.
func (w *World) SetPlayers(players map[protocol.PeerID]protocol.Player) {
	for _, id := range w.ids() {
		if _, ok := players[id]; !ok {
			w.others.Del(id)
		}
	}
	for id, p := range players {
		p.PlayerID = id
		if id == w.self {
			w.MoveTo(p.X, p.Y, p.Direction)
			continue
		}
		w.others.Set(id, p)
	}
}

// AddPlayer records a newly joined player. Known players are left as is.
func (w *World) AddPlayer(p protocol.Player) {
	if p.PlayerID == w.self || p.PlayerID == "" {
		return
	}
	if w.others.Insert(p.PlayerID, p) {
		util.LogDebug("world: %s (%s) joined at (%.0f, %.0f)", p.Username, p.PlayerID, p.X, p.Y)
	}
}

// MovePlayer updates a known player's position. Unknown players are added.
func (w *World) MovePlayer(p protocol.Player) {
	if p.PlayerID == w.self || p.PlayerID == "" {
		return
	}
	w.others.Set(p.PlayerID, p)
}

// RemovePlayer forgets a player that left the room.
func (w *World) RemovePlayer(id protocol.PeerID) {
	if w.others.Del(id) {
		util.LogDebug("world: %s left", id)
	}
}

// Players returns the remote players sorted by id.
func (w *World) Players() []protocol.Player {
	var out []protocol.Player
	w.others.Range(func(_ protocol.PeerID, p protocol.Player) bool {
		out = append(out, p)
		return true
	})
	slices.SortFunc(out, func(a, b protocol.Player) int {
		switch {
		case a.PlayerID.Less(b.PlayerID):
			return -1
		case b.PlayerID.Less(a.PlayerID):
			return 1
		}
		return 0
	})
	return out
}

func (w *World) ids() []protocol.PeerID {
	var ids []protocol.PeerID
	w.others.Range(func(id protocol.PeerID, _ protocol.Player) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ---------------------------------------------------------------------------
// Proximity
// ---------------------------------------------------------------------------

// Nearby returns, sorted, the players strictly closer than the radius to
// the local player. It is recomputed from scratch on every call.
func (w *World) Nearby() []protocol.PeerID {
	me := w.Me()

	var near []protocol.PeerID
	w.others.Range(func(id protocol.PeerID, p protocol.Player) bool {
		if Distance(me.X, me.Y, p.X, p.Y) < w.radius {
			near = append(near, id)
		}
		return true
	})
	slices.Sort(near)
	return near
}

// Distance is the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Ticks emits the proximity set every interval until ctx is done, then
// closes the channel. A slow reader delays ticks rather than queuing them.
func (w *World) Ticks(ctx context.Context, interval time.Duration) <-chan []protocol.PeerID {
	out := make(chan []protocol.PeerID)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			select {
			case out <- w.Nearby():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
