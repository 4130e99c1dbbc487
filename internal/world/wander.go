package world

import (
	"context"
	"math/rand/v2"
	"time"
)

// Mover publishes a local position change, e.g. as a player-move event.
type Mover func(x, y float64, direction string) error

var directions = []struct {
	name   string
	dx, dy float64
}{
	{"left", -1, 0},
	{"right", 1, 0},
	{"up", 0, -1},
	{"down", 0, 1},
}

// Wander random-walks the local player inside a bounds×bounds square,
// moving step units every interval and publishing each move. It stops
// when ctx is done or publishing fails.
func (w *World) Wander(ctx context.Context, interval time.Duration, step, bounds float64, publish Mover) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	heading := directions[rand.IntN(len(directions))]
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Keep a heading for a while so walks are not pure jitter.
		if rand.IntN(8) == 0 {
			heading = directions[rand.IntN(len(directions))]
		}

		me := w.Me()
		x := clamp(me.X+heading.dx*step, 0, bounds)
		y := clamp(me.Y+heading.dy*step, 0, bounds)
		if !w.MoveTo(x, y, heading.name) {
			heading = directions[rand.IntN(len(directions))]
			continue
		}
		if err := publish(x, y, heading.name); err != nil {
			return err
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
