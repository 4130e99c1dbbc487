package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation/media counter.
var Stats = &stats{}

type stats struct {
	OffersSent     atomic.Int64 // offers handed to the signaling channel
	AnswersSent    atomic.Int64 // answers handed to the signaling channel
	CandidatesSent atomic.Int64 // trickled local candidates
	CandidatesRecv atomic.Int64 // remote candidates applied (buffered ones included once drained)
	SignalsDropped atomic.Int64 // stale, unexpected or losing-side signals
	Retries        atomic.Int64 // scheduled reconnection attempts
	PeersUp        atomic.Int64 // transitions into connected
	PeersDown      atomic.Int64 // transitions out of connected
	BytesRecv      atomic.Int64 // RTP payload bytes read from remote tracks
	KeyframeReqs   atomic.Int64 // PLI/FIR received on local senders
}

func (s *stats) AddOffer()         { s.OffersSent.Add(1) }
func (s *stats) AddAnswer()        { s.AnswersSent.Add(1) }
func (s *stats) AddCandidateSent() { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateRecv() { s.CandidatesRecv.Add(1) }
func (s *stats) AddDropped()       { s.SignalsDropped.Add(1) }
func (s *stats) AddRetry()         { s.Retries.Add(1) }
func (s *stats) AddPeerUp()        { s.PeersUp.Add(1) }
func (s *stats) AddPeerDown()      { s.PeersDown.Add(1) }
func (s *stats) AddRecv(n int)     { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddKeyframeReq()   { s.KeyframeReqs.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// counters is a point-in-time copy of every Stats field.
type counters struct {
	offers, answers      int64
	candSent, candRecv   int64
	dropped, retries     int64
	up, down             int64
	bytesRecv, keyframes int64
}

func (s *stats) load() counters {
	return counters{
		offers:    s.OffersSent.Load(),
		answers:   s.AnswersSent.Load(),
		candSent:  s.CandidatesSent.Load(),
		candRecv:  s.CandidatesRecv.Load(),
		dropped:   s.SignalsDropped.Load(),
		retries:   s.Retries.Load(),
		up:        s.PeersUp.Load(),
		down:      s.PeersDown.Load(),
		bytesRecv: s.BytesRecv.Load(),
		keyframes: s.KeyframeReqs.Load(),
	}
}

func (c counters) sub(o counters) counters {
	return counters{
		offers:    c.offers - o.offers,
		answers:   c.answers - o.answers,
		candSent:  c.candSent - o.candSent,
		candRecv:  c.candRecv - o.candRecv,
		dropped:   c.dropped - o.dropped,
		retries:   c.retries - o.retries,
		up:        c.up - o.up,
		down:      c.down - o.down,
		bytesRecv: c.bytesRecv - o.bytesRecv,
		keyframes: c.keyframes - o.keyframes,
	}
}

// quiet reports whether nothing worth logging happened.
func (c counters) quiet(interval time.Duration) bool {
	return c == counters{bytesRecv: c.bytesRecv} && float64(c.bytesRecv)/interval.Seconds() <= 10
}

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.load()
		for {
			select {
			case <-ticker.C:
				now := Stats.load()
				if d := now.sub(prev); !d.quiet(reportInterval) {
					pterm.DefaultLogger.Info(formatStats(d, reportInterval))
				}
				prev = now

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the deltas of one reporting interval.
func formatStats(d counters, interval time.Duration) string {
	return fmt.Sprintf("Media in: %s/s | Peers: %2d↑ %2d↓ | Offers %d, answers %d | Candidates %d↑ %d↓ | Retries %d | Dropped signals %d | Keyframe requests %d",
		formatBytes(float64(d.bytesRecv)/interval.Seconds()),
		d.up, d.down,
		d.offers, d.answers,
		d.candSent, d.candRecv,
		d.retries,
		d.dropped,
		d.keyframes,
	)
}
