package session

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/proximity/internal/protocol"
)

func TestSessionConsumesTicks(t *testing.T) {
	e, _, _ := startEngine(t, "p1")
	ticks := make(chan []protocol.PeerID)
	changes := make(chan bool, 4)

	s := New(Options{Engine: e, Proximity: ticks, OnNearbyChange: func(v bool) { changes <- v }})
	s.Start(context.Background())

	ticks <- ids("p2")
	ticks <- ids("p2")

	if v := <-changes; !v {
		t.Fatal("first change should be nearby")
	}
	if !s.Nearby() {
		t.Fatal("Nearby = false")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !e.IsConnected("p2") {
		if _, ok := e.State("p2"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("p2 never dialed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	s.Stop()
	if v := <-changes; v {
		t.Fatal("stop should report not nearby")
	}
	if got := e.ConnectedPeers(); len(got) != 0 {
		t.Fatalf("peers left after stop: %v", got)
	}
	snap, _ := e.Snapshot()
	if len(snap.Tracked) != 0 {
		t.Fatalf("tracked after stop: %v", snap.Tracked)
	}
}

func TestSessionEndsWhenProximityCloses(t *testing.T) {
	e := &fakeEngine{local: "p1"}
	ticks := make(chan []protocol.PeerID, 1)
	s := New(Options{Engine: e, Proximity: ticks})
	s.Start(context.Background())

	ticks <- ids("p2")
	close(ticks)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	s.Stop()
	if want := []string{"offer p2", "close all"}; !slices.Equal(e.calls, want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
}
