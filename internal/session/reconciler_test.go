package session

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/proximity/internal/peer"
	"github.com/1ureka/proximity/internal/peer/peertest"
	"github.com/1ureka/proximity/internal/protocol"
)

type fakeEngine struct {
	local     protocol.PeerID
	tracked   []protocol.PeerID
	abandoned []protocol.PeerID
	calls     []string
	offerErr  error
	snapErr   error
}

var _ Engine = (*fakeEngine)(nil)

func (f *fakeEngine) LocalID() protocol.PeerID { return f.local }

func (f *fakeEngine) Snapshot() (peer.Snapshot, error) {
	if f.snapErr != nil {
		return peer.Snapshot{}, f.snapErr
	}
	return peer.Snapshot{Tracked: slices.Clone(f.tracked), Abandoned: slices.Clone(f.abandoned)}, nil
}

func (f *fakeEngine) CreateOffer(id protocol.PeerID) error {
	f.calls = append(f.calls, "offer "+string(id))
	if f.offerErr != nil {
		return f.offerErr
	}
	f.tracked = append(f.tracked, id)
	return nil
}

func (f *fakeEngine) ClosePeer(id protocol.PeerID) error {
	f.calls = append(f.calls, "close "+string(id))
	f.tracked = slices.DeleteFunc(f.tracked, func(t protocol.PeerID) bool { return t == id })
	f.abandoned = slices.DeleteFunc(f.abandoned, func(t protocol.PeerID) bool { return t == id })
	return nil
}

func (f *fakeEngine) CloseAll() error {
	f.calls = append(f.calls, "close all")
	f.tracked, f.abandoned = nil, nil
	return nil
}

func ids(s ...string) []protocol.PeerID {
	out := make([]protocol.PeerID, len(s))
	for i, v := range s {
		out[i] = protocol.PeerID(v)
	}
	return out
}

func TestPlan(t *testing.T) {
	testCases := []struct {
		name string
		set  []protocol.PeerID
		snap peer.Snapshot
		want []Directive
	}{
		{
			name: "empty",
		},
		{
			name: "dial only higher ids",
			set:  ids("a", "p2", "z"),
			want: []Directive{{Connect, "p2"}, {Connect, "z"}},
		},
		{
			name: "tracked peers left alone",
			set:  ids("p2", "p3"),
			snap: peer.Snapshot{Tracked: ids("p2", "p3")},
		},
		{
			name: "lost peers closed",
			set:  ids("p3"),
			snap: peer.Snapshot{Tracked: ids("a", "p2", "p3")},
			want: []Directive{{Disconnect, "a"}, {Disconnect, "p2"}},
		},
		{
			name: "abandoned peers not redialed",
			set:  ids("p2"),
			snap: peer.Snapshot{Abandoned: ids("p2")},
		},
		{
			name: "abandoned peers cleared when lost",
			set:  ids("p3"),
			snap: peer.Snapshot{Abandoned: ids("p2")},
			want: []Directive{{Disconnect, "p2"}, {Connect, "p3"}},
		},
		{
			name: "own id ignored",
			set:  ids("p1"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan("p1", tc.set, tc.snap)
			if !slices.Equal(got, tc.want) {
				t.Fatalf("Plan = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := &fakeEngine{local: "p1"}
	r := NewReconciler(e)

	first, err := r.Reconcile(ids("p3", "p2", "p2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first tick = %v", first)
	}

	second, err := r.Reconcile(ids("p2", "p3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second tick = %v, want none", second)
	}
	if want := []string{"offer p2", "offer p3"}; !slices.Equal(e.calls, want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
}

func TestReconcileKeepsGoingAfterErrors(t *testing.T) {
	e := &fakeEngine{local: "p1", offerErr: errors.New("boom")}
	r := NewReconciler(e)

	got, err := r.Reconcile(ids("p2", "p3"))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(got) != 2 || len(e.calls) != 2 {
		t.Fatalf("directives = %v, calls = %v", got, e.calls)
	}
}

func TestReconcileRetriesAfterSnapshotError(t *testing.T) {
	e := &fakeEngine{local: "p1", snapErr: errors.New("stopped")}
	r := NewReconciler(e)

	if _, err := r.Reconcile(ids("p2")); err == nil {
		t.Fatal("expected error")
	}
	e.snapErr = nil
	got, err := r.Reconcile(ids("p2"))
	if err != nil || len(got) != 1 {
		t.Fatalf("second attempt = %v, %v", got, err)
	}
}

// Scenarios against the real engine.

func startEngine(t *testing.T, local protocol.PeerID) (*peer.Engine, *peertest.Factory, *peertest.Channel) {
	t.Helper()
	f, ch := peertest.NewFactory(), peertest.NewChannel()
	f.AutoGather = true
	e, err := peer.NewEngine(peer.Options{LocalID: local, Channel: ch, Factory: f, RetryDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e, f, ch
}

func TestProximityGainDials(t *testing.T) {
	e, _, _ := startEngine(t, "p1")
	r := NewReconciler(e)

	r.Reconcile(nil)
	got, err := r.Reconcile(ids("p2"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []Directive{{Connect, "p2"}}) {
		t.Fatalf("directives = %v", got)
	}
	if s, ok := e.State("p2"); !ok || s != peer.StateOffering {
		t.Fatalf("p2 state = %v (tracked %v), want offering", s, ok)
	}
}

func TestProximityLossCloses(t *testing.T) {
	e, f, ch := startEngine(t, "p1")
	r := NewReconciler(e)

	r.Reconcile(ids("p2"))
	if err := e.HandleSignal("p2", protocol.Answer{SDP: "x"}); err != nil {
		t.Fatal(err)
	}
	if !e.IsConnected("p2") {
		t.Fatal("p2 not connected")
	}

	got, err := r.Reconcile(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []Directive{{Disconnect, "p2"}}) {
		t.Fatalf("directives = %v", got)
	}
	if _, ok := e.State("p2"); ok {
		t.Fatal("p2 still tracked")
	}
	if !slices.Equal(ch.Closes(), ids("p2")) {
		t.Fatalf("close notices = %v", ch.Closes())
	}
	if f.Open("p2") != 0 {
		t.Fatal("connection left open")
	}
}

func TestHigherIDWaitsToBeDialed(t *testing.T) {
	e, f, _ := startEngine(t, "p9")
	r := NewReconciler(e)

	got, _ := r.Reconcile(ids("p2"))
	if len(got) != 0 || len(f.Conns("p2")) != 0 {
		t.Fatalf("higher id dialed: %v", got)
	}
}

func TestRedialAfterRemoteCloseWhileNearby(t *testing.T) {
	e, f, _ := startEngine(t, "p1")
	r := NewReconciler(e)

	r.Reconcile(ids("p2"))
	if err := e.HandleSignal("p2", protocol.Answer{SDP: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleClose("p2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.State("p2"); ok {
		t.Fatal("p2 still tracked after remote close")
	}

	got, err := r.Reconcile(ids("p2"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []Directive{{Connect, "p2"}}) {
		t.Fatalf("directives = %v, want redial", got)
	}
	if n := len(f.Conns("p2")); n != 2 {
		t.Fatalf("made %d connections, want 2", n)
	}

	// The table matches again, so the next tick is quiet.
	if got, _ := r.Reconcile(ids("p2")); len(got) != 0 {
		t.Fatalf("third tick = %v, want none", got)
	}
}

func TestReconcileRestoresPeerLostBetweenTicks(t *testing.T) {
	e := &fakeEngine{local: "p1"}
	r := NewReconciler(e)

	r.Reconcile(ids("p2"))
	e.tracked = nil

	got, err := r.Reconcile(ids("p2"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []Directive{{Connect, "p2"}}) {
		t.Fatalf("directives = %v", got)
	}
}
