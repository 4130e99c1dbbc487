package peer

import (
	"slices"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/protocol"
)

func TestTableIDsSorted(t *testing.T) {
	tbl := NewTable()
	for _, id := range []protocol.PeerID{"c", "a", "b"} {
		tbl.Upsert(id, &Record{ID: id})
	}
	if got := tbl.IDs(); !slices.Equal(got, []protocol.PeerID{"a", "b", "c"}) {
		t.Fatalf("IDs = %v", got)
	}

	if _, ok := tbl.Remove("b"); !ok {
		t.Fatal("Remove(b) found nothing")
	}
	if _, ok := tbl.Remove("b"); ok {
		t.Fatal("second Remove(b) found a record")
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d", tbl.Len())
	}
}

func TestRecordResetKeepsRetries(t *testing.T) {
	fired := make(chan struct{}, 1)
	r := &Record{
		ID:          "b",
		Retries:     2,
		Negotiating: true,
		Pending:     []webrtc.ICECandidateInit{{Candidate: "c"}},
		Stream:      &RemoteStream{ID: "s"},
		remoteSet:   true,
		sent:        true,
		retryTimer:  time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} }),
	}
	r.reset()

	if r.Retries != 2 {
		t.Errorf("Retries = %d, want 2", r.Retries)
	}
	if r.Negotiating || r.remoteSet || r.sent || r.Pending != nil || r.Stream != nil {
		t.Errorf("record not cleared: %+v", r)
	}

	select {
	case <-fired:
		t.Fatal("retry timer fired after reset")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStateString(t *testing.T) {
	if StateAnswering.String() != "answering" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}

func TestLoopCallAfterStop(t *testing.T) {
	l := newLoop()
	go l.run()

	ran := false
	if err := l.call(func() { ran = true }); err != nil || !ran {
		t.Fatalf("call = %v, ran = %v", err, ran)
	}

	l.stop()
	if err := l.call(func() {}); err != ErrEngineStopped {
		t.Fatalf("call after stop = %v", err)
	}
	if l.post(func() {}) {
		t.Fatal("post accepted after stop")
	}
}
