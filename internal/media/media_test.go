package media

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

func TestNewSourceTracks(t *testing.T) {
	testCases := []struct {
		name         string
		video, audio bool
		wantKinds    []webrtc.RTPCodecType
	}{
		{"both", true, true, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}},
		{"audio only", false, true, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}},
		{"video only", true, false, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo}},
		{"none", false, false, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSource("stream-1", tc.video, tc.audio)
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			tracks := s.Tracks()
			if len(tracks) != len(tc.wantKinds) {
				t.Fatalf("got %d tracks, want %d", len(tracks), len(tc.wantKinds))
			}
			for i, tr := range tracks {
				if tr.Kind() != tc.wantKinds[i] {
					t.Errorf("track %d kind = %s, want %s", i, tr.Kind(), tc.wantKinds[i])
				}
				if tr.StreamID() != "stream-1" {
					t.Errorf("track %d stream = %q", i, tr.StreamID())
				}
			}
		})
	}
}

func TestSourceToggle(t *testing.T) {
	s, err := NewSource("s", true, true)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled() {
		t.Fatal("new source should be enabled")
	}
	s.SetEnabled(false)
	if s.Enabled() {
		t.Fatal("source still enabled")
	}
	// Unbound tracks accept writes either way; the disabled path must not fail.
	if err := s.WriteVideo(media.Sample{Data: []byte{1}}); err != nil {
		t.Errorf("WriteVideo while disabled: %v", err)
	}
	if err := s.WriteAudio(media.Sample{Data: opusSilence}); err != nil {
		t.Errorf("WriteAudio while disabled: %v", err)
	}
}

func TestSilenceStopsWithContext(t *testing.T) {
	s, err := NewSource("s", false, true)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Silence(ctx)
		close(done)
	}()
	cancel()
	<-done
}

type fakeRTP struct {
	chunks []int
}

func (f *fakeRTP) Read(b []byte) (int, interceptor.Attributes, error) {
	if len(f.chunks) == 0 {
		return 0, nil, io.EOF
	}
	n := f.chunks[0]
	f.chunks = f.chunks[1:]
	return n, nil, nil
}

func TestDrainReadsUntilError(t *testing.T) {
	r := &fakeRTP{chunks: []int{100, 200, 300}}
	Drain(context.Background(), r)
	if len(r.chunks) != 0 {
		t.Errorf("%d chunks left unread", len(r.chunks))
	}
}

func TestDrainHonoursCancelledContext(t *testing.T) {
	r := &fakeRTP{chunks: []int{1, 2}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Drain(ctx, r)
	if len(r.chunks) != 2 {
		t.Errorf("read %d chunks after cancel", 2-len(r.chunks))
	}
}

type fakeRTCP struct {
	batches [][]rtcp.Packet
}

func (f *fakeRTCP) ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error) {
	if len(f.batches) == 0 {
		return nil, nil, errors.New("closed")
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil, nil
}

func TestDrainRTCPCountsKeyframeRequests(t *testing.T) {
	r := &fakeRTCP{batches: [][]rtcp.Packet{
		{&rtcp.PictureLossIndication{MediaSSRC: 1}},
		{&rtcp.ReceiverReport{}, &rtcp.FullIntraRequest{MediaSSRC: 1}},
		{&rtcp.TransportLayerNack{}},
	}}
	if got := DrainRTCP(r); got != 2 {
		t.Errorf("keyframe requests = %d, want 2", got)
	}
}
