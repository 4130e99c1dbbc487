package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelopeCarriesPayload(t *testing.T) {
	data, err := Encode(EventPlayerMove, PlayerMove{X: 12, Y: -4, Direction: "left"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Event != EventPlayerMove {
		t.Fatalf("event = %q, want %q", env.Event, EventPlayerMove)
	}

	move, err := DecodeData[PlayerMove](env)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if move.X != 12 || move.Y != -4 || move.Direction != "left" {
		t.Errorf("move = %+v", move)
	}
}

func TestEncodeWithoutPayload(t *testing.T) {
	data, err := Encode(EventQuitRoom, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(env.Data) != 0 {
		t.Errorf("data = %s, want empty", env.Data)
	}
	if _, err := DecodeData[PlayerMove](env); err == nil {
		t.Error("DecodeData on empty payload: want error")
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing event", `{"data":{}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Errorf("Decode(%s): want error", tc.data)
			}
		})
	}
}

func TestDecodeSignalShapes(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want Signal
	}{
		{
			name: "offer with description object",
			data: `{"type":"offer","sdp":{"type":"offer","sdp":"v=0 offer"}}`,
			want: Offer{SDP: "v=0 offer"},
		},
		{
			name: "answer with bare sdp string",
			data: `{"type":"answer","sdp":"v=0 answer"}`,
			want: Answer{SDP: "v=0 answer"},
		},
		{
			name: "candidate",
			data: `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`,
			want: Candidate{},
		},
		{
			name: "legacy ice-candidate tag",
			data: `{"type":"ice-candidate","candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 5000 typ host"}}`,
			want: Candidate{},
		},
		{
			name: "untagged candidate",
			data: `{"candidate":{"candidate":"candidate:3 1 udp 1 10.0.0.3 5000 typ host"}}`,
			want: Candidate{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeSignal([]byte(tc.data))
			if err != nil {
				t.Fatalf("DecodeSignal: %v", err)
			}
			if Kind(got) != Kind(tc.want) {
				t.Fatalf("kind = %s, want %s", Kind(got), Kind(tc.want))
			}
			switch want := tc.want.(type) {
			case Offer:
				if got.(Offer).SDP != want.SDP {
					t.Errorf("sdp = %q, want %q", got.(Offer).SDP, want.SDP)
				}
			case Answer:
				if got.(Answer).SDP != want.SDP {
					t.Errorf("sdp = %q, want %q", got.(Answer).SDP, want.SDP)
				}
			case Candidate:
				if got.(Candidate).Init.Candidate == "" {
					t.Error("candidate string is empty")
				}
			}
		})
	}
}

func TestDecodeSignalRejectsUnknownShapes(t *testing.T) {
	testCases := []string{
		`{"type":"renegotiate"}`,
		`{"type":"offer"}`,
		`{"type":"answer","sdp":""}`,
		`{}`,
	}

	for _, data := range testCases {
		if _, err := DecodeSignal([]byte(data)); err == nil {
			t.Errorf("DecodeSignal(%s): want error", data)
		}
	}

	_, err := DecodeSignal([]byte(`{"type":"bye"}`))
	if !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("err = %v, want ErrUnknownSignal", err)
	}
}

func TestEncodeSignalWritesDescriptionObject(t *testing.T) {
	raw, err := EncodeSignal(Offer{SDP: "v=0"})
	if err != nil {
		t.Fatalf("EncodeSignal: %v", err)
	}

	var w struct {
		Type string `json:"type"`
		SDP  struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"sdp"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Type != "offer" || w.SDP.Type != "offer" || w.SDP.SDP != "v=0" {
		t.Errorf("wire = %s", raw)
	}

	if _, err := EncodeSignal(nil); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("EncodeSignal(nil) err = %v, want ErrUnknownSignal", err)
	}
}

func TestPeerIDOrdering(t *testing.T) {
	if !PeerID("a").Less("b") {
		t.Error(`"a" should sort before "b"`)
	}
	if PeerID("p2").Less("p10") {
		t.Error(`ordering is lexicographic: "p2" sorts after "p10"`)
	}
}
