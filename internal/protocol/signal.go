package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrUnknownSignal is returned by DecodeSignal for payloads that match none
// of the signal shapes.
var ErrUnknownSignal = errors.New("unknown signal payload")

// Signal is one negotiation message. The concrete types are Offer, Answer
// and Candidate; switch on them exhaustively.
type Signal interface {
	signalKind() string
}

// Offer carries a session description of type offer.
type Offer struct {
	SDP string
}

// Answer carries a session description of type answer.
type Answer struct {
	SDP string
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Init webrtc.ICECandidateInit
}

func (Offer) signalKind() string     { return signalOffer }
func (Answer) signalKind() string    { return signalAnswer }
func (Candidate) signalKind() string { return signalCandidate }

// Kind returns the wire name of s ("offer", "answer" or "candidate").
func Kind(s Signal) string {
	if s == nil {
		return "<nil>"
	}
	return s.signalKind()
}

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"

	// Older clients tag candidates this way, or omit the type entirely.
	signalLegacyCandidate = "ice-candidate"
)

// wireSignal is the JSON shape of a signal. sdp is a full session
// description object ({type, sdp}) as browsers produce it; a bare string
// is accepted on decode.
type wireSignal struct {
	Type      string                   `json:"type,omitempty"`
	SDP       json.RawMessage          `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// EncodeSignal serializes s into its wire form.
func EncodeSignal(s Signal) (json.RawMessage, error) {
	var w wireSignal
	switch v := s.(type) {
	case Offer:
		sdp, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: v.SDP})
		if err != nil {
			return nil, err
		}
		w = wireSignal{Type: signalOffer, SDP: sdp}
	case Answer:
		sdp, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: v.SDP})
		if err != nil {
			return nil, err
		}
		w = wireSignal{Type: signalAnswer, SDP: sdp}
	case Candidate:
		init := v.Init
		w = wireSignal{Type: signalCandidate, Candidate: &init}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSignal, s)
	}
	return json.Marshal(w)
}

// DecodeSignal parses a wire signal.
func DecodeSignal(data []byte) (Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}

	switch w.Type {
	case signalOffer:
		sdp, err := decodeSDP(w.SDP)
		if err != nil {
			return nil, err
		}
		return Offer{SDP: sdp}, nil
	case signalAnswer:
		sdp, err := decodeSDP(w.SDP)
		if err != nil {
			return nil, err
		}
		return Answer{SDP: sdp}, nil
	case signalCandidate, signalLegacyCandidate, "":
		if w.Candidate == nil {
			return nil, fmt.Errorf("%w: type %q without candidate", ErrUnknownSignal, w.Type)
		}
		return Candidate{Init: *w.Candidate}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownSignal, w.Type)
	}
}

func decodeSDP(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("decode signal: missing sdp")
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err == nil && desc.SDP != "" {
		return desc.SDP, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", fmt.Errorf("decode signal: malformed sdp")
	}
	return s, nil
}
