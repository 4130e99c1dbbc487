package peer

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/media"
	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

// PionFactory creates real pion PeerConnections that share one API: the
// default codecs and interceptors, a periodic keyframe request on received
// video, and pion's internal logs routed through our logger.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory builds the shared API. iceServers are STUN/TURN URLs.
func NewPionFactory(iceServers []string) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	var servers []webrtc.ICEServer
	if len(iceServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: servers},
	}, nil
}

// NewConn implements ConnFactory.
func (f *PionFactory) NewConn(id protocol.PeerID, h ConnHandlers) (Conn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &pionConn{pc: pc, ctx: ctx, cancel: cancel}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if cand == nil || h.OnICECandidate == nil {
			return
		}
		h.OnICECandidate(cand.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(track)
		}
		go media.Drain(ctx, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogPeerDebug(string(id), "PeerConnection state: %s", state)
		if h.OnStateChange != nil {
			h.OnStateChange(state)
		}
	})

	return c, nil
}

// pionConn adapts *webrtc.PeerConnection to Conn.
type pionConn struct {
	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sdp)
}

func (c *pionConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

func (c *pionConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// AddTrack attaches t and starts consuming the sender's RTCP, without
// which the interceptors stall.
func (c *pionConn) AddTrack(t webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return err
	}
	go media.DrainRTCP(sender)
	return nil
}

func (c *pionConn) AddReceiver(kind webrtc.RTPCodecType) error {
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *pionConn) ReplaceVideoTrack(t webrtc.TrackLocal) (bool, error) {
	for _, s := range c.pc.GetSenders() {
		current := s.Track()
		if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		return true, s.ReplaceTrack(t)
	}
	return false, nil
}

func (c *pionConn) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.pc)
}

// Close stops the track readers and closes the PeerConnection.
func (c *pionConn) Close() error {
	c.cancel()
	return c.pc.Close()
}
