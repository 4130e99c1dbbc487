package media

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"

	"github.com/1ureka/proximity/internal/util"
)

// RTPReader is satisfied by *webrtc.TrackRemote.
type RTPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// RTCPReader is satisfied by *webrtc.RTPSender.
type RTCPReader interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

const readBufferSize = 1500

// Drain reads a remote track until it errors or ctx is done, counting
// received bytes. Playback is left to the embedding application.
func Drain(ctx context.Context, track RTPReader) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		util.Stats.AddRecv(n)
	}
}

// DrainRTCP consumes a sender's RTCP until the sender closes and returns
// the number of keyframe requests seen.
func DrainRTCP(sender RTCPReader) int {
	keyframes := 0
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return keyframes
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				keyframes++
				util.Stats.AddKeyframeReq()
			}
		}
	}
}
