// Package media holds the local capture tracks and the readers that keep
// remote tracks and RTCP flowing.
package media

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// Source is the local stream: an optional VP8 video track and an optional
// Opus audio track sharing one stream id. Writes are dropped while the
// source is disabled.
type Source struct {
	streamID string
	video    *webrtc.TrackLocalStaticSample
	audio    *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
}

// NewSource creates the tracks selected by withVideo and withAudio. The
// source starts enabled.
func NewSource(streamID string, withVideo, withAudio bool) (*Source, error) {
	s := &Source{streamID: streamID}
	s.enabled.Store(true)

	if withVideo {
		v, err := NewVideoTrack("video", streamID)
		if err != nil {
			return nil, err
		}
		s.video = v
	}
	if withAudio {
		a, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		s.audio = a
	}
	return s, nil
}

// NewVideoTrack creates a standalone VP8 track, e.g. to hand to a track
// replacement.
func NewVideoTrack(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	v, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return v, nil
}

// StreamID returns the id shared by the source's tracks.
func (s *Source) StreamID() string { return s.streamID }

// Tracks returns the tracks the source was created with.
func (s *Source) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// VideoTrack returns the camera track, or nil when the source has none.
func (s *Source) VideoTrack() webrtc.TrackLocal {
	if s.video == nil {
		return nil
	}
	return s.video
}

// SetEnabled toggles sending. A disabled source stays negotiated.
func (s *Source) SetEnabled(on bool) { s.enabled.Store(on) }

func (s *Source) Enabled() bool { return s.enabled.Load() }

// WriteVideo writes one encoded VP8 frame. It is a no-op without a video
// track or while disabled.
func (s *Source) WriteVideo(sample media.Sample) error {
	if s.video == nil || !s.Enabled() {
		return nil
	}
	return s.video.WriteSample(sample)
}

// WriteAudio writes one encoded Opus frame. It is a no-op without an audio
// track or while disabled.
func (s *Source) WriteAudio(sample media.Sample) error {
	if s.audio == nil || !s.Enabled() {
		return nil
	}
	return s.audio.WriteSample(sample)
}

// Silence writes Opus silence frames until ctx is done. It keeps the
// audio track producing RTP when there is no capture device.
func (s *Source) Silence(ctx context.Context) {
	if s.audio == nil {
		return
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.WriteAudio(media.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}
