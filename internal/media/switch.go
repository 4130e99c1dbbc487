package media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/proximity/internal/util"
)

// VideoReplacer swaps the outgoing video track on every peer.
// *peer.Engine satisfies it.
type VideoReplacer interface {
	ReplaceVideoTrack(webrtc.TrackLocal) (int, error)
}

// ShareScreen puts screen on air in place of camera. With a positive
// every and a camera to go back to, it flips between the two at that
// interval until ctx is done; otherwise it switches once and returns.
func ShareScreen(ctx context.Context, r VideoReplacer, camera, screen webrtc.TrackLocal, every time.Duration) error {
	if err := switchTo(r, "screen", screen); err != nil {
		return err
	}
	if every <= 0 || camera == nil {
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	sharing := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var err error
		if sharing {
			err = switchTo(r, "camera", camera)
		} else {
			err = switchTo(r, "screen", screen)
		}
		if err != nil {
			return err
		}
		sharing = !sharing
	}
}

func switchTo(r VideoReplacer, name string, t webrtc.TrackLocal) error {
	n, err := r.ReplaceVideoTrack(t)
	if err != nil {
		return err
	}
	util.LogInfo("video switched to %s on %d peer(s)", name, n)
	return nil
}
