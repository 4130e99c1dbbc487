// Package app wires the packages into the two runnable roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/proximity/internal/config"
	"github.com/1ureka/proximity/internal/media"
	"github.com/1ureka/proximity/internal/peer"
	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/session"
	"github.com/1ureka/proximity/internal/signaling"
	"github.com/1ureka/proximity/internal/util"
	"github.com/1ureka/proximity/internal/world"
)

const (
	wanderInterval = 200 * time.Millisecond
	wanderStep     = 15
	wanderBounds   = 400
)

// RunParticipant orchestrates one participant:
//  1. Prepare local media
//  2. Join the room through the relay
//  3. Start the negotiation engine over the relay connection
//  4. Feed proximity ticks from the world into the session
//  5. Run until ctx is done or the relay drops, then tear down
func RunParticipant(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── 1. Local media ─────────────────────────────────────────────────
	source, err := media.NewSource(cfg.SessionID, cfg.Video, cfg.Audio)
	if err != nil {
		return err
	}
	// Capture stays off until someone is nearby.
	source.SetEnabled(false)
	go source.Silence(ctx)
	if cfg.VideoFile != "" {
		go playClip(ctx, cfg.VideoFile, source.WriteVideo)
	}

	var screen *webrtc.TrackLocalStaticSample
	if cfg.ScreenFile != "" {
		if screen, err = media.NewVideoTrack("screen", cfg.SessionID); err != nil {
			return err
		}
		go playClip(ctx, cfg.ScreenFile, func(s pionmedia.Sample) error {
			if !source.Enabled() {
				return nil
			}
			return screen.WriteSample(s)
		})
	}

	// ── 2. Join the room ───────────────────────────────────────────────
	client, err := signaling.Dial(ctx, cfg.URL, protocol.JoinRoom{
		SessionID: protocol.PeerID(cfg.SessionID),
		Username:  cfg.Name,
		RoomCode:  cfg.Room,
		X:         cfg.StartX,
		Y:         cfg.StartY,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	// The relay link outlives ctx so teardown can still send close notices.
	linkCtx, closeLink := context.WithCancel(context.Background())
	defer closeLink()
	util.LogSuccess("joined room %q as %s (%s)", cfg.Room, cfg.Name, client.Self())

	w := world.New(client.Self(), cfg.StartX, cfg.StartY, cfg.Radius)
	client.SetRoom(w)

	// ── 3. Negotiation engine ──────────────────────────────────────────
	factory, err := peer.NewPionFactory(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("webrtc setup: %w", err)
	}
	engine, err := peer.NewEngine(peer.Options{
		LocalID:       client.Self(),
		Channel:       client,
		Factory:       factory,
		Media:         source,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		RetryJitter:   cfg.RetryJitter,
		GatherTimeout: cfg.GatherTimeout,
		OnRemoteStream: func(id protocol.PeerID, s *peer.RemoteStream) {
			util.LogSuccess("receiving %d track(s) from %s", len(s.Tracks), id)
		},
		OnDisconnect: func(id protocol.PeerID) {
			util.LogInfo("disconnected from %s", id)
		},
	})
	if err != nil {
		return err
	}
	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	defer engine.Stop()

	if screen != nil {
		go func() {
			if err := media.ShareScreen(ctx, engine, source.VideoTrack(), screen, cfg.ShareInterval); err != nil {
				util.LogWarning("screen share: %v", err)
			}
		}()
	}

	// ── 4. Proximity session ───────────────────────────────────────────
	sess := session.New(session.Options{
		Engine:    engine,
		Proximity: w.Ticks(ctx, cfg.TickInterval),
		OnNearbyChange: func(nearby bool) {
			source.SetEnabled(nearby)
			if nearby {
				util.LogInfo("someone is nearby, media on")
			} else {
				util.LogInfo("nobody nearby, media off")
			}
		},
	})
	sess.Start(ctx)
	defer sess.Stop()

	util.StartStatsReporter(ctx)

	// ── 5. Run ─────────────────────────────────────────────────────────
	errCh := make(chan error, 2)
	go func() { errCh <- client.Run(linkCtx) }()
	if cfg.Wander {
		go func() { errCh <- w.Wander(ctx, wanderInterval, wanderStep, wanderBounds, client.Move) }()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, signaling.ErrClosed) {
			return fmt.Errorf("relay connection lost: %w", err)
		}
		return nil
	}
}

func playClip(ctx context.Context, path string, write func(pionmedia.Sample) error) {
	if err := media.PlayIVF(ctx, path, write); err != nil {
		util.LogWarning("%v", err)
	}
}
