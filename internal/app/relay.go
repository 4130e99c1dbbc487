package app

import (
	"context"

	"github.com/1ureka/proximity/internal/config"
	"github.com/1ureka/proximity/internal/signaling"
)

// RunRelay serves the room relay until ctx is done.
func RunRelay(ctx context.Context, cfg config.Config) error {
	return signaling.NewServer().ListenAndServe(ctx, cfg.Listen)
}
