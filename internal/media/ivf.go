package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

var errNoFrames = errors.New("no frames")

// PlayIVF streams the VP8 frames of an IVF file into write at the file's
// frame rate, starting over at the end, until ctx is done.
func PlayIVF(ctx context.Context, path string, write func(media.Sample) error) error {
	for {
		if err := playIVF(ctx, path, write); err != nil {
			return fmt.Errorf("play %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func playIVF(ctx context.Context, path string, write func(media.Sample) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("unsupported codec %q, want VP80", header.FourCC)
	}

	frame := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	played := 0
	for {
		payload, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if played == 0 {
				return errNoFrames
			}
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := write(media.Sample{Data: payload, Duration: frame}); err != nil {
			return err
		}
		played++
	}
}
