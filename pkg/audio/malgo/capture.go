package malgo

import (
	"context"
	"fmt"

	"github.com/moksori-live/moksori/pkg/audio"
)

// captureChanBuf bounds how far capture may run ahead of a slow consumer.
// Once full, buffers are dropped rather than stalling the device thread.
const captureChanBuf = 32

// Capture opens a PCM capture stream on the named input device. An empty
// deviceID selects the system default. The returned channel carries 16-bit
// little-endian PCM in the requested format and is closed when ctx is
// cancelled.
//
// Capture matches the recognizer's capture contract and is the stock way to
// feed microphone audio to an stt.Listener.
func Capture(ctx context.Context, deviceID string, f audio.Format) (<-chan []byte, error) {
	return captureWith(ctx, systemHost{}, deviceID, f)
}

func captureWith(ctx context.Context, host deviceHost, deviceID string, f audio.Format) (<-chan []byte, error) {
	if f.BitsPerSample != 16 {
		return nil, fmt.Errorf("malgo: unsupported capture format: %d bits per sample", f.BitsPerSample)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("malgo: invalid capture format: %d Hz, %d channels", f.SampleRate, f.Channels)
	}

	frames := make(chan []byte, captureChanBuf)
	push := func(in []byte) {
		// The device reuses its buffer between callbacks.
		chunk := make([]byte, len(in))
		copy(chunk, in)
		select {
		case frames <- chunk:
		default:
		}
	}

	dev, err := host.openCapture(f, deviceID, push)
	if err != nil {
		return nil, fmt.Errorf("malgo: open input device: %w", err)
	}

	go func() {
		<-ctx.Done()
		// Uninit joins the device thread, so no push races the close below.
		dev.Uninit()
		close(frames)
	}()
	return frames, nil
}
