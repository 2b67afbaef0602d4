package malgo

import (
	"fmt"
	"strings"

	ma "github.com/gen2brain/malgo"

	"github.com/moksori-live/moksori/pkg/audio"
)

// deviceHost abstracts the miniaudio layer so the stream logic is testable
// without real hardware.
type deviceHost interface {
	// openPlayback opens and starts a playback device in the given format.
	// pull is invoked on the device thread to fill each output buffer.
	openPlayback(f audio.Format, deviceName string, pull func(out []byte)) (device, error)

	// openCapture opens and starts a capture device in the given format.
	// push receives each captured buffer on the device thread; the buffer is
	// reused and must be copied before it is kept.
	openCapture(f audio.Format, deviceName string, push func(in []byte)) (device, error)

	// deviceNames lists the available devices of one kind.
	deviceNames(kind ma.DeviceType) ([]string, error)
}

// device is a started miniaudio device. Uninit stops it and releases the
// backing context; after Uninit returns no callback is running.
type device interface {
	Uninit()
}

// ListPlaybackDevices returns the names of the available output devices.
func ListPlaybackDevices() ([]string, error) {
	return systemHost{}.deviceNames(ma.Playback)
}

// ListCaptureDevices returns the names of the available input devices.
func ListCaptureDevices() ([]string, error) {
	return systemHost{}.deviceNames(ma.Capture)
}

// systemHost is the real miniaudio implementation of deviceHost. Each open
// device owns its own context, so streams at different sample rates never
// share device state.
type systemHost struct{}

func (systemHost) openPlayback(f audio.Format, deviceName string, pull func([]byte)) (device, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init context: %w", err)
	}

	cfg := ma.DefaultDeviceConfig(ma.Playback)
	cfg.Playback.Format = ma.FormatS16
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1

	if deviceName != "" {
		id, err := findDevice(mctx.Context, ma.Playback, deviceName)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		cfg.Playback.DeviceID = id.Pointer()
	}

	onSamples := func(out, _ []byte, _ uint32) {
		pull(out)
	}
	return startDevice(mctx, cfg, onSamples)
}

func (systemHost) openCapture(f audio.Format, deviceName string, push func([]byte)) (device, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init context: %w", err)
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1

	if deviceName != "" {
		id, err := findDevice(mctx.Context, ma.Capture, deviceName)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	onSamples := func(_, in []byte, _ uint32) {
		push(in)
	}
	return startDevice(mctx, cfg, onSamples)
}

func (systemHost) deviceNames(kind ma.DeviceType) ([]string, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo: enumerate devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, deviceName(info))
	}
	return names, nil
}

// startDevice initializes and starts a device on mctx, taking ownership of
// the context on both success and failure.
func startDevice(mctx *ma.AllocatedContext, cfg ma.DeviceConfig, onSamples ma.DataProc) (device, error) {
	dev, err := ma.InitDevice(mctx.Context, cfg, ma.DeviceCallbacks{Data: onSamples})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("start device: %w", err)
	}
	return &systemDevice{mctx: mctx, dev: dev}, nil
}

// findDevice resolves a device name to its miniaudio id, case-insensitively.
func findDevice(mctx ma.Context, kind ma.DeviceType, name string) (ma.DeviceID, error) {
	infos, err := mctx.Devices(kind)
	if err != nil {
		return ma.DeviceID{}, fmt.Errorf("enumerate devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		n := deviceName(info)
		if strings.EqualFold(n, name) {
			return info.ID, nil
		}
		names = append(names, n)
	}
	return ma.DeviceID{}, fmt.Errorf("no device named %q (available: %s)", name, strings.Join(names, ", "))
}

// deviceName strips the NUL padding miniaudio leaves in device names.
func deviceName(info ma.DeviceInfo) string {
	return strings.TrimRight(info.Name(), "\x00")
}

func freeContext(mctx *ma.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

type systemDevice struct {
	mctx *ma.AllocatedContext
	dev  *ma.Device
}

func (d *systemDevice) Uninit() {
	d.dev.Uninit()
	freeContext(d.mctx)
}
