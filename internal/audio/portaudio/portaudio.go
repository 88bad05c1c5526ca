// Package portaudio adapts the default PortAudio input device to audio.Source.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0xlemi/micnote/internal/audio"
	"github.com/gordonklaus/portaudio"
)

// Sample rates probed when logging what a device supports
var probeRates = []float64{8000, 16000, 22050, 32000, 44100, 48000, 88200, 96000}

// Device is the default input device, opened with its default configuration
type Device struct {
	logger *slog.Logger
	info   *portaudio.DeviceInfo
	params portaudio.StreamParameters
	format audio.Format

	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
}

// OpenDefault initializes PortAudio and selects the default input device.
// maxChannels caps the channel count taken from the device (0 keeps up to 2).
// framesPerBuffer of 0 lets the host choose.
func OpenDefault(maxChannels, framesPerBuffer int, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil || info.MaxInputChannels < 1 {
		portaudio.Terminate()
		if err == nil {
			err = errors.New("device reports no input channels")
		}
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	if maxChannels <= 0 {
		maxChannels = 2
	}
	channels := min(info.MaxInputChannels, maxChannels)

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = info.DefaultSampleRate
	if framesPerBuffer > 0 {
		params.FramesPerBuffer = framesPerBuffer
	} else {
		params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	d := &Device{
		logger: logger.With("device", info.Name),
		info:   info,
		params: params,
		format: audio.Format{
			SampleFormat: audio.Float32,
			Channels:     channels,
			SampleRate:   info.DefaultSampleRate,
		},
	}
	d.logSupported()
	d.logger.Info("selected input device", "format", d.format.String())
	return d, nil
}

// logSupported probes a few common configurations purely for diagnostics
func (d *Device) logSupported() {
	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for ch := 1; ch <= d.info.MaxInputChannels && ch <= 8; ch++ {
		for _, rate := range probeRates {
			p := d.params
			p.Input.Channels = ch
			p.SampleRate = rate
			err := portaudio.IsFormatSupported(p, func([]float32) {})
			d.logger.Debug("input configuration", "channels", ch, "sampleRate", rate, "supported", err == nil)
		}
	}
}

// Format returns the negotiated stream configuration
func (d *Device) Format() audio.Format {
	return d.format
}

// Start opens the stream and installs handler as its callback.
// PortAudio runs the callback on its own real-time thread.
func (d *Device) Start(handler audio.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("device closed")
	}
	if d.stream != nil {
		return errors.New("stream already started")
	}

	stream, err := portaudio.OpenStream(d.params, func(in []float32) {
		handler(in)
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	d.stream = stream
	return nil
}

// Stop stops and closes the stream. PortAudio waits for a running callback
// to return before Stop completes.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	stream := d.stream
	d.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("stop input stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	return nil
}

// Close stops the stream and terminates PortAudio
func (d *Device) Close() error {
	err := d.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return err
	}
	d.closed = true
	return errors.Join(err, portaudio.Terminate())
}

// InputDevice is a summary of one device, as listed by ListInputs
type InputDevice struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListInputs returns every device with at least one input channel
func ListInputs() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	var def string
	if info, err := portaudio.DefaultInputDevice(); err == nil && info != nil {
		def = info.Name
	}

	var inputs []InputDevice
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		host := ""
		if dev.HostApi != nil {
			host = dev.HostApi.Name
		}
		inputs = append(inputs, InputDevice{
			Name:              dev.Name,
			HostAPI:           host,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			Default:           dev.Name == def,
		})
	}
	return inputs, nil
}
