package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// DeviceInfo is a printable summary of an input device.
type DeviceInfo struct {
	Index      int
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	Default    bool
}

// PortAudioSource captures microphone PCM through a PortAudio callback stream.
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// ListDevices returns every device that can record.
func (s *PortAudioSource) ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range inputDevices(devices) {
		info := DeviceInfo{
			Index:      d.Index,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    d.Name == defaultName,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Open starts a mono 16-bit capture stream that offers every driver buffer to sink.
func (s *PortAudioSource) Open(_ context.Context, cfg ports.AudioConfig, sink ports.FrameSink) (ports.AudioStream, error) {
	if sink == nil {
		return nil, errors.New("frame sink is required")
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 8000
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, &domain.DeviceError{Device: cfg.Device, Err: fmt.Errorf("portaudio init failed: %w", err)}
	}

	stream, rate, err := openPortAudioStream(cfg, sink)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &domain.DeviceError{Device: cfg.Device, Err: err}
	}

	slog.Info("audio capture started", "backend", "portaudio", "device", cfg.Device, "sample_rate", rate, "frame_size", cfg.FrameSize)
	return &portAudioStream{stream: stream, rate: rate}, nil
}

func openPortAudioStream(cfg ports.AudioConfig, sink ports.FrameSink) (*portaudio.Stream, int, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var def *portaudio.DeviceInfo
	if isDefaultDevice(cfg.Device) {
		def, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, 0, fmt.Errorf("no default input device: %w", err)
		}
	}
	device, err := selectDevice(devices, def, cfg.Device)
	if err != nil {
		return nil, 0, err
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = int(device.DefaultSampleRate)
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = cfg.FrameSize

	if err := portaudio.IsFormatSupported(params, []int16{}); err != nil {
		return nil, 0, fmt.Errorf("sample rate %d not supported by %q: %w", rate, device.Name, err)
	}

	callback := func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags != 0 {
			slog.Warn("audio driver status", "flags", describeFlags(flags))
		}
		_ = sink.Offer(int16ToBytes(in))
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, 0, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, 0, fmt.Errorf("start stream failed: %w", err)
	}
	return stream, rate, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	rate   int

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) SampleRate() int { return s.rate }

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		stopErr := s.stream.Stop()
		closeErr := s.stream.Close()
		termErr := portaudio.Terminate()
		s.closeErr = errors.Join(stopErr, closeErr, termErr)
		slog.Info("audio capture stopped", "backend", "portaudio")
	})
	return s.closeErr
}

// selectDevice resolves a device selector: empty or "default" picks def, a number
// picks by index, anything else matches a name substring case-insensitively.
func selectDevice(devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo, selector string) (*portaudio.DeviceInfo, error) {
	selector = strings.TrimSpace(selector)
	if isDefaultDevice(selector) {
		if def == nil {
			return nil, errors.New("no default input device")
		}
		return def, nil
	}

	if index, err := strconv.Atoi(selector); err == nil {
		for _, d := range devices {
			if d.Index == index {
				if d.MaxInputChannels < 1 {
					return nil, fmt.Errorf("device %d (%s) has no input channels", index, d.Name)
				}
				return d, nil
			}
		}
		return nil, fmt.Errorf("no device with index %d", index)
	}

	needle := strings.ToLower(selector)
	for _, d := range inputDevices(devices) {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", selector)
}

func inputDevices(devices []*portaudio.DeviceInfo) []*portaudio.DeviceInfo {
	out := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d != nil && d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

func isDefaultDevice(selector string) bool {
	selector = strings.TrimSpace(selector)
	return selector == "" || strings.EqualFold(selector, "default")
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func describeFlags(flags portaudio.StreamCallbackFlags) string {
	var parts []string
	if flags&portaudio.InputUnderflow != 0 {
		parts = append(parts, "input_underflow")
	}
	if flags&portaudio.InputOverflow != 0 {
		parts = append(parts, "input_overflow")
	}
	if flags&portaudio.OutputUnderflow != 0 {
		parts = append(parts, "output_underflow")
	}
	if flags&portaudio.OutputOverflow != 0 {
		parts = append(parts, "output_overflow")
	}
	if flags&portaudio.PrimingOutput != 0 {
		parts = append(parts, "priming_output")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%x", uint64(flags))
	}
	return strings.Join(parts, ",")
}
