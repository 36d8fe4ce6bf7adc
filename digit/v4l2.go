//go:build linux

package digit

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // frame decoding
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// digitLEDControlID is the vendor control the DIGIT firmware maps the RGB
// LED bank to. Set accepts 0-15, readback reports 0-4095; see ScaleDown.
const digitLEDControlID = 0x009a0903

// pullTimeout bounds a single frame grab. A pull that takes longer than
// this means the device has stopped producing frames.
const pullTimeout = 2 * time.Second

// Info identifies an enumerated DIGIT device.
type Info struct {
	Path    string // device node, e.g. /dev/video0
	Card    string // driver-reported card name
	BusInfo string // USB bus position, used to re-find the device
}

// List enumerates connected DIGIT devices by probing video nodes and
// matching the reported card name. It returns ErrNoDevice if none match.
func List() ([]Info, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("listing video nodes: %v", err)
	}
	var infos []Info
	for _, p := range paths {
		dev, err := device.Open(p)
		if err != nil {
			continue
		}
		caps := dev.Capability()
		dev.Close()
		if !strings.Contains(caps.Card, "DIGIT") {
			continue
		}
		infos = append(infos, Info{Path: p, Card: caps.Card, BusInfo: caps.BusInfo})
	}
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}
	return infos, nil
}

// V4L2Opts are options for connecting to a DIGIT over V4L2.
type V4L2Opts struct {
	// DevicePath pins a specific video node. If empty, the first
	// enumerated DIGIT is used.
	DevicePath string

	Verbose bool
}

// V4L2Session is a Session backed by a physical DIGIT through go4vl.
type V4L2Session struct {
	opts V4L2Opts
	info Info
	caps Capabilities

	dev    *device.Device
	cancel context.CancelFunc
	frames <-chan []byte
	stream int
}

var _ Session = (*V4L2Session)(nil)

// ConnectV4L2 enumerates DIGIT devices and connects to the first one found
// (or opts.DevicePath if set). The stream is left at the catalog default;
// callers wanting the full settle sequence apply it through SetStream.
func ConnectV4L2(opts V4L2Opts) (s *V4L2Session, rerr error) {
	infos, err := List()
	if err != nil {
		return nil, err
	}
	info := infos[0]
	if opts.DevicePath != "" {
		found := false
		for _, i := range infos {
			if i.Path == opts.DevicePath {
				info, found = i, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no DIGIT at %s: %w", opts.DevicePath, ErrNoDevice)
		}
	}

	s = &V4L2Session{
		opts: opts,
		info: info,
		caps: Capabilities{
			Intensity: IntensityRange{LightingMin, LightingMax},
			Streams:   DefaultCatalog(),
		},
	}

	// Make sure we cleanup on failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	if err := s.open(s.caps.Streams.DefaultIndex()); err != nil {
		return nil, fmt.Errorf("connecting to DIGIT %s: %v", info.Path, err)
	}
	if opts.Verbose {
		log.Printf("connected to DIGIT %s at %s", info.Card, info.Path)
	}
	return s, nil
}

// open starts streaming the catalog entry at index, closing any stream
// already running. The frame rate is applied before the resolution; the
// reverse order leaves a display artifact in QVGA mode.
func (s *V4L2Session) open(index int) error {
	opt, err := s.caps.Streams.At(index)
	if err != nil {
		return err
	}

	s.stopStream()

	dev, err := device.Open(s.info.Path, device.WithBufferSize(2))
	if err != nil {
		return fmt.Errorf("open %s: %v", s.info.Path, err)
	}
	if err := dev.SetFrameRate(uint32(opt.FPS)); err != nil {
		dev.Close()
		return fmt.Errorf("set frame rate %d: %v", opt.FPS, err)
	}
	if err := dev.SetPixFormat(v4l2.PixFormat{
		PixelFormat: v4l2.PixelFmtMJPEG,
		Width:       uint32(opt.Resolution.Width),
		Height:      uint32(opt.Resolution.Height),
		Field:       v4l2.FieldNone,
	}); err != nil {
		dev.Close()
		return fmt.Errorf("set pix format %v: %v", opt.Resolution, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(ctx); err != nil {
		cancel()
		dev.Close()
		return fmt.Errorf("start stream: %v", err)
	}
	s.dev = dev
	s.cancel = cancel
	s.frames = dev.GetOutput()
	s.stream = index
	return nil
}

func (s *V4L2Session) stopStream() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil && s.opts.Verbose {
			log.Printf("closing %s: %v", s.info.Path, err)
		}
		s.dev = nil
		s.frames = nil
	}
}

// Capabilities reports the lighting range and stream catalog.
func (s *V4L2Session) Capabilities() Capabilities {
	return s.caps
}

// SetIntensity forwards a set-scale intensity to the LED control.
func (s *V4L2Session) SetIntensity(v int) error {
	if v < s.caps.Intensity.Min || v > s.caps.Intensity.Max {
		return fmt.Errorf("intensity %d not in [%d,%d]: %w",
			v, s.caps.Intensity.Min, s.caps.Intensity.Max, ErrOutOfRange)
	}
	if s.dev == nil {
		return fmt.Errorf("device not open")
	}
	if err := s.dev.SetControlValue(digitLEDControlID, int32(v)); err != nil {
		return fmt.Errorf("set intensity %d: %v", v, err)
	}
	return nil
}

// Intensity returns the LED readback in the 0-4095 readback scale.
func (s *V4L2Session) Intensity() (int, error) {
	if s.dev == nil {
		return 0, fmt.Errorf("device not open")
	}
	ctrl, err := v4l2.GetControl(s.dev.Fd(), digitLEDControlID)
	if err != nil {
		return 0, fmt.Errorf("read intensity: %v", err)
	}
	return int(ctrl.Value), nil
}

// SetStream restarts the stream at the catalog entry at index.
func (s *V4L2Session) SetStream(index int) error {
	return s.open(index)
}

// StreamIndex returns the catalog index currently streaming.
func (s *V4L2Session) StreamIndex() int {
	return s.stream
}

// PullFrame grabs and decodes one frame, waiting at most pullTimeout.
func (s *V4L2Session) PullFrame() (image.Image, error) {
	if s.frames == nil {
		return nil, fmt.Errorf("stream not started")
	}
	timer := time.NewTimer(pullTimeout)
	defer timer.Stop()

	select {
	case buf, ok := <-s.frames:
		if !ok {
			return nil, fmt.Errorf("frame stream closed")
		}
		img, _, err := image.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("decoding frame: %v", err)
		}
		return img, nil
	case <-timer.C:
		return nil, fmt.Errorf("frame timeout after %v", pullTimeout)
	}
}

// Connected re-enumerates DIGIT devices and checks ours is still on the
// bus. The node can disappear without the open handle erroring first.
func (s *V4L2Session) Connected() bool {
	infos, err := List()
	if err != nil {
		return false
	}
	for _, i := range infos {
		if i.BusInfo == s.info.BusInfo {
			return true
		}
	}
	return false
}

// Close stops streaming and releases the device, best effort.
func (s *V4L2Session) Close() error {
	s.stopStream()
	return nil
}
