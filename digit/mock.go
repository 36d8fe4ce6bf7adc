package digit

import (
	"errors"
	"image"
)

// MockSession implements Session for testing. Fields are exported so
// tests can script behavior and inspect what the core did.
type MockSession struct {
	Caps Capabilities

	// Frame returned by PullFrame when PullErr is nil. If nil, a small
	// gray image is returned.
	Frame   image.Image
	PullErr error

	// FailPullAfter, when > 0, makes PullFrame fail once that many
	// successful pulls have happened. Simulates a mid-session unplug.
	FailPullAfter int

	SetErr     error // forced error for SetIntensity/SetStream
	Gone       bool  // Connected() returns !Gone
	Closed     bool
	PullCount  int
	SetStreams []int // every index applied through SetStream

	intensity int // set scale
	stream    int
}

// NewMockSession returns a mock with the default DIGIT capability table,
// full lighting range, and the default stream applied.
func NewMockSession() *MockSession {
	catalog := DefaultCatalog()
	return &MockSession{
		Caps: Capabilities{
			Intensity: IntensityRange{LightingMin, LightingMax},
			Streams:   catalog,
		},
		stream: catalog.DefaultIndex(),
	}
}

func (m *MockSession) Capabilities() Capabilities {
	return m.Caps
}

func (m *MockSession) SetIntensity(v int) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	if v < m.Caps.Intensity.Min || v > m.Caps.Intensity.Max {
		return ErrOutOfRange
	}
	m.intensity = v
	return nil
}

// Intensity reports in the readback scale, like the hardware does.
func (m *MockSession) Intensity() (int, error) {
	return m.intensity * 263, nil
}

func (m *MockSession) SetStream(index int) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	if _, err := m.Caps.Streams.At(index); err != nil {
		return err
	}
	m.stream = index
	m.SetStreams = append(m.SetStreams, index)
	return nil
}

func (m *MockSession) StreamIndex() int {
	return m.stream
}

func (m *MockSession) PullFrame() (image.Image, error) {
	if m.PullErr != nil {
		return nil, m.PullErr
	}
	if m.FailPullAfter > 0 && m.PullCount >= m.FailPullAfter {
		return nil, errors.New("mock device unplugged")
	}
	m.PullCount++
	if m.Frame != nil {
		return m.Frame, nil
	}
	opt, _ := m.Caps.Streams.At(m.stream)
	return image.NewGray(image.Rect(0, 0, opt.Resolution.Width, opt.Resolution.Height)), nil
}

func (m *MockSession) Connected() bool {
	return !m.Gone
}

func (m *MockSession) Close() error {
	m.Closed = true
	return nil
}

// Ensure MockSession implements Session.
var _ Session = (*MockSession)(nil)
