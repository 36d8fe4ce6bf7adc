package digit

import "fmt"

// Mode is a sensor resolution mode. DIGIT supports two.
type Mode string

const (
	ModeVGA  Mode = "VGA"  // 640x480, the wide mode
	ModeQVGA Mode = "QVGA" // 320x240, the narrow (default) mode
)

// Resolution in pixels.
type Resolution struct {
	Width  int
	Height int
}

// StreamOption is one (mode, frame rate, resolution) combination the
// device can be set to. Immutable once enumerated.
type StreamOption struct {
	Mode       Mode
	FPS        int
	Resolution Resolution
}

// String renders the option the way it is shown to an operator,
// e.g. "VGA 30fps".
func (o StreamOption) String() string {
	return fmt.Sprintf("%s %dfps", o.Mode, o.FPS)
}

// Catalog is the ordered set of streams a device supports, flattened from
// the device capability table at connect time. The order matches the
// device's native enumeration order exactly: indices are persisted across
// runs and must keep their meaning.
type Catalog struct {
	options []StreamOption
}

// NewCatalog builds a catalog from options in device enumeration order.
func NewCatalog(options []StreamOption) *Catalog {
	c := &Catalog{options: make([]StreamOption, len(options))}
	copy(c.options, options)
	return c
}

// DefaultCatalog returns the stream table of the current DIGIT firmware:
// VGA 30, VGA 15, QVGA 60, QVGA 30.
func DefaultCatalog() *Catalog {
	return NewCatalog([]StreamOption{
		{ModeVGA, 30, Resolution{640, 480}},
		{ModeVGA, 15, Resolution{640, 480}},
		{ModeQVGA, 60, Resolution{320, 240}},
		{ModeQVGA, 30, Resolution{320, 240}},
	})
}

// Len returns the number of streams.
func (c *Catalog) Len() int {
	return len(c.options)
}

// At returns the option at index. It returns ErrBadIndex (wrapped) for
// indices outside 0..Len()-1.
func (c *Catalog) At(index int) (StreamOption, error) {
	if index < 0 || index >= len(c.options) {
		return StreamOption{}, fmt.Errorf("catalog index %d: %w", index, ErrBadIndex)
	}
	return c.options[index], nil
}

// IndexOf returns the index of the option with the given mode and frame
// rate, or -1 if the catalog has no such stream.
func (c *Catalog) IndexOf(mode Mode, fps int) int {
	for i, o := range c.options {
		if o.Mode == mode && o.FPS == fps {
			return i
		}
	}
	return -1
}

// WideIndex returns the index of the first wide-mode stream. The startup
// settle sequence switches here first to clear sensor-internal state.
func (c *Catalog) WideIndex() int {
	for i, o := range c.options {
		if o.Mode == ModeVGA {
			return i
		}
	}
	return -1
}

// DefaultIndex returns the index of the highest-rate narrow-mode stream,
// where the settle sequence lands after the transient wide switch.
func (c *Catalog) DefaultIndex() int {
	best := -1
	for i, o := range c.options {
		if o.Mode != ModeQVGA {
			continue
		}
		if best == -1 || o.FPS > c.options[best].FPS {
			best = i
		}
	}
	return best
}

// Strings returns the operator-facing labels for every stream, in catalog
// order.
func (c *Catalog) Strings() []string {
	l := make([]string, len(c.options))
	for i, o := range c.options {
		l[i] = o.String()
	}
	return l
}
