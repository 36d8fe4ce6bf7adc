// Package digit talks to DIGIT tactile-sensor cameras: finding devices,
// holding a connection, enumerating streams and pulling frames.
package digit

import (
	"errors"
	"image"
)

// Errors returned by sessions. Callers branch on these with errors.Is.
var (
	// ErrNoDevice means no DIGIT device was found during enumeration.
	ErrNoDevice = errors.New("no DIGIT devices found")

	// ErrOutOfRange means an intensity set-point was outside the
	// capability range. The previous value is retained.
	ErrOutOfRange = errors.New("intensity out of range")

	// ErrBadIndex means a stream index was outside the catalog bounds.
	// The previous stream is retained.
	ErrBadIndex = errors.New("stream index out of range")
)

// Intensity scales. The device accepts set-points in [LightingMin,
// LightingMax] but reports readback on a wider 0-4095 scale. ScaleDown
// converts a readback to the set scale. The divisor is empirical for the
// current firmware revision; other hardware revisions may differ.
const (
	LightingMin = 0
	LightingMax = 15

	intensityReadbackDivisor = 263
)

// ScaleDown converts an intensity readback (0-4095) to the set scale
// (0-15). Use it whenever a readback is fed back as a set-point or
// persisted.
func ScaleDown(readback int) int {
	return readback / intensityReadbackDivisor
}

// IntensityRange is the set-scale range reported by the device.
type IntensityRange struct {
	Min int
	Max int
}

// Capabilities describes a connected device: its lighting range and the
// streams it supports.
type Capabilities struct {
	Intensity IntensityRange
	Streams   *Catalog
}

// Session is one connection to a physical DIGIT. Implementations are not
// safe for concurrent use; the capture core serializes all calls onto one
// run loop.
type Session interface {
	// Capabilities is valid for the lifetime of the connection.
	Capabilities() Capabilities

	// SetIntensity sets the LED intensity, in the set scale. Returns
	// ErrOutOfRange (wrapped) for values outside the capability range.
	SetIntensity(v int) error

	// Intensity returns the current intensity readback, in the wider
	// readback scale. Apply ScaleDown before reusing it as a set-point.
	Intensity() (int, error)

	// SetStream switches to the catalog entry at index. Returns
	// ErrBadIndex (wrapped) for indices outside the catalog. The frame
	// rate is applied before the resolution; switching them the other
	// way round leaves the sensor showing a display artifact in the
	// narrower mode.
	SetStream(index int) error

	// StreamIndex returns the catalog index currently applied.
	StreamIndex() int

	// PullFrame grabs one decoded frame, best effort. An error means
	// the device has probably gone away; callers should treat it as a
	// disconnect rather than retry.
	PullFrame() (image.Image, error)

	// Connected re-queries device presence by serial number. The
	// physical link can vanish without a graceful close, so this checks
	// enumeration, not just the open handle.
	Connected() bool

	// Close releases the device, best effort. Release errors are
	// logged, never returned as a failure to the caller's shutdown.
	Close() error
}
