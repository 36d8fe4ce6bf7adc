// Package digitcap drives capture sessions against a DIGIT tactile-sensor
// camera: a live-view pump pulls frames from a device session, a capture
// orchestrator records timed sequences of frames to disk, and preferences
// persist settings across runs. All core operations run serialized on one
// Loop, so nothing here needs locking.
package digitcap

import "image"

// Status strings reported to the presentation layer.
const (
	StatusReady          = "Ready to capture"
	StatusComplete       = "Capture complete!"
	StatusSaveDirMissing = "Capture failed: Save directory does not exist"
)

// Presenter is the presentation boundary. The core reports into it and
// never depends on how it renders; a GUI mirrors these calls, the console
// presenter in cmd/digitcap just logs them. Calls happen on the Loop.
type Presenter interface {
	// ShowStatus displays a capture status line.
	ShowStatus(status string)

	// ShowFrame renders one live-view frame, already downscaled for
	// preview. Implementations may drop frames; a dropped render never
	// drops a captured frame.
	ShowFrame(img image.Image)

	// SetControlsEnabled signals whether mutating settings should be
	// accepted from the operator. Signaled, not enforced.
	SetControlsEnabled(enabled bool)

	// DeviceLost signals that frame acquisition failed and the pump has
	// stopped. The operator must reconnect and relaunch.
	DeviceLost()
}
