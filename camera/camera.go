/*Package camera describes the interface the scan core requires from a
video camera, and a simulated implementation of it.

The interface is intentionally thin: the core only ever needs the latest
frame, mean brightness over a region, capture start/stop, and a per-frame
notification.  Concrete cameras (SharpCap's HTTP bridge, an SDK binding)
adapt to it.
*/
package camera

import (
	"errors"
	"image"
	"strconv"
	"strings"
)

// MaxBright is the full-scale value of a 16-bit mono pixel
const MaxBright = 65535

var (
	// ErrNoFrame is generated when the latest frame is requested before
	// the camera has delivered one
	ErrNoFrame = errors.New("no frame available yet")

	// ErrNoFPS is generated when the camera status text does not carry
	// a frames-per-second figure
	ErrNoFPS = errors.New("no fps figure in camera status")
)

// Frame is a single 2D brightness frame from the sensor
type Frame interface {
	// Bounds returns the pixel extent of the frame
	Bounds() image.Rectangle

	// Mean returns the mean brightness over the given region.
	// The region must intersect the frame bounds.
	Mean(image.Rectangle) (float64, error)
}

// Gray16er is a Frame which can expose its pixels as an image, used by
// the FITS export path
type Gray16er interface {
	Gray16() *image.Gray16
}

// Camera is a video camera delivering frames continuously
type Camera interface {
	// Frame returns the most recently delivered frame
	Frame() (Frame, error)

	// Subscribe registers a handler called synchronously with every
	// delivered frame.  The returned function cancels the subscription;
	// it is safe to call more than once.
	Subscribe(func(Frame)) (cancel func())

	// PrepareCapture readies the capture pipeline
	PrepareCapture() error

	// StartCapture begins recording frames to the capture sink
	StartCapture() error

	// StopCapture ends recording
	StopCapture() error

	// Status returns the camera's textual status line, which embeds a
	// frames-per-second figure when the camera is running fast enough
	Status() (string, error)
}

// ParseFPS extracts the frames-per-second figure from a camera status
// line of the form "Monitoring, 52.71 fps @ 3840x1200".  Cameras omit
// the figure at very low frame rates, in which case ErrNoFPS returns.
func ParseFPS(status string) (float64, error) {
	idx := strings.Index(status, " fps")
	if idx < 0 {
		return 0, ErrNoFPS
	}
	head := status[:idx]
	comma := strings.LastIndex(head, ", ")
	if comma < 0 {
		return 0, ErrNoFPS
	}
	fps, err := strconv.ParseFloat(head[comma+2:], 64)
	if err != nil {
		return 0, ErrNoFPS
	}
	return fps, nil
}
