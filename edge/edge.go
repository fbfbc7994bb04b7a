/*Package edge finds the solar limb in camera frames.

Two detections live here.  MeasureWidth is a one-shot scan across a full
frame that finds the width of the solar disk and how far off-center it
sits.  Detector is the per-frame state machine that watches a small
region of interest for the brightness to rise above and then fall below
a threshold as the telescope slews across the disk.
*/
package edge

import (
	"errors"
	"image"
	"sync"

	"github.com/shglab/shgscan/camera"
)

const (
	// DefaultSunWidth is used when the edge scan cannot find both limbs.
	// It is roughly correct for an 80mm f/7 refractor on 2 micron pixels.
	DefaultSunWidth = 2300

	// windowW and windowH are the size of the sliding window used by
	// the one-shot edge scan
	windowW = 10
	windowH = 100
)

// ErrSunNotInFrame is generated when the mean brightness of the whole
// frame is below threshold, i.e. the sun is not on the sensor at all
var ErrSunNotInFrame = errors.New("sun is not in frame")

// Geometry is the measured apparent size and placement of the sun
type Geometry struct {
	// Width is the apparent width of the solar disk in pixels
	Width int `json:"width"`

	// Decenter is the offset of the disk center from the frame center
	// in pixels, positive when the disk sits right of center
	Decenter int `json:"decenter"`
}

// MeasureWidth scans a frame for the solar disk.  A 10x100 window
// slides from the left edge rightward until its mean crosses threshold,
// marking the leading limb, and independently from the right edge
// leftward for the trailing limb.  If the whole frame's mean is below
// threshold the sun is absent and ErrSunNotInFrame returns.  If either
// limb is not found the geometry falls back to DefaultSunWidth,
// centered.
func MeasureWidth(f camera.Frame, threshold float64) (Geometry, error) {
	bounds := f.Bounds()
	global, err := f.Mean(bounds)
	if err != nil {
		return Geometry{}, err
	}
	if global < threshold {
		return Geometry{}, ErrSunNotInFrame
	}

	imgWidth := bounds.Dx()
	last := imgWidth - windowW

	startEdge := -1
	for x := 0; x <= last; x++ {
		m, err := f.Mean(image.Rect(x, 0, x+windowW, windowH).Add(bounds.Min))
		if err != nil {
			return Geometry{}, err
		}
		if m >= threshold {
			startEdge = x
			break
		}
	}

	endEdge := -1
	for x := last; x >= 0; x-- {
		m, err := f.Mean(image.Rect(x, 0, x+windowW, windowH).Add(bounds.Min))
		if err != nil {
			return Geometry{}, err
		}
		if m >= threshold {
			endEdge = x
			break
		}
	}

	if startEdge > 0 && endEdge > 0 {
		width := endEdge - startEdge
		return Geometry{
			Width:    width,
			Decenter: (width/2 + startEdge) - imgWidth/2}, nil
	}
	return Geometry{Width: DefaultSunWidth, Decenter: 0}, nil
}

// Detector is the limb-crossing state machine.  It waits for the
// sampled brightness to rise above the threshold (the disk entering the
// region) and then to fall below it (the limb passing).  To bound
// processing cost it only evaluates every Nth sample.
//
// A Detector is owned by one slew at a time and must be Reset before
// reuse.  Sample and the query methods are concurrent safe, since
// samples arrive on the frame-delivery goroutine while the slew loop
// polls Passed.
type Detector struct {
	mu sync.Mutex

	threshold float64
	interval  int
	countdown int

	positive bool
	passed   bool
}

// NewDetector returns a Detector evaluating every interval-th sample
// against threshold.  An interval below 1 evaluates every sample.
func NewDetector(threshold float64, interval int) *Detector {
	if interval < 1 {
		interval = 1
	}
	return &Detector{
		threshold: threshold,
		interval:  interval,
		countdown: interval}
}

// Reset rearms the detector for a new slew
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positive = false
	d.passed = false
	d.countdown = d.interval
}

// Sample feeds one region-of-interest mean brightness to the detector.
// Only every Nth call is evaluated; the rest return immediately.
func (d *Detector) Sample(mean float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.countdown > 1 {
		d.countdown--
		return
	}
	d.countdown = d.interval
	if !d.positive {
		d.positive = mean > d.threshold
	} else if !d.passed {
		d.passed = mean < d.threshold
	}
}

// PositiveSeen answers if the disk has been seen above threshold
func (d *Detector) PositiveSeen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positive
}

// Passed answers if the limb crossing has completed.  It is terminal
// until Reset.
func (d *Detector) Passed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passed
}
