package scan

import "errors"

// ErrFrameRateTooSlow is generated when the slew factor computes to
// exactly zero, which happens when the frame rate was measured as zero
// (the camera status carried no fps figure)
var ErrFrameRateTooSlow = errors.New("frame rate too slow, fps figure must be displayed")

// RateParams are the derived scan-rate parameters.  They must be
// recomputed whenever the frame rate or the sun width changes.
type RateParams struct {
	// SlewFactor is the mount rate as a signed multiple of the solar
	// tracking rate.  Negative is the return/baseline direction;
	// callers flip the sign to scan forward.
	SlewFactor float64 `json:"slewFactor"`

	// CycleDuration is the estimated duration of one capture cycle
	// in seconds
	CycleDuration float64 `json:"cycleDuration"`
}

// ComputeRateParams derives the slew rate from the camera frame rate
// and the measured sun width.  A 1:1 aspect ratio needs as many scan
// lines as the sun is pixels wide, at one captured frame per line:
// sunDeg/sunPix deg per line times fps lines per second gives the
// required deg/sec, and dividing by the solar tracking rate of
// 1/240 deg/sec leaves 120*fps/sunWidth.
func ComputeRateParams(frameRate float64, sunWidth int, slewPad float64) (RateParams, error) {
	factor := -(frameRate * 120) / float64(sunWidth)
	if factor == 0 {
		return RateParams{}, ErrFrameRateTooSlow
	}
	return RateParams{
		SlewFactor:    factor,
		CycleDuration: 2*slewPad + float64(sunWidth)/frameRate}, nil
}
