/*Package mount describes the interface the scan core requires from an
equatorial telescope mount, and two implementations: a simulator and a
driver for SkyWatcher motor controllers.

Rates everywhere in this package and its consumers are signed multiples
of the solar tracking rate.  A rate of 0 stops commanded motion and
resumes the selected tracking rate.
*/
package mount

// Axis indices.  The scan axis is selectable; bump nudges use the other one.
const (
	AxisRA  = 0
	AxisDec = 1
)

// SolarRateDeg is the solar tracking rate in degrees per second.
// The sun moves 360 degrees in 24 hours against the mount.
const SolarRateDeg = 1.0 / 240.0

// OtherAxis returns the axis not given, i.e. the bump axis for a scan axis
func OtherAxis(axis int) int {
	return 1 - axis
}

// Tracking selects the sidereal-family tracking rate of the mount
type Tracking int

// Tracking rates
const (
	TrackingOff Tracking = iota
	TrackingSidereal
	TrackingSolar
	TrackingLunar
)

// Position is an opaque mount position token.  Axis angles are in
// degrees; their zero point is driver dependent, so positions are only
// meaningful when passed back to the mount they came from.
type Position struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Mount is a two-axis telescope mount
type Mount interface {
	// MoveAxis moves an axis at a rate given as a signed multiple of
	// the solar tracking rate.  Rate 0 stops the motion and resumes
	// the default tracking rate.
	MoveAxis(axis int, rate float64) error

	// Position returns the current position token
	Position() (Position, error)

	// SlewTo slews to a previously captured position token and blocks
	// until the mount arrives
	SlewTo(Position) error

	// SelectedRate gets the rate multiplier used for position slews
	SelectedRate() (float64, error)

	// SetSelectedRate sets the rate multiplier used for position slews
	SetSelectedRate(float64) error

	// Connected answers if the mount link is up
	Connected() (bool, error)

	// Connect brings the mount link up
	Connect() error

	// SetTracking selects the tracking rate
	SetTracking(Tracking) error
}
