/*Package scan contains the spectroheliograph scan core: the tunable
scan parameters, the derived slew rate math, and the acquisition
sequencer that drives the mount and camera through capture cycles.
*/
package scan

import (
	"fmt"
	"sync"

	"github.com/shglab/shgscan/camera"
	"github.com/shglab/shgscan/mount"
)

// defaults for a fresh installation
const (
	DefaultCycles     = 15
	DefaultSunWidth   = 2300
	DefaultCycleSleep = 0.5
	DefaultSlewPad    = 0.5
	DefaultThreshold  = 0.1 // fraction of full scale
	DefaultBumpRate   = 8
)

// Config holds the user-tunable scan parameters.  Mutate it through a
// Store, which validates each field independently.
type Config struct {
	// NumCycles is how many capture cycles to run
	NumCycles int `json:"numCycles"`

	// SunWidth is the apparent width of the solar disk in pixels
	SunWidth int `json:"sunWidth"`

	// SlewPad is how long to continue slewing after the limb passes,
	// in seconds, so the disk fully clears the slit
	SlewPad float64 `json:"slewPad"`

	// CycleSleep is the pause between cycles in seconds
	CycleSleep float64 `json:"cycleSleep"`

	// BumpRate is the rate multiplier for bump nudges
	BumpRate int `json:"bumpRate"`

	// BumpSwap inverts the bump direction, for mirror-flipped optics
	BumpSwap bool `json:"bumpSwap"`

	// AxisToMove is the scan axis, mount.AxisRA or mount.AxisDec
	AxisToMove int `json:"axisToMove"`

	// Bidirectional captures on the return slew instead of fast-returning
	Bidirectional bool `json:"bidirectional"`

	// LimbThreshold is the limb detection threshold in absolute
	// brightness counts, 0..camera.MaxBright
	LimbThreshold float64 `json:"limbThreshold"`
}

// DefaultConfig returns the configuration a fresh installation runs with
func DefaultConfig() Config {
	return Config{
		NumCycles:     DefaultCycles,
		SunWidth:      DefaultSunWidth,
		SlewPad:       DefaultSlewPad,
		CycleSleep:    DefaultCycleSleep,
		BumpRate:      DefaultBumpRate,
		BumpSwap:      false,
		AxisToMove:    mount.AxisRA,
		Bidirectional: false,
		LimbThreshold: DefaultThreshold * camera.MaxBright}
}

// Store is a concurrent-safe holder of a Config.  Every setter
// validates its input; invalid input is rejected with an error and the
// prior value is retained, so the stored config is never partially
// invalid.
type Store struct {
	mu sync.Mutex
	c  Config
}

// NewStore returns a Store holding the default configuration
func NewStore() *Store {
	return &Store{c: DefaultConfig()}
}

// NewStoreWith returns a Store holding the given configuration.
// The config is trusted; use it for configs read back from disk.
func NewStoreWith(c Config) *Store {
	return &Store{c: c}
}

// Snapshot returns a copy of the current configuration
func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// SetNumCycles sets the cycle count, which must not be negative
func (s *Store) SetNumCycles(n int) error {
	if n < 0 {
		return fmt.Errorf("cycle count must be >= 0, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.NumCycles = n
	return nil
}

// SetSunWidth sets the measured sun width in pixels.  Widths of 100px
// or less are implausible for any spectroheliograph and are rejected.
func (s *Store) SetSunWidth(w int) error {
	if w <= 100 {
		return fmt.Errorf("sun width must exceed 100 px, got %d", w)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.SunWidth = w
	return nil
}

// SetSlewPad sets the end-of-slew padding in seconds
func (s *Store) SetSlewPad(p float64) error {
	if p <= 0 {
		return fmt.Errorf("slew pad must be positive, got %f", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.SlewPad = p
	return nil
}

// SetCycleSleep sets the inter-cycle pause in seconds
func (s *Store) SetCycleSleep(p float64) error {
	if p <= 0 {
		return fmt.Errorf("cycle sleep must be positive, got %f", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.CycleSleep = p
	return nil
}

// SetBumpRate sets the bump nudge rate multiplier
func (s *Store) SetBumpRate(r int) error {
	if r <= 0 {
		return fmt.Errorf("bump rate must be positive, got %d", r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.BumpRate = r
	return nil
}

// SetBumpSwap sets the bump direction inversion flag
func (s *Store) SetBumpSwap(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.BumpSwap = b
	return nil
}

// SetAxisToMove selects the scan axis
func (s *Store) SetAxisToMove(axis int) error {
	if axis != mount.AxisRA && axis != mount.AxisDec {
		return fmt.Errorf("axis must be %d (RA) or %d (Dec), got %d", mount.AxisRA, mount.AxisDec, axis)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.AxisToMove = axis
	return nil
}

// SetBidirectional sets the reverse-capture flag
func (s *Store) SetBidirectional(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Bidirectional = b
	return nil
}

// SetLimbThreshold sets the limb detection threshold in absolute counts
func (s *Store) SetLimbThreshold(t float64) error {
	if t < 0 || t > camera.MaxBright {
		return fmt.Errorf("limb threshold must be in [0, %d], got %f", camera.MaxBright, t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.LimbThreshold = t
	return nil
}
