package mount

import (
	"math"
	"sync"
	"time"
)

// RateCommand records one MoveAxis call on the simulator
type RateCommand struct {
	Axis int
	Rate float64
}

// Sim is a simulated mount.  Axis positions integrate the commanded
// rates over wall-clock time, so tests can verify where the telescope
// ends up, not just what it was told.
type Sim struct {
	mu sync.Mutex

	pos     [2]float64 // degrees
	rate    [2]float64 // multiples of solar rate
	stamp   [2]time.Time
	selRate float64
	track   Tracking

	connected bool

	history []RateCommand
}

// NewSim returns a connected simulated mount at the origin
func NewSim() *Sim {
	now := time.Now()
	return &Sim{
		stamp:     [2]time.Time{now, now},
		selRate:   1,
		connected: true}
}

// advance folds elapsed motion into the position of an axis.
// callers must hold the lock.
func (s *Sim) advance(axis int, now time.Time) {
	dt := now.Sub(s.stamp[axis]).Seconds()
	s.pos[axis] += s.rate[axis] * SolarRateDeg * dt
	s.stamp[axis] = now
}

// MoveAxis commands an axis rate in multiples of solar tracking rate
func (s *Sim) MoveAxis(axis int, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.advance(axis, now)
	s.rate[axis] = rate
	s.history = append(s.history, RateCommand{Axis: axis, Rate: rate})
	return nil
}

// Position returns the current axis angles
func (s *Sim) Position() (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.advance(0, now)
	s.advance(1, now)
	return Position{A: s.pos[0], B: s.pos[1]}, nil
}

// SlewTo jumps the simulator to the given position and zeroes both rates
func (s *Sim) SlewTo(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.pos[0], s.pos[1] = p.A, p.B
	s.rate[0], s.rate[1] = 0, 0
	s.stamp[0], s.stamp[1] = now, now
	return nil
}

// SelectedRate gets the position-slew rate multiplier
func (s *Sim) SelectedRate() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selRate, nil
}

// SetSelectedRate sets the position-slew rate multiplier
func (s *Sim) SetSelectedRate(r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selRate = r
	return nil
}

// Connected answers if the simulator is "connected"
func (s *Sim) Connected() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}

// Connect marks the simulator connected
func (s *Sim) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// SetTracking records the tracking rate selection
func (s *Sim) SetTracking(t Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

// Rate returns the current commanded rate on an axis
func (s *Sim) Rate(axis int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate[axis]
}

// History returns a copy of every MoveAxis call in order
func (s *Sim) History() []RateCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RateCommand, len(s.history))
	copy(out, s.history)
	return out
}

// Near answers if two positions agree within tol degrees on both axes
func Near(a, b Position, tol float64) bool {
	return math.Abs(a.A-b.A) <= tol && math.Abs(a.B-b.B) <= tol
}
