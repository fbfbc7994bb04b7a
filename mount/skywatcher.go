package mount

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/shglab/shgscan/comm"
)

// the SkyWatcher motor controller protocol is the one spoken by the
// hand controller to the motor board, and by EQMOD-style direct links.
// Commands are ':' <letter> <channel> [data] '\r'.  Replies are
// '=' [data] '\r' when accepted and '!' <code> '\r' when rejected.
//
// 24-bit quantities are hex encoded least significant byte first, so
// 0x123456 goes on the wire as "563412".  Reported positions carry a
// 0x800000 offset so the power-on position is mid-range.

const (
	// OKCode is the first byte of an accepted reply
	OKCode = byte('=')

	// BadReqCode is the first byte of a rejected reply
	BadReqCode = byte('!')

	// positionOffset is added by the controller to reported axis counts
	positionOffset = 0x800000
)

// motor controller error codes, from the rejected-reply data byte
var swErrors = map[byte]string{
	'0': "unknown command",
	'1': "command length error",
	'2': "motor not stopped",
	'3': "invalid character",
	'4': "not initialized",
	'5': "driver sleeping",
}

// ErrMountResponse is generated when the controller rejects a command
type ErrMountResponse struct {
	cmd  string
	code byte
}

func (e ErrMountResponse) Error() string {
	reason, ok := swErrors[e.code]
	if !ok {
		reason = "unrecognized error code"
	}
	return fmt.Sprintf("mount rejected %q: %s", e.cmd, reason)
}

// encode24 renders a 24-bit value in the controller's byte-swapped hex
func encode24(v int) string {
	v &= 0xFFFFFF
	return fmt.Sprintf("%02X%02X%02X", v&0xFF, (v>>8)&0xFF, (v>>16)&0xFF)
}

// decode24 parses a byte-swapped hex value of 2, 4 or 6 digits
func decode24(s string) (int, error) {
	if len(s)%2 != 0 {
		return 0, fmt.Errorf("odd-length hex value %q", s)
	}
	v := 0
	for i := len(s) - 2; i >= 0; i -= 2 {
		b, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return 0, err
		}
		v = v<<8 | int(b)
	}
	return v, nil
}

// SkyWatcher drives a SkyWatcher (EQ-family) motor controller over TCP
// or serial.  All methods are concurrent safe; the link is serialized
// by an internal lock.
type SkyWatcher struct {
	mu   sync.Mutex
	link *comm.Link

	// counts per revolution and timer frequency, per axis, read from
	// the controller during Connect
	cpr   [2]float64
	tfreq [2]float64

	selRate float64
	track   Tracking
}

// NewSkyWatcher returns a driver for a controller at addr.  isSerial
// selects a serial transport (EQDIR cable) over TCP (WiFi adapter).
func NewSkyWatcher(addr string, isSerial bool) *SkyWatcher {
	link := comm.NewLink(addr, isSerial)
	link.Baud = 9600
	return &SkyWatcher{link: link, selRate: 32}
}

// command sends one framed command and returns the reply data.
// callers must hold the lock.
func (s *SkyWatcher) command(letter byte, axis int, data string) (string, error) {
	cmd := fmt.Sprintf(":%c%c%s", letter, byte('1'+axis), data)
	resp, err := s.link.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("empty reply to %q", cmd)
	}
	switch resp[0] {
	case OKCode:
		return string(resp[1:]), nil
	case BadReqCode:
		code := byte(0)
		if len(resp) > 1 {
			code = resp[1]
		}
		return "", ErrMountResponse{cmd: cmd, code: code}
	default:
		return "", fmt.Errorf("malformed reply %q to %q", resp, cmd)
	}
}

// Connect opens the link and reads the axis calibration constants
func (s *SkyWatcher) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link.Connected() {
		return nil
	}
	if err := s.link.Open(); err != nil {
		return err
	}
	for axis := 0; axis < 2; axis++ {
		resp, err := s.command('a', axis, "")
		if err != nil {
			return err
		}
		cpr, err := decode24(resp)
		if err != nil {
			return fmt.Errorf("bad counts-per-rev reply %q: %v", resp, err)
		}
		s.cpr[axis] = float64(cpr)

		resp, err = s.command('b', axis, "")
		if err != nil {
			return err
		}
		tf, err := decode24(resp)
		if err != nil {
			return fmt.Errorf("bad timer-frequency reply %q: %v", resp, err)
		}
		s.tfreq[axis] = float64(tf)

		// energize the motor; harmless if already initialized
		if _, err := s.command('F', axis, ""); err != nil {
			return err
		}
	}
	return nil
}

// Connected answers if the link is up
func (s *SkyWatcher) Connected() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.Connected(), nil
}

// stepPeriod converts an axis speed in deg/sec to the controller's
// T1 timer preset
func (s *SkyWatcher) stepPeriod(axis int, degPerSec float64) int {
	countsPerDeg := s.cpr[axis] / 360.0
	return int(s.tfreq[axis] / (countsPerDeg * degPerSec))
}

// stopAxis halts commanded motion and waits for the motor to report
// stopped; motion mode changes are rejected while the motor runs
func (s *SkyWatcher) stopAxis(axis int) error {
	if _, err := s.command('K', axis, ""); err != nil {
		return err
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		running, err := s.axisRunning(axis)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("axis %d did not stop within 3s", axis)
}

// axisRunning reads the status word and extracts the running bit
func (s *SkyWatcher) axisRunning(axis int) (bool, error) {
	resp, err := s.command('f', axis, "")
	if err != nil {
		return false, err
	}
	if len(resp) < 2 {
		return false, fmt.Errorf("short status reply %q", resp)
	}
	nib, err := strconv.ParseUint(string(resp[1]), 16, 8)
	if err != nil {
		return false, err
	}
	return nib&0x1 != 0, nil
}

// startRate begins tracking-mode motion on an axis at degPerSec with
// the given sign.  callers must hold the lock.
func (s *SkyWatcher) startRate(axis int, degPerSec float64, forward bool) error {
	dir := byte('0')
	if !forward {
		dir = '1'
	}
	if _, err := s.command('G', axis, string([]byte{'1', dir})); err != nil {
		return err
	}
	preset := s.stepPeriod(axis, degPerSec)
	if _, err := s.command('I', axis, encode24(preset)); err != nil {
		return err
	}
	_, err := s.command('J', axis, "")
	return err
}

// MoveAxis commands an axis rate in multiples of the solar tracking
// rate.  Rate 0 stops the axis and resumes tracking on the RA axis if
// a tracking rate is selected.
func (s *SkyWatcher) MoveAxis(axis int, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopAxis(axis); err != nil {
		return err
	}
	if rate == 0 {
		if axis == AxisRA && s.track != TrackingOff {
			return s.startRate(axis, trackingDegPerSec(s.track), true)
		}
		return nil
	}
	return s.startRate(axis, math.Abs(rate)*SolarRateDeg, rate > 0)
}

// Position reads both axis encoders
func (s *SkyWatcher) Position() (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [2]float64
	for axis := 0; axis < 2; axis++ {
		resp, err := s.command('j', axis, "")
		if err != nil {
			return Position{}, err
		}
		counts, err := decode24(resp)
		if err != nil {
			return Position{}, fmt.Errorf("bad position reply %q: %v", resp, err)
		}
		out[axis] = float64(counts-positionOffset) / s.cpr[axis] * 360.0
	}
	return Position{A: out[0], B: out[1]}, nil
}

// SlewTo moves both axes to a previously captured position and blocks
// until both stop
func (s *SkyWatcher) SlewTo(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := [2]float64{p.A, p.B}
	for axis := 0; axis < 2; axis++ {
		if err := s.stopAxis(axis); err != nil {
			return err
		}
		counts := int(targets[axis]/360.0*s.cpr[axis]) + positionOffset
		// motion mode 0 is goto; direction is resolved by the controller
		if _, err := s.command('G', axis, "00"); err != nil {
			return err
		}
		if _, err := s.command('S', axis, encode24(counts)); err != nil {
			return err
		}
		if _, err := s.command('J', axis, ""); err != nil {
			return err
		}
	}
	// wait for both gotos to finish
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		busy := false
		for axis := 0; axis < 2; axis++ {
			running, err := s.axisRunning(axis)
			if err != nil {
				return err
			}
			busy = busy || running
		}
		if !busy {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("goto did not complete within 2m")
}

// SelectedRate gets the position-slew rate multiplier
func (s *SkyWatcher) SelectedRate() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selRate, nil
}

// SetSelectedRate sets the position-slew rate multiplier
func (s *SkyWatcher) SetSelectedRate(r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selRate = r
	return nil
}

// SetTracking selects a tracking rate and starts the RA axis at it
func (s *SkyWatcher) SetTracking(t Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	if err := s.stopAxis(AxisRA); err != nil {
		return err
	}
	if t == TrackingOff {
		return nil
	}
	return s.startRate(AxisRA, trackingDegPerSec(t), true)
}

// trackingDegPerSec maps a tracking selection to its rate in deg/sec
func trackingDegPerSec(t Tracking) float64 {
	switch t {
	case TrackingSidereal:
		return 360.0 / 86164.1
	case TrackingLunar:
		return 360.0 / 89428.0
	default:
		return SolarRateDeg
	}
}
