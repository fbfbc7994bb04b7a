package scan

import (
	"errors"
	"image"
	"log"
	"math"
	"sync"
	"time"

	"github.com/shglab/shgscan/camera"
	"github.com/shglab/shgscan/edge"
	"github.com/shglab/shgscan/mount"
	"github.com/shglab/shgscan/rec"
)

var (
	// ErrBusy is generated when an operation needs exclusive use of
	// the mount and camera but a run is active
	ErrBusy = errors.New("a scan is already running")

	// ErrROITooSmall is generated when the capture area cannot fit
	// the 100x100 limb detection region
	ErrROITooSmall = errors.New("capture ROI must be at least 100x100 pixels")

	// ErrMeasurementTimeout is generated when no frame arrives within
	// the measurement timeout
	ErrMeasurementTimeout = errors.New("timed out waiting for a frame")

	// ErrParamsInvalid is generated when a run is started before the
	// scan rate parameters have been computed
	ErrParamsInvalid = errors.New("scan parameters not computed, measure the sun first")
)

// Progress receives per-cycle completion updates during a run
type Progress interface {
	Cycle(done, total int)
}

type nopProgress struct{}

func (nopProgress) Cycle(int, int) {}

// Status is a snapshot of the session for display
type Status struct {
	Running       bool          `json:"running"`
	Cycle         int           `json:"cycle"`
	NumCycles     int           `json:"numCycles"`
	FrameRate     float64       `json:"frameRate"`
	Geometry      edge.Geometry `json:"geometry"`
	SlewFactor    float64       `json:"slewFactor"`
	CycleDuration float64       `json:"cycleDuration"`
}

// Session owns one spectroheliograph acquisition setup: a camera, a
// mount, and the scan parameters.  A run executes on a background
// goroutine; Abort and Bump are the only operations the command
// surface may issue while one is active, and both only set flags that
// the run polls.
type Session struct {
	Camera camera.Camera
	Mount  mount.Mount
	Store  *Store

	// Rec, when non-nil, organizes a folder and log per run
	Rec *rec.Recorder

	// Progress, when non-nil, receives per-cycle updates
	Progress Progress

	// LimbTimeout bounds each slew; exceeding it triggers the
	// reverse-slew recovery, not a failed run.  Default 30s.
	LimbTimeout time.Duration

	// MeasureTimeout bounds the wait for a frame during the one-shot
	// width measurement.  Default 10s.
	MeasureTimeout time.Duration

	// FrameInterval evaluates limb detection every Nth frame.  Default 10.
	FrameInterval int

	// Poll is the flag/detector polling cadence.  Default 10ms.
	Poll time.Duration

	// FastSlewRate is the rate multiplier selected for the abort
	// position restore.  Default 32.
	FastSlewRate float64

	mu          sync.Mutex
	running     bool
	abort       bool
	slewing     bool
	pendingBump float64
	saved       mount.Position
	savedOK     bool
	cycle       int

	frameRate float64
	geom      edge.Geometry
	params    RateParams
	paramsOK  bool
	roi       image.Rectangle
}

// New returns a Session with the default timing knobs
func New(cam camera.Camera, mnt mount.Mount, store *Store) *Session {
	return &Session{
		Camera:         cam,
		Mount:          mnt,
		Store:          store,
		LimbTimeout:    30 * time.Second,
		MeasureTimeout: 10 * time.Second,
		FrameInterval:  10,
		Poll:           10 * time.Millisecond,
		FastSlewRate:   32,
		geom:           edge.Geometry{Width: DefaultSunWidth}}
}

func (s *Session) progress() Progress {
	if s.Progress == nil {
		return nopProgress{}
	}
	return s.Progress
}

// Preflight brings the rig to a known state before any run: the mount
// is connected if it is not, and set to the solar tracking rate.
func (s *Session) Preflight() error {
	connected, err := s.Mount.Connected()
	if err != nil {
		return err
	}
	if !connected {
		if err := s.Mount.Connect(); err != nil {
			return err
		}
	}
	return s.Mount.SetTracking(mount.TrackingSolar)
}

// RefreshFrameRate reads the camera status, extracts the fps figure,
// and recomputes the scan rate parameters from it
func (s *Session) RefreshFrameRate() (float64, error) {
	status, err := s.Camera.Status()
	if err != nil {
		return 0, err
	}
	fps, err := camera.ParseFPS(status)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.frameRate = fps
	s.mu.Unlock()
	return fps, s.Recalc()
}

// Recalc rederives the slew rate parameters and the limb detection
// region from the current frame rate, sun width, and frame geometry.
// Until it succeeds a run cannot start.
func (s *Session) Recalc() error {
	f, err := s.Camera.Frame()
	if err != nil {
		return err
	}
	b := f.Bounds()
	if b.Dx() < 100 || b.Dy() < 100 {
		return ErrROITooSmall
	}
	roi := image.Rect(0, 0, 100, 100).Add(image.Pt(
		b.Min.X+b.Dx()/2-50, b.Min.Y+b.Dy()/2-50))

	cfg := s.Store.Snapshot()
	s.mu.Lock()
	fps := s.frameRate
	s.mu.Unlock()
	params, err := ComputeRateParams(fps, cfg.SunWidth, cfg.SlewPad)
	if err != nil {
		s.mu.Lock()
		s.paramsOK = false
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.roi = roi
	s.params = params
	s.paramsOK = true
	s.mu.Unlock()
	log.Printf("%.2f fps => %.2fx solar => est cycle duration %.2f sec",
		fps, math.Abs(params.SlewFactor), params.CycleDuration)
	return nil
}

// MeasureSun refreshes the frame rate, then measures the apparent sun
// width and decenter from the next frame.  The measured width feeds
// the parameter store and the rate parameters are recomputed.
func (s *Session) MeasureSun() (edge.Geometry, float64, error) {
	if s.Running() {
		return edge.Geometry{}, 0, ErrBusy
	}
	fps, err := s.RefreshFrameRate()
	if err != nil && err != ErrFrameRateTooSlow {
		return edge.Geometry{}, 0, err
	}

	frames := make(chan camera.Frame, 1)
	cancel := s.Camera.Subscribe(func(f camera.Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	defer cancel()

	var frame camera.Frame
	select {
	case frame = <-frames:
	case <-time.After(s.MeasureTimeout):
		return edge.Geometry{}, fps, ErrMeasurementTimeout
	}

	cfg := s.Store.Snapshot()
	geom, err := edge.MeasureWidth(frame, cfg.LimbThreshold)
	if err != nil {
		// prior width is retained on any measurement failure
		return edge.Geometry{}, fps, err
	}
	if err := s.Store.SetSunWidth(geom.Width); err != nil {
		return geom, fps, err
	}
	s.mu.Lock()
	s.geom = geom
	s.mu.Unlock()
	return geom, fps, s.Recalc()
}

// Running answers if an acquisition run is active
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Abort requests cooperative cancellation of the active run.  The run
// polls the flag at cycle granularity and inside each slew; recovery
// restores the saved start position.  Abort on an idle session is a
// no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.abort = true
	}
}

func (s *Session) aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abort
}

// Status returns a display snapshot of the session
func (s *Session) Status() Status {
	cfg := s.Store.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		Cycle:         s.cycle,
		NumCycles:     cfg.NumCycles,
		FrameRate:     s.frameRate,
		Geometry:      s.geom,
		SlewFactor:    s.params.SlewFactor,
		CycleDuration: s.params.CycleDuration}
}

// Start launches the acquisition run on a background goroutine.  It
// fails if a run is active or the rate parameters are not computed.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	if !s.paramsOK {
		s.mu.Unlock()
		return ErrParamsInvalid
	}
	s.running = true
	s.abort = false
	s.cycle = 0
	s.mu.Unlock()
	go s.run()
	return nil
}

func (s *Session) setSlewing(b bool) {
	s.mu.Lock()
	s.slewing = b
	s.mu.Unlock()
}

// takeBump consumes the pending bump request, returning 0 if none
func (s *Session) takeBump() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.pendingBump
	s.pendingBump = 0
	return b
}

func (s *Session) slewFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.SlewFactor
}

func (s *Session) roiRect() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi
}

// slewPastLimb moves the scan axis at rate until the limb crossing is
// detected, then pads the slew so the disk fully clears the slit, and
// stops (rate 0 resumes tracking).  If the crossing is not seen within
// LimbTimeout the mount is reversed for the elapsed time as a
// best-effort reposition and false returns.  An abort request returns
// false immediately; the caller runs recovery.  A pending bump nudge
// executes before returning.
func (s *Session) slewPastLimb(rate float64) bool {
	cfg := s.Store.Snapshot()
	s.setSlewing(true)
	defer s.setSlewing(false)

	det := edge.NewDetector(cfg.LimbThreshold, s.FrameInterval)
	roi := s.roiRect()
	cancel := s.Camera.Subscribe(func(f camera.Frame) {
		m, err := f.Mean(roi)
		if err != nil {
			// missed samples are tolerated, the Nth-frame gate
			// already provides slack
			log.Printf("limb sample failed: %v", err)
			return
		}
		det.Sample(m)
	})
	defer cancel()

	start := time.Now()
	if err := s.Mount.MoveAxis(cfg.AxisToMove, rate); err != nil {
		log.Printf("could not start slew: %v", err)
		return false
	}
	log.Printf("telescope moving at %.2fx solar speed...", rate)

	passed := false
	tick := time.NewTicker(s.Poll)
	defer tick.Stop()
	for {
		<-tick.C
		if s.aborted() {
			return false
		}
		if det.Passed() {
			passed = true
			break
		}
		if elapsed := time.Since(start); elapsed > s.LimbTimeout {
			log.Printf("limb passage not detected within %v - repositioning mount", s.LimbTimeout)
			s.moveAxis(cfg.AxisToMove, 0)
			s.moveAxis(cfg.AxisToMove, -rate)
			// the reverse leg still honors abort, keeping worst-case
			// abort latency to about one slew timeout
			reversed := time.Now()
			for time.Since(reversed) < elapsed {
				if s.aborted() {
					break
				}
				time.Sleep(s.Poll)
			}
			s.moveAxis(cfg.AxisToMove, 0)
			break
		}
	}

	if passed {
		padRate := math.Copysign(math.Abs(s.slewFactor()), rate)
		s.moveAxis(cfg.AxisToMove, padRate)
		time.Sleep(secsToDuration(cfg.SlewPad))
		s.moveAxis(cfg.AxisToMove, 0)
	}

	if b := s.takeBump(); b != 0 {
		s.execBump(b, cfg.AxisToMove)
	}
	return passed
}

// moveAxis is MoveAxis with the error downgraded to a log line; during
// a slew sequence a failed rate command is not actionable beyond the
// timeout and abort recovery already in place
func (s *Session) moveAxis(axis int, rate float64) {
	if err := s.Mount.MoveAxis(axis, rate); err != nil {
		log.Printf("mount rate command failed (axis %d, %.2fx): %v", axis, rate, err)
	}
}

// Bump nudges the non-scanning axis at the configured bump rate.
// direction is +1 or -1, fast doubles the rate, and the configured
// swap flag inverts the direction.  If a slew is in progress the nudge
// is deferred until it completes.
func (s *Session) Bump(direction int, fast bool) {
	cfg := s.Store.Snapshot()
	rate := float64(cfg.BumpRate * direction)
	if fast {
		rate *= 2
	}
	if cfg.BumpSwap {
		rate = -rate
	}
	s.mu.Lock()
	if s.slewing {
		s.pendingBump = rate
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.execBump(rate, cfg.AxisToMove)
}

// execBump runs a quarter-second nudge on the axis not being scanned
func (s *Session) execBump(rate float64, scanAxis int) {
	axis := mount.OtherAxis(scanAxis)
	s.moveAxis(axis, rate)
	time.Sleep(250 * time.Millisecond)
	s.moveAxis(axis, 0)
}

// run is the acquisition sequencer.  It executes on a background
// goroutine; the abort flag is checked after the pre-slew and at cycle
// granularity.
func (s *Session) run() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// save start coordinates for abort restore
	pos, err := s.Mount.Position()
	if err != nil {
		log.Printf("could not read mount position, run refused: %v", err)
		return
	}
	s.mu.Lock()
	s.saved = pos
	s.savedOK = true
	s.mu.Unlock()

	factor := s.slewFactor()

	// slew past the near limb to park at the scan start position
	s.slewPastLimb(-factor)
	if s.aborted() {
		s.recover()
		return
	}

	cfg := s.Store.Snapshot()
	if s.Rec != nil {
		if err := s.Rec.StartRun(cfg.NumCycles, factor); err != nil {
			log.Printf("run recorder unavailable: %v", err)
		}
		defer s.Rec.EndRun()
	}

	var lastForward time.Duration
	for cycle := 1; cycle <= cfg.NumCycles; cycle++ {
		s.mu.Lock()
		s.cycle = cycle
		s.mu.Unlock()
		log.Printf("cycle %d of %d", cycle, cfg.NumCycles)

		start := time.Now()
		s.startCapture()
		s.slewPastLimb(factor)
		s.stopCapture()
		lastForward = time.Since(start)
		if s.Rec != nil {
			s.Rec.LogCycle(cycle, lastForward)
		}
		if s.aborted() {
			s.recover()
			return
		}

		if cfg.Bidirectional {
			s.startCapture()
			log.Println("reverse capture started...")
			s.slewPastLimb(-factor)
			s.stopCapture()
		} else {
			log.Printf("returning telescope at %.2fx solar...", -8*factor)
			s.slewPastLimb(-8 * factor)
		}
		if s.aborted() {
			s.recover()
			return
		}

		log.Printf("sleep %.2f seconds", cfg.CycleSleep)
		time.Sleep(secsToDuration(cfg.CycleSleep))
		s.progress().Cycle(cycle, cfg.NumCycles)
	}
	log.Println("completed all cycles")

	// reposition roughly over the center of the disk: forward for half
	// the last forward capture duration
	s.moveAxis(cfg.AxisToMove, factor)
	time.Sleep(lastForward / 2)
	s.moveAxis(cfg.AxisToMove, 0)
}

func (s *Session) startCapture() {
	if err := s.Camera.PrepareCapture(); err != nil {
		log.Printf("prepare capture failed: %v", err)
	}
	if err := s.Camera.StartCapture(); err != nil {
		log.Printf("start capture failed: %v", err)
	}
	log.Println("capture started...")
}

func (s *Session) stopCapture() {
	if err := s.Camera.StopCapture(); err != nil {
		log.Printf("stop capture failed: %v", err)
	}
	log.Println("capture stopped.")
}

// recover is the abort path: stop any capture, stop the scan axis,
// restore the saved start position, and clear the transient state.
// Every step is best effort; recovery must not leave the system in a
// worse state than the abort found it.
func (s *Session) recover() {
	log.Println("aborting run, restoring start position")
	if err := s.Camera.StopCapture(); err != nil {
		log.Printf("stop capture during abort: %v", err)
	}
	cfg := s.Store.Snapshot()
	s.moveAxis(cfg.AxisToMove, 0)
	s.restorePosition()
	s.mu.Lock()
	s.slewing = false
	s.pendingBump = 0
	s.abort = false
	s.mu.Unlock()
}

// restorePosition slews back to the saved coordinates at the fast rate,
// then restores whatever rate was previously selected
func (s *Session) restorePosition() {
	s.mu.Lock()
	saved, ok := s.saved, s.savedOK
	s.mu.Unlock()
	if !ok {
		return
	}
	prev, err := s.Mount.SelectedRate()
	if err != nil {
		log.Printf("could not read selected rate: %v", err)
		prev = s.FastSlewRate
	}
	if err := s.Mount.SetSelectedRate(s.FastSlewRate); err != nil {
		log.Printf("could not select fast slew rate: %v", err)
	}
	if err := s.Mount.SlewTo(saved); err != nil {
		log.Printf("could not restore start position: %v", err)
	}
	if err := s.Mount.SetSelectedRate(prev); err != nil {
		log.Printf("could not restore selected rate: %v", err)
	}
}

func secsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
