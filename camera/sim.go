package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/time/rate"
)

// SceneFunc produces the sensor image for the next simulated frame.
// It is called once per frame on the delivery goroutine.
type SceneFunc func() *image.Gray16

// Sim is a simulated camera.  It delivers frames from a SceneFunc at a
// fixed frame rate and implements the full Camera interface.  It is
// used by the scan tests and by the service's simulation mode.
type Sim struct {
	mu sync.Mutex

	fps   float64
	scene SceneFunc

	latest *image.Gray16
	subs   map[int]func(Frame)
	nextID int

	prepared  bool
	capturing bool
	captures  int // completed start/stop pairs

	done chan struct{}
}

// NewSim returns a Sim delivering scene frames at fps.  Call Start to
// begin frame delivery and Stop to end it.
func NewSim(fps float64, scene SceneFunc) *Sim {
	return &Sim{
		fps:   fps,
		scene: scene,
		subs:  make(map[int]func(Frame))}
}

// Start launches the frame delivery loop
func (s *Sim) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.done = make(chan struct{})
	go s.deliver(s.done)
}

// Stop ends frame delivery.  The camera may be restarted.
func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return
	}
	close(s.done)
	s.done = nil
}

// deliver paces frame generation at the configured rate and fans each
// frame out to the subscribers, synchronously, matching how real
// capture libraries block frame delivery on the handlers.
func (s *Sim) deliver(done chan struct{}) {
	limiter := rate.NewLimiter(rate.Limit(s.fps), 1)
	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		img := s.scene()
		f := &simFrame{img: img}
		s.mu.Lock()
		s.latest = img
		handlers := make([]func(Frame), 0, len(s.subs))
		for _, h := range s.subs {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()
		for _, h := range handlers {
			h(f)
		}
	}
}

// Frame returns the most recently delivered frame
func (s *Sim) Frame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	return &simFrame{img: s.latest}, nil
}

// Subscribe registers a per-frame handler and returns its cancel function
func (s *Sim) Subscribe(h func(Frame)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// PrepareCapture readies the (simulated) capture pipeline
func (s *Sim) PrepareCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = true
	return nil
}

// StartCapture begins a capture
func (s *Sim) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = true
	return nil
}

// StopCapture ends a capture.  Stopping an idle camera is a no-op, as
// it is during abort recovery on real cameras.
func (s *Sim) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		s.captures++
	}
	s.capturing = false
	return nil
}

// Capturing answers if a capture is running
func (s *Sim) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Captures returns the number of completed captures
func (s *Sim) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// Status returns a status line in the same shape real capture software
// displays, with the fps figure embedded
func (s *Sim) Status() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := 0, 0
	if s.latest != nil {
		b := s.latest.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	return fmt.Sprintf("Monitoring, %.2f fps @ %dx%d", s.fps, w, h), nil
}

// simFrame adapts an image.Gray16 to the Frame interface
type simFrame struct {
	img *image.Gray16
}

func (f *simFrame) Bounds() image.Rectangle {
	return f.img.Bounds()
}

// Mean computes the mean brightness over r, clipped to the frame bounds
func (f *simFrame) Mean(r image.Rectangle) (float64, error) {
	r = r.Intersect(f.img.Bounds())
	if r.Empty() {
		return 0, fmt.Errorf("region %v does not intersect frame %v", r, f.img.Bounds())
	}
	var sum float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += float64(f.img.Gray16At(x, y).Y)
		}
	}
	return sum / float64(r.Dx()*r.Dy()), nil
}

func (f *simFrame) Gray16() *image.Gray16 {
	return f.img
}
