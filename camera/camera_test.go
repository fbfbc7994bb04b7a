package camera

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func TestParseFPS(t *testing.T) {
	cases := []struct {
		status string
		fps    float64
		err    error
	}{
		{"Monitoring, 52.71 fps @ 3840x1200", 52.71, nil},
		{"Capturing, 9.90 fps @ 1920x1080", 9.90, nil},
		{"Still imaging", 0, ErrNoFPS},
		{"Monitoring fps", 0, ErrNoFPS},
		{"Monitoring, slow fps @ 640x480", 0, ErrNoFPS},
	}
	for _, c := range cases {
		fps, err := ParseFPS(c.status)
		if err != c.err {
			t.Errorf("%q: error %v, want %v", c.status, err, c.err)
		}
		if fps != c.fps {
			t.Errorf("%q: fps %v, want %v", c.status, fps, c.fps)
		}
	}
}

func TestSimFrameMean(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 10, 10))
	for x := 5; x < 10; x++ {
		for y := 0; y < 10; y++ {
			img.SetGray16(x, y, color.Gray16{Y: 1000})
		}
	}
	f := &simFrame{img: img}
	m, err := f.Mean(image.Rect(0, 0, 10, 10))
	if err != nil {
		t.Fatal(err)
	}
	if m != 500 {
		t.Errorf("mean %v, want 500", m)
	}
	// regions are clipped to the frame
	m, err = f.Mean(image.Rect(5, 0, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	if m != 1000 {
		t.Errorf("clipped mean %v, want 1000", m)
	}
	// a region fully outside the frame errors
	if _, err = f.Mean(image.Rect(50, 50, 60, 60)); err == nil {
		t.Error("expected error for disjoint region")
	}
}

func TestSimDeliversFrames(t *testing.T) {
	scene := SunScene(100, 100, 20, 0, 5000, func() float64 { return 0 })
	cam := NewSim(200, scene)
	got := make(chan Frame, 1)
	cancel := cam.Subscribe(func(f Frame) {
		select {
		case got <- f:
		default:
		}
	})
	defer cancel()
	cam.Start()
	defer cam.Stop()
	select {
	case f := <-got:
		if f.Bounds().Dx() != 100 {
			t.Errorf("frame width %d, want 100", f.Bounds().Dx())
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered within 1s")
	}
	if _, err := cam.Frame(); err != nil {
		t.Errorf("latest frame unavailable after delivery: %v", err)
	}
}

func TestSimCaptureAccounting(t *testing.T) {
	cam := NewSim(10, SunScene(10, 10, 2, 0, 100, func() float64 { return 0 }))
	if err := cam.PrepareCapture(); err != nil {
		t.Fatal(err)
	}
	if err := cam.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if !cam.Capturing() {
		t.Error("expected capturing after StartCapture")
	}
	if err := cam.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if cam.Capturing() {
		t.Error("still capturing after StopCapture")
	}
	if n := cam.Captures(); n != 1 {
		t.Errorf("captures %d, want 1", n)
	}
	// stopping an idle camera does not count a capture
	if err := cam.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if n := cam.Captures(); n != 1 {
		t.Errorf("captures %d after idle stop, want 1", n)
	}
}

func TestSunSceneBandPlacement(t *testing.T) {
	pos := 0.0
	scene := SunScene(400, 10, 100, 200, 30000, func() float64 { return pos })
	img := scene()
	if img.Gray16At(200, 5).Y != 30000 {
		t.Error("band center dark at zero position")
	}
	if img.Gray16At(100, 5).Y != 0 {
		t.Error("background bright outside band")
	}
	pos = 0.5 // 100 px at 200 px/deg
	img = scene()
	if img.Gray16At(300, 5).Y != 30000 {
		t.Error("band did not follow axis position")
	}
	if img.Gray16At(200, 5).Y != 0 {
		t.Error("old band position still bright")
	}
}
