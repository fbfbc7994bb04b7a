package main

import (
	"log"

	"github.com/shglab/shgscan/camera"
	"github.com/shglab/shgscan/mount"
	"github.com/shglab/shgscan/rec"
	"github.com/shglab/shgscan/scan"
)

// CameraSetup configures the camera.  Only the built-in simulator is
// wired today.
// TODO: adapter for SharpCap's HTTP camera bridge.
type CameraSetup struct {
	// FPS is the simulated frame rate
	FPS float64 `koanf:"fps"`

	// Width and Height are the simulated sensor size in pixels
	Width  int `koanf:"width"`
	Height int `koanf:"height"`

	// SunWidth is the simulated solar disk width in pixels
	SunWidth int `koanf:"sunWidth"`
}

// MountSetup configures the mount link
type MountSetup struct {
	// Sim uses the built-in mount simulator instead of real hardware
	Sim bool `koanf:"sim"`

	// Addr is the controller's network address (host:port) or serial
	// device path
	Addr string `koanf:"addr"`

	// Serial selects a serial transport (EQDIR cable) over TCP
	Serial bool `koanf:"serial"`
}

// RecordSetup configures the per-run folder recorder
type RecordSetup struct {
	Enabled bool   `koanf:"enabled"`
	Root    string `koanf:"root"`
	Prefix  string `koanf:"prefix"`
}

// Config is the service configuration, populated by koanf
type Config struct {
	// Addr is where the HTTP interface listens
	Addr string `koanf:"addr"`

	// Settings is the path of the scan parameter file (SHG.cfg format)
	Settings string `koanf:"settings"`

	Camera CameraSetup `koanf:"camera"`
	Mount  MountSetup  `koanf:"mount"`
	Record RecordSetup `koanf:"record"`
}

// buildSession assembles the camera, mount, parameter store, and
// session from the configuration
func buildSession(c Config) (*scan.Session, *camera.Sim, error) {
	cfg, warnings, err := scan.LoadSettings(c.Settings)
	if err != nil {
		// cfg still carries the defaults; a bad settings file should
		// not keep the service from coming up
		log.Printf("error reading settings file: %v", err)
	}
	for _, w := range warnings {
		log.Println(w)
	}
	store := scan.NewStoreWith(cfg)

	var mnt mount.Mount
	var pos func() float64
	if c.Mount.Sim {
		sim := mount.NewSim()
		axis := cfg.AxisToMove
		pos = func() float64 {
			p, _ := sim.Position()
			if axis == mount.AxisRA {
				return p.A
			}
			return p.B
		}
		mnt = sim
	} else {
		mnt = mount.NewSkyWatcher(c.Mount.Addr, c.Mount.Serial)
		pos = func() float64 { return 0 }
	}

	// the simulated scene keeps the sun centered for a real mount and
	// follows the scan axis for a simulated one
	pxPerDeg := float64(c.Camera.SunWidth) / 0.53 // disk is ~0.53 deg across
	scene := camera.SunScene(c.Camera.Width, c.Camera.Height, c.Camera.SunWidth,
		pxPerDeg, uint16(0.8*camera.MaxBright), pos)
	cam := camera.NewSim(c.Camera.FPS, scene)

	sess := scan.New(cam, mnt, store)
	if c.Record.Enabled {
		sess.Rec = &rec.Recorder{Root: c.Record.Root, Prefix: c.Record.Prefix}
	}
	return sess, cam, nil
}
