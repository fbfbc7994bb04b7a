// Package scan provides the HTTP command surface for a scan session:
// run start/abort, bump nudges, sun measurement, parameter get/set,
// and a FITS export of the current frame.
package scan

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"

	"github.com/shglab/shgscan/camera"
	"github.com/shglab/shgscan/generichttp"
	scanner "github.com/shglab/shgscan/scan"
	"github.com/shglab/shgscan/server"

	"goji.io/pat"
)

// HTTPScan wraps a scan session in an HTTP interface
type HTTPScan struct {
	// Sess is the wrapped session
	Sess *scanner.Session

	// RouteTable maps the endpoints to their handlers
	RouteTable server.RouteTable
}

// NewHTTPScan returns an HTTP wrapper around a session with the route
// table pre-configured
func NewHTTPScan(s *scanner.Session) HTTPScan {
	w := HTTPScan{Sess: s}
	store := s.Store
	rt := server.RouteTable{
		pat.Post("/run/start"):       w.Start,
		pat.Post("/run/abort"):       w.Abort,
		pat.Get("/run/status"):       w.Status,
		pat.Post("/measure-sun"):     w.MeasureSun,
		pat.Post("/bump/:direction"): w.Bump,
		pat.Get("/frame"):            w.Frame,
		pat.Get("/frame-rate"):       generichttp.GetFloat(s.RefreshFrameRate),

		pat.Get("/settings"): w.Settings,

		pat.Get("/settings/num-cycles"): generichttp.GetInt(func() (int, error) {
			return store.Snapshot().NumCycles, nil
		}),
		pat.Post("/settings/num-cycles"): generichttp.SetInt(store.SetNumCycles),

		pat.Get("/settings/sun-width"): generichttp.GetInt(func() (int, error) {
			return store.Snapshot().SunWidth, nil
		}),
		pat.Post("/settings/sun-width"): generichttp.SetInt(store.SetSunWidth),

		pat.Get("/settings/slew-pad"): generichttp.GetFloat(func() (float64, error) {
			return store.Snapshot().SlewPad, nil
		}),
		pat.Post("/settings/slew-pad"): generichttp.SetFloat(store.SetSlewPad),

		pat.Get("/settings/cycle-sleep"): generichttp.GetFloat(func() (float64, error) {
			return store.Snapshot().CycleSleep, nil
		}),
		pat.Post("/settings/cycle-sleep"): generichttp.SetFloat(store.SetCycleSleep),

		pat.Get("/settings/bump-rate"): generichttp.GetInt(func() (int, error) {
			return store.Snapshot().BumpRate, nil
		}),
		pat.Post("/settings/bump-rate"): generichttp.SetInt(store.SetBumpRate),

		pat.Get("/settings/bump-swap"): generichttp.GetBool(func() (bool, error) {
			return store.Snapshot().BumpSwap, nil
		}),
		pat.Post("/settings/bump-swap"): generichttp.SetBool(store.SetBumpSwap),

		pat.Get("/settings/axis-to-move"): generichttp.GetInt(func() (int, error) {
			return store.Snapshot().AxisToMove, nil
		}),
		pat.Post("/settings/axis-to-move"): generichttp.SetInt(store.SetAxisToMove),

		pat.Get("/settings/bidirectional"): generichttp.GetBool(func() (bool, error) {
			return store.Snapshot().Bidirectional, nil
		}),
		pat.Post("/settings/bidirectional"): generichttp.SetBool(store.SetBidirectional),

		pat.Get("/settings/limb-threshold"): generichttp.GetFloat(func() (float64, error) {
			return store.Snapshot().LimbThreshold, nil
		}),
		pat.Post("/settings/limb-threshold"): generichttp.SetFloat(store.SetLimbThreshold),
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPScan) RT() server.RouteTable {
	return h.RouteTable
}

// Start launches an acquisition run
func (h HTTPScan) Start(w http.ResponseWriter, r *http.Request) {
	err := h.Sess.Start()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Abort requests cancellation of the active run
func (h HTTPScan) Abort(w http.ResponseWriter, r *http.Request) {
	h.Sess.Abort()
	w.WriteHeader(http.StatusOK)
}

// Status returns the session status snapshot as JSON
func (h HTTPScan) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(h.Sess.Status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Settings returns the whole configuration as JSON
func (h HTTPScan) Settings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(h.Sess.Store.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type measureResponse struct {
	Width     int     `json:"width"`
	Decenter  int     `json:"decenter"`
	FrameRate float64 `json:"frameRate"`
}

// MeasureSun runs the one-shot width measurement and returns the result
func (h HTTPScan) MeasureSun(w http.ResponseWriter, r *http.Request) {
	geom, fps, err := h.Sess.MeasureSun()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(measureResponse{
		Width:     geom.Width,
		Decenter:  geom.Decenter,
		FrameRate: fps})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Bump nudges the non-scanning axis; the direction URL parameter is
// one of left, left-fast, right, right-fast
func (h HTTPScan) Bump(w http.ResponseWriter, r *http.Request) {
	switch pat.Param(r, "direction") {
	case "left":
		h.Sess.Bump(-1, false)
	case "left-fast":
		h.Sess.Bump(-1, true)
	case "right":
		h.Sess.Bump(+1, false)
	case "right-fast":
		h.Sess.Bump(+1, true)
	default:
		http.Error(w, "direction must be left, left-fast, right, or right-fast", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Frame returns the camera's current frame as a FITS file
func (h HTTPScan) Frame(w http.ResponseWriter, r *http.Request) {
	f, err := h.Sess.Camera.Frame()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	g, ok := f.(camera.Gray16er)
	if !ok {
		http.Error(w, "camera frames do not expose pixel data", http.StatusNotImplemented)
		return
	}
	// encode before committing the status so a FITS error can still
	// produce an error response
	buf := &bytes.Buffer{}
	if err := WriteFits(buf, g.Gray16()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=frame.fits")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("error streaming fits frame: %v", err)
	}
}
