// Package rec organizes scan runs on disk: each run gets its own
// folder under a yyyy-mm-dd date folder, with a log of the cycles that
// ran.  The capture software writes the video files; this keeps the
// session provenance next to them.
package rec

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Recorder creates run folders with incrementing names in dated
// subfolders and logs cycle timings into them
type Recorder struct {
	// Root is the root path for all runs
	Root string

	// Prefix is the prefix for run folder names
	Prefix string

	mu      sync.Mutex
	counter int
	runFldr string
	f       *os.File
}

// dateFolder returns the yyyy-mm-dd folder for the current time
func (r *Recorder) dateFolder() string {
	now := time.Now()
	return path.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day()))
}

// incr scans the date folder for existing runs and sets the counter
// one past the highest.  callers must hold the lock.
func (r *Recorder) incr(fldr string) {
	entries, err := ioutil.ReadDir(fldr)
	if err != nil {
		return
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), r.Prefix))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// StartRun creates the folder for a new run and opens its log
func (r *Recorder) StartRun(numCycles int, slewFactor float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fldr := r.dateFolder()
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return err
	}
	r.incr(fldr)
	r.runFldr = path.Join(fldr, fmt.Sprintf("%s%03d", r.Prefix, r.counter))
	if err := os.MkdirAll(r.runFldr, 0777); err != nil {
		return err
	}
	f, err := os.Create(path.Join(r.runFldr, "scan.log"))
	if err != nil {
		return err
	}
	r.f = f
	fmt.Fprintf(f, "started %s  cycles=%d  slewFactor=%.2f\n",
		time.Now().Format(time.RFC3339), numCycles, slewFactor)
	return nil
}

// Folder returns the folder of the active run, empty if none
func (r *Recorder) Folder() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runFldr
}

// LogCycle records the measured duration of one forward capture
func (r *Recorder) LogCycle(cycle int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return
	}
	if _, err := fmt.Fprintf(r.f, "cycle %d  %.2fs\n", cycle, d.Seconds()); err != nil {
		log.Printf("could not log cycle: %v", err)
	}
}

// EndRun closes out the active run's log
func (r *Recorder) EndRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return
	}
	fmt.Fprintf(r.f, "ended %s\n", time.Now().Format(time.RFC3339))
	r.f.Close()
	r.f = nil
	r.runFldr = ""
}
