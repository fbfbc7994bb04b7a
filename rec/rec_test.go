package rec

import (
	"io/ioutil"
	"os"
	"path"
	"strings"
	"testing"
	"time"
)

func TestRunFoldersIncrement(t *testing.T) {
	root, err := ioutil.TempDir("", "shgscan")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	r := &Recorder{Root: root, Prefix: "scan"}
	if err := r.StartRun(2, -1.5); err != nil {
		t.Fatal(err)
	}
	first := r.Folder()
	if !strings.HasSuffix(first, "scan001") {
		t.Errorf("first run folder %q, want suffix scan001", first)
	}
	r.LogCycle(1, 1500*time.Millisecond)
	r.EndRun()
	if r.Folder() != "" {
		t.Error("folder not cleared after EndRun")
	}

	raw, err := ioutil.ReadFile(path.Join(first, "scan.log"))
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	for _, want := range []string{"cycles=2", "slewFactor=-1.50", "cycle 1  1.50s", "ended"} {
		if !strings.Contains(body, want) {
			t.Errorf("scan.log missing %q:\n%s", want, body)
		}
	}

	// the next run in the same date folder takes the next number
	if err := r.StartRun(1, -2); err != nil {
		t.Fatal(err)
	}
	defer r.EndRun()
	if !strings.HasSuffix(r.Folder(), "scan002") {
		t.Errorf("second run folder %q, want suffix scan002", r.Folder())
	}
}

func TestLogCycleWithoutRun(t *testing.T) {
	r := &Recorder{Root: "unused", Prefix: "scan"}
	// must not panic or create anything
	r.LogCycle(1, time.Second)
	r.EndRun()
	if _, err := os.Stat("unused"); !os.IsNotExist(err) {
		t.Error("idle recorder touched the filesystem")
	}
}
