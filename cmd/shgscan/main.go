package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	"goji.io"

	httpscan "github.com/shglab/shgscan/generichttp/scan"
	"github.com/shglab/shgscan/scan"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "shgscan.yml"
	k               = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:     ":8000",
		Settings: "SHG.cfg",
		Camera:   CameraSetup{FPS: 50, Width: 3840, Height: 1200, SunWidth: 2300},
		Mount:    MountSetup{Sim: true},
		Record:   RecordSetup{Root: "captures", Prefix: "scan"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `shgscan automates a spectroheliograph imaging session: it slews the mount
back and forth across the solar disk while the camera records, keeping the
slew rate matched to the camera's line-scan capture.

Usage:
	shgscan <command>

Commands:
	run     serve the HTTP control interface
	scan    run one acquisition from the terminal
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `shgscan is configured via its .yaml file, see mkconf for a starter.

Scan parameters (cycle count, slew pad, limb threshold, ...) live in a
separate key=value settings file shared with the SharpCap SHG script; its
path is the "settings" config key.

Start with the spectroheliograph positioned over the solar disk, measure
the solar width at its widest point, then start the acquisition.

The HTTP interface exposes:
	POST /scan/run/start, /scan/run/abort
	GET  /scan/run/status
	POST /scan/measure-sun
	POST /scan/bump/{left,left-fast,right,right-fast}
	GET  /scan/frame              (current frame as FITS)
	GET/POST /scan/settings/...   (individual scan parameters)`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("shgscan version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	sess, cam, err := buildSession(c)
	if err != nil {
		log.Fatal(err)
	}
	cam.Start()
	if err := sess.Preflight(); err != nil {
		log.Fatal(err)
	}
	if _, err := sess.RefreshFrameRate(); err != nil {
		log.Printf("scan parameters not ready: %v", err)
	}

	sub := goji.NewMux()
	httpscan.NewHTTPScan(sess).RT().Bind(sub)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/scan", http.StripPrefix("/scan", sub))

	log.Println("now listening for requests at", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, r))
}

// spinnerProgress feeds per-cycle updates to a terminal spinner
type spinnerProgress struct {
	spinner *yacspin.Spinner
}

func (p spinnerProgress) Cycle(done, total int) {
	p.spinner.Message(fmt.Sprintf("cycle %d of %d", done, total))
}

func doScan() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	sess, cam, err := buildSession(c)
	if err != nil {
		log.Fatal(err)
	}
	cam.Start()
	defer cam.Stop()
	if err := sess.Preflight(); err != nil {
		log.Fatal(err)
	}
	// let the first frames arrive before measuring
	time.Sleep(500 * time.Millisecond)
	geom, fps, err := sess.MeasureSun()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("sun is %d px wide, decenter %d px, %.2f fps", geom.Width, geom.Decenter, fps)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " acquiring",
		SuffixAutoColon: true,
		StopCharacter:   "done",
	})
	if err != nil {
		log.Fatal(err)
	}
	sess.Progress = spinnerProgress{spinner: spinner}

	if err := sess.Start(); err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	for sess.Running() {
		time.Sleep(250 * time.Millisecond)
	}
	spinner.Stop()

	if err := scan.SaveSettings(c.Settings, sess.Store.Snapshot()); err != nil {
		log.Printf("error writing settings file: %v", err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "run":
		run()
	case "scan":
		doScan()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "help":
		help()
	default:
		root()
	}
}
