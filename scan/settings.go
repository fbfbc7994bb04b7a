package scan

import (
	"fmt"
	"io/ioutil"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/shglab/shgscan/camera"
)

// settings files are the key=value format written by the SharpCap SHG
// scanning script, so an installation can move between the two without
// re-entering parameters.  Booleans are spelled True/False and the
// threshold is stored as a fraction of full scale, both for the same
// compatibility reason.

var settingLine = regexp.MustCompile(`([a-zA-Z]+)=([0-9.a-zA-Z]+)`)

// pyBool renders a bool the way the legacy settings files spell it
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// SaveSettings writes the configuration to path in the legacy key=value
// format, floats at two decimal places
func SaveSettings(path string, c Config) error {
	body := fmt.Sprintf(
		"NumCycles=%d\nSunWidth=%d\nCycleSleep=%.2f\nSlewPad=%.2f\nLimbThreshold=%.2f\nBidirectional=%s\nBumpSwap=%s\nBumpRate=%d\nAxisToMove=%d",
		c.NumCycles, c.SunWidth, c.CycleSleep, c.SlewPad,
		c.LimbThreshold/camera.MaxBright,
		pyBool(c.Bidirectional), pyBool(c.BumpSwap),
		c.BumpRate, c.AxisToMove)
	return ioutil.WriteFile(path, []byte(body), 0644)
}

// LoadSettings reads a settings file into a Config.  Lines that do not
// parse are skipped and reported in the warnings slice; the returned
// config keeps the default for any key that is missing or malformed.
// A missing file is not an error: the defaults are written to path and
// returned.
func LoadSettings(path string) (Config, []string, error) {
	c := DefaultConfig()
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil, SaveSettings(path, c)
		}
		return c, nil, err
	}

	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := settingLine.FindStringSubmatch(line)
		if m == nil {
			warn("ignored invalid settings line %q", line)
			continue
		}
		key, value := m[1], m[2]
		setInt := func(dst *int) {
			n, err := strconv.Atoi(value)
			if err != nil {
				warn("bad value for %s: %v", key, err)
				return
			}
			*dst = n
		}
		setFloat := func(dst *float64) {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				warn("bad value for %s: %v", key, err)
				return
			}
			*dst = f
		}
		switch key {
		case "NumCycles":
			setInt(&c.NumCycles)
		case "SunWidth":
			setInt(&c.SunWidth)
		case "CycleSleep":
			setFloat(&c.CycleSleep)
		case "SlewPad":
			setFloat(&c.SlewPad)
		case "LimbThreshold":
			frac := c.LimbThreshold / camera.MaxBright
			setFloat(&frac)
			c.LimbThreshold = frac * camera.MaxBright
		case "Bidirectional":
			c.Bidirectional = value == "True"
		case "BumpSwap":
			c.BumpSwap = value == "True"
		case "BumpRate":
			setInt(&c.BumpRate)
		case "AxisToMove":
			setInt(&c.AxisToMove)
		default:
			warn("unrecognized settings key %q", key)
		}
	}
	return c, warnings, nil
}
