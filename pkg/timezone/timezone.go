// Package timezone picks the location absolute times are shown and typed in.
package timezone

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const zoneinfo = "zoneinfo/"

// Detect returns the IANA name of the system zone, "Local" when it can't
// be named.
func Detect() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		return tz
	}
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("powershell", "-Command", "(Get-TimeZone).Id").Output()
		if err != nil {
			log.Debug().Err(err).Msg("can't read windows timezone")
			return "Local"
		}
		return strings.TrimSpace(string(out))
	case "android":
		return "Local"
	}
	target, err := os.Readlink("/etc/localtime")
	if err != nil {
		return "Local"
	}
	if i := strings.LastIndex(target, zoneinfo); i >= 0 {
		return target[i+len(zoneinfo):]
	}
	return "Local"
}

// Load resolves a zone name. Empty means the detected system zone.
func Load(name string) (*time.Location, error) {
	if name == "" {
		name = Detect()
	}
	if name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load timezone %q", name)
	}
	return loc, nil
}

// LoadOrLocal is Load falling back to time.Local.
func LoadOrLocal(name string) *time.Location {
	loc, err := Load(name)
	if err != nil {
		log.Warn().Err(err).Msg("using local timezone")
		return time.Local
	}
	return loc
}

// Label names loc with its offset at t, e.g. "Europe/Berlin (UTC+01:00)".
func Label(loc *time.Location, t time.Time) string {
	_, offset := t.In(loc).Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s (UTC%c%02d:%02d)", loc, sign, offset/3600, offset%3600/60)
}
