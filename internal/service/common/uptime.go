package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// procUptimePath exposes seconds since boot on Linux.
const procUptimePath = "/proc/uptime"

// errMalformedUptime is returned when the uptime file cannot be parsed.
var errMalformedUptime = errors.New("malformed uptime data")

// Uptime returns how long the system has been up. The notifier compares it
// against the post-boot grace period before nagging about stale updates.
func Uptime() (time.Duration, error) {
	contents, err := os.ReadFile(procUptimePath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", procUptimePath, err)
	}

	return parseUptime(string(contents))
}

// parseUptime extracts the boot-relative seconds from /proc/uptime contents.
// The file holds two floats; the first is seconds since boot.
func parseUptime(contents string) (time.Duration, error) {
	fields := strings.Fields(contents)
	if len(fields) == 0 {
		return 0, errMalformedUptime
	}

	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("%q: %w", fields[0], errMalformedUptime)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
