package helpers

import (
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"golang.org/x/mod/semver"
)

// TimeTrack tracks execution time of each function.
func TimeTrack(start time.Time, name string, logger log.Logger, args ...interface{}) {
	elapsed := time.Since(start)
	args = append(args, "duration", elapsed.String())
	logger.Debug(name, args...)
}

// SemverCompare compares two version strings, tolerating a "+" post-release
// or "-" pre-release suffix on either side before falling back to the
// upstream semver package. Used to compare a Chromium build's reported
// Browser.getVersion protocolVersion against a minimum supported version.
func SemverCompare(a, b string) int {
	switch {
	case strings.HasPrefix(a, b+"+"):
		return 1
	case strings.HasPrefix(b, a+"+"):
		return -1
	case strings.HasPrefix(a, b+"-"):
		return -1
	case strings.HasPrefix(b, a+"-"):
		return 1
	}

	return semver.Compare(a, b)
}
