package subproc

import (
	"regexp"
	"strconv"
	"strings"
)

// libFuzzer progress line, e.g.
// "#12345	NEW    cov: 123 ft: 456 corp: 10/234b exec/s: 617 rss: 26Mb"
var (
	progressRe = regexp.MustCompile(`^#(\d+)\s+.*cov:\s*(\d+).*corp:\s*(\d+)`)
	execRateRe = regexp.MustCompile(`exec/s:\s*(\d+)`)
)

// Progress is one parsed libFuzzer status line. Counter values are
// absolute, not deltas.
type Progress struct {
	Executions  int64
	Coverage    int
	CorpusSize  int
	ExecsPerSec float64
}

// ParseProgressLine extracts a Progress from a libFuzzer status line.
// Non-matching lines return ok=false and are ignored by callers.
func ParseProgressLine(line string) (Progress, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	execs, _ := strconv.ParseInt(m[1], 10, 64)
	cov, _ := strconv.Atoi(m[2])
	corp, _ := strconv.Atoi(m[3])
	p := Progress{
		Executions: execs,
		Coverage:   cov,
		CorpusSize: corp,
	}
	if rm := execRateRe.FindStringSubmatch(line); rm != nil {
		rate, _ := strconv.ParseFloat(rm[1], 64)
		p.ExecsPerSec = rate
	}
	return p, true
}

// IsCrashLine reports whether a libFuzzer output line announces a fault.
func IsCrashLine(line string) bool {
	return strings.Contains(line, "SUMMARY:") || strings.Contains(line, "ERROR:")
}
