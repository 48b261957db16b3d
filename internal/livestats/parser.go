package livestats

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// LogEntry is one structured log record fetched from the run source. Extra
// carries typed side-channel fields when the transport preserves them.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Extra     map[string]any
}

// Envelope is one parsed stats payload.
type Envelope map[string]any

var statsTypes = map[string]bool{
	"fuzzing_live_update": true,
	"scan_progress":       true,
	"analysis_update":     true,
	"live_stats":          true,
}

var (
	markerRe = regexp.MustCompile(`(?:FUZZ_STATS|LIVE_STATS)\s+(\{.*\})`)
	extraRe  = regexp.MustCompile(`extra=({.*?})`)
)

// ParseEnvelope probes a log entry for a stats envelope. The typed Extra
// field wins; otherwise the message text is probed for a marker-prefixed
// JSON object, then for a Python-literal extra= dict. Lines matching
// neither are not an error.
func ParseEnvelope(entry LogEntry) (Envelope, bool) {
	if entry.Extra != nil {
		if st, _ := entry.Extra["stats_type"].(string); statsTypes[st] {
			return Envelope(entry.Extra), true
		}
	}

	if strings.Contains(entry.Message, "FUZZ_STATS") || strings.Contains(entry.Message, "LIVE_STATS") {
		if m := markerRe.FindStringSubmatch(entry.Message); m != nil {
			var env Envelope
			if err := json.Unmarshal([]byte(m[1]), &env); err == nil {
				return env, true
			}
		}
	}

	if m := extraRe.FindStringSubmatch(entry.Message); m != nil {
		var env Envelope
		if err := json.Unmarshal([]byte(normalizePythonLiterals(m[1])), &env); err == nil {
			if st, _ := env["stats_type"].(string); statsTypes[st] {
				return env, true
			}
		}
	}

	return nil, false
}

// normalizePythonLiterals rewrites Python repr-style dict text into JSON.
func normalizePythonLiterals(s string) string {
	s = strings.ReplaceAll(s, "'", `"`)
	s = strings.ReplaceAll(s, "None", "null")
	s = strings.ReplaceAll(s, "True", "true")
	s = strings.ReplaceAll(s, "False", "false")
	return s
}

func (e Envelope) int64Field(key string) int64 {
	switch v := e[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func (e Envelope) intField(key string) int {
	return int(e.int64Field(key))
}

func (e Envelope) floatField(key string) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
