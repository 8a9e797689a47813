package logsink

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/gosuda/taskrelay/internal/domain"
)

// Worker timestamps come from many runtimes; Python's isoformat() omits the zone.
var timestampLayouts = []string{ //nolint:gochecknoglobals // read-only table
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// wireRecord is the structured line a worker may print on stdout.
// Unknown fields are ignored; "type" is the legacy spelling of "kind".
type wireRecord struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Level     string          `json:"level"`
	Message   *string         `json:"message"`
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
}

// ParseStdout classifies one stdout line. A JSON object with a string
// "message" becomes a structured record; anything else is kept verbatim as info.
func ParseStdout(line string, now time.Time) domain.LogRecord {
	if rec, ok := parseStructured(line, now); ok {
		return rec
	}
	return domain.LogRecord{
		Timestamp: now,
		Level:     domain.LevelInfo,
		Message:   line,
	}
}

// ParseStderr classifies one stderr line. Stderr is never parsed.
func ParseStderr(line string, now time.Time) domain.LogRecord {
	return domain.LogRecord{
		Timestamp: now,
		Level:     domain.LevelError,
		Message:   line,
	}
}

func parseStructured(line string, now time.Time) (domain.LogRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.LogRecord{}, false
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil || w.Message == nil {
		return domain.LogRecord{}, false
	}

	kind := domain.Kind(strings.ToLower(w.Kind))
	if kind == domain.KindNone {
		kind = domain.Kind(strings.ToLower(w.Type))
	}
	if !kind.Terminal() {
		kind = domain.KindNone
	}

	return domain.LogRecord{
		Timestamp: parseTimestamp(w.Timestamp, now),
		Level:     normalizeLevel(w.Level),
		Message:   *w.Message,
		Kind:      kind,
	}, true
}

func normalizeLevel(raw string) domain.Level {
	level := domain.Level(strings.ToLower(strings.TrimSpace(raw)))
	if level == "warn" {
		return domain.LevelWarning
	}
	if !level.Valid() {
		return domain.LevelInfo
	}
	return level
}

// epochMillisAbove separates epoch milliseconds (Date.now()) from epoch
// seconds (time.time()); seconds stay below it until the year 33658.
const epochMillisAbove = 1e12

func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 {
		return now
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		if epoch <= 0 || math.IsInf(epoch, 0) {
			return now
		}
		if epoch > epochMillisAbove {
			epoch /= 1e3
		}
		sec, frac := math.Modf(epoch)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	}

	var s string
	if json.Unmarshal(raw, &s) != nil || s == "" {
		return now
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}
	return now
}
