package launcher

import (
	"fmt"
	"strconv"
	"strings"
)

// cpuPeriod is Docker's default CFS period in microseconds.
const cpuPeriod = 100000

// parseMemoryLimit converts "512m", "2g", "1024k" or a bare byte count.
func parseMemoryLimit(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	multiplier := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k':
			multiplier = 1 << 10
		case 'm':
			multiplier = 1 << 20
		case 'g':
			multiplier = 1 << 30
		}
		if multiplier != 1 {
			s = s[:n-1]
		}
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("launcher.parseMemoryLimit(%q): %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("launcher.parseMemoryLimit(%q): negative limit", s)
	}
	return val * multiplier, nil
}

// parseCPULimit converts a CPU count such as "2" or "0.5" to a CFS quota.
func parseCPULimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("launcher.parseCPULimit(%q): %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("launcher.parseCPULimit(%q): negative limit", s)
	}
	return int64(val * cpuPeriod), nil
}
