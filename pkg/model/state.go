package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StateDirName returns the old-state directory name for t. A positive
// attempt appends a numeric suffix used to resolve collisions.
func StateDirName(t time.Time, attempt int) string {
	name := StateDirPrefix + t.Format(StateDirTimeLayout)
	if attempt > 0 {
		name += "-" + strconv.Itoa(attempt)
	}
	return name
}

// ParseStateDirName extracts the timestamp and collision suffix from an
// old-state directory name.
func ParseStateDirName(name string) (time.Time, int, error) {
	if !strings.HasPrefix(name, StateDirPrefix) {
		return time.Time{}, 0, fmt.Errorf("not a state directory: %q", name)
	}
	rest := strings.TrimPrefix(name, StateDirPrefix)
	if len(rest) < len(StateDirTimeLayout) {
		return time.Time{}, 0, fmt.Errorf("state directory name too short: %q", name)
	}
	ts, err := time.ParseInLocation(StateDirTimeLayout, rest[:len(StateDirTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse state directory time: %w", err)
	}
	suffix := rest[len(StateDirTimeLayout):]
	if suffix == "" {
		return ts, 0, nil
	}
	if suffix[0] != '-' {
		return time.Time{}, 0, fmt.Errorf("malformed state directory suffix: %q", name)
	}
	n, err := strconv.Atoi(suffix[1:])
	if err != nil || n <= 0 {
		return time.Time{}, 0, fmt.Errorf("malformed state directory suffix: %q", name)
	}
	return ts, n, nil
}
