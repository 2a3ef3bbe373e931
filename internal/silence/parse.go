package silence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxDuration caps timed silences. Anything longer should be indefinite and
// tracked by the notifier instead of a far-future scheduled task.
const MaxDuration = 15 * time.Minute

// ParseHushDuration parses a silence duration argument: a whole number of
// minutes (at most 15), or "forever" for an indefinite silence.
func ParseHushDuration(arg string) (d time.Duration, indefinite bool, err error) {
	s := strings.ToLower(strings.TrimSpace(arg))
	if s == "forever" {
		return 0, true, nil
	}
	s = strings.TrimSuffix(s, "m")
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, false, fmt.Errorf("%q is not a number of minutes or \"forever\"", arg)
	}
	if n <= 0 {
		return 0, false, fmt.Errorf("duration must be at least 1 minute")
	}
	d = time.Duration(n) * time.Minute
	if d > MaxDuration {
		return 0, false, fmt.Errorf("duration must be at most %d minutes", int(MaxDuration.Minutes()))
	}
	return d, false, nil
}
