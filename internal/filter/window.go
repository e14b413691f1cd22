package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// window is a parsed TIME_BASED pattern. Times are minutes after midnight;
// -1 means the bound is absent.
type window struct {
	days  map[int]bool // ISO weekday, Monday=1..Sunday=7; empty means any day
	start int
	end   int
}

// parseWindow accepts "days=1,2,3;start=HH:mm;end=HH:mm" (each part
// optional, any order) and the bare "HH:mm-HH:mm" form.
func parseWindow(pattern string) (window, error) {
	w := window{start: -1, end: -1}
	for _, part := range strings.Split(pattern, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			from, to, ok := strings.Cut(part, "-")
			if !ok {
				return window{}, fmt.Errorf("time pattern part %q", part)
			}
			var err error
			if w.start, err = parseClock(from); err != nil {
				return window{}, err
			}
			if w.end, err = parseClock(to); err != nil {
				return window{}, err
			}
			continue
		}

		var err error
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "days":
			w.days, err = parseDays(val)
		case "start":
			w.start, err = parseClock(val)
		case "end":
			w.end, err = parseClock(val)
		default:
			err = fmt.Errorf("unknown time pattern key %q", key)
		}
		if err != nil {
			return window{}, err
		}
	}
	return w, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseDays(s string) (map[int]bool, error) {
	days := map[int]bool{}
	for _, d := range strings.Split(s, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 7 {
			return nil, fmt.Errorf("weekday %q: want 1..7", d)
		}
		days[n] = true
	}
	return days, nil
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

func (w window) contains(t time.Time) bool {
	if len(w.days) > 0 && !w.days[isoWeekday(t)] {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	switch {
	case w.start >= 0 && w.end >= 0:
		if w.start <= w.end {
			return now >= w.start && now < w.end
		}
		// wraps midnight
		return now >= w.start || now <= w.end
	case w.start >= 0:
		return now >= w.start
	case w.end >= 0:
		return now < w.end
	default:
		return true
	}
}
