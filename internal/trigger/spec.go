package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind describes the normalized kind of a schedule expression.
type Kind int

const (
	// KindCron fires on a cron schedule (also used for normalized
	// "every day at", "at HH:MM" and weekday forms).
	KindCron Kind = iota
	// KindInterval fires every fixed duration.
	KindInterval
	// KindFileWatch fires on filesystem modification of a path.
	KindFileWatch
	// KindURLWatch fires when polled URL content changes.
	KindURLWatch
	// KindResource fires when CPU/memory/disk usage crosses a threshold.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindInterval:
		return "interval"
	case KindFileWatch:
		return "file"
	case KindURLWatch:
		return "url"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Spec is a parsed schedule expression.
//
// Human-readable forms are normalized into cron expressions or plain
// intervals so the cron engine evaluates every timer-driven schedule.
type Spec struct {
	Kind  Kind
	Cron  string        // KindCron: 5-field cron expression
	Every time.Duration // KindInterval
	Path  string        // KindFileWatch
	URL   string        // KindURLWatch
}

var (
	reHHMM    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reColonMM = regexp.MustCompile(`^:(\d{2})$`)
)

var weekdays = map[string]int{
	"sunday":    0,
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
}

// Parse normalizes a schedule expression.
//
// Supported forms:
//   - "every 5 minutes", "every hour", "every 2 weeks"
//   - "every day at 09:00", "every hour at :30", "every monday at 08:00"
//   - "at 14:30 daily", "at 09:00"
//   - "cron: 0 */6 * * *"
//   - "on_file_change: /path/to/watch"
//   - "on_url_change: https://example.com/api/status"
//   - "on_resource_threshold"
func Parse(raw string) (Spec, error) {
	expr := strings.ToLower(strings.TrimSpace(raw))
	if expr == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	switch {
	case strings.HasPrefix(expr, "cron:"):
		c := strings.TrimSpace(expr[len("cron:"):])
		if c == "" {
			return Spec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return Spec{Kind: KindCron, Cron: c}, nil

	case strings.HasPrefix(expr, "on_file_change"):
		rest := strings.TrimSpace(strings.TrimPrefix(expr, "on_file_change"))
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if rest == "" {
			return Spec{}, fmt.Errorf("watch path required (use 'on_file_change: /path')")
		}
		// Recover the original casing of the path.
		i := strings.Index(strings.ToLower(raw), rest)
		if i >= 0 {
			rest = strings.TrimSpace(raw[i : i+len(rest)])
		}
		return Spec{Kind: KindFileWatch, Path: rest}, nil

	case strings.HasPrefix(expr, "on_url_change"):
		rest := strings.TrimSpace(strings.TrimPrefix(expr, "on_url_change"))
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if rest == "" {
			return Spec{}, fmt.Errorf("url required (use 'on_url_change: https://...')")
		}
		i := strings.Index(strings.ToLower(raw), rest)
		if i >= 0 {
			rest = strings.TrimSpace(raw[i : i+len(rest)])
		}
		if !strings.HasPrefix(rest, "http://") && !strings.HasPrefix(rest, "https://") {
			return Spec{}, fmt.Errorf("invalid url %q", rest)
		}
		return Spec{Kind: KindURLWatch, URL: rest}, nil

	case expr == "on_resource_threshold":
		return Spec{Kind: KindResource}, nil

	case strings.HasPrefix(expr, "every"):
		return parseEvery(expr)

	case strings.HasPrefix(expr, "at"):
		return parseAt(expr)
	}

	return Spec{}, fmt.Errorf("unrecognized schedule %q", raw)
}

func parseEvery(expr string) (Spec, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(expr, "every"))
	if rest == "" {
		return Spec{}, fmt.Errorf("incomplete 'every' schedule")
	}

	// "every monday at 08:00" and friends.
	fields := strings.Fields(rest)
	if dow, ok := weekdays[fields[0]]; ok {
		hh, mm := 9, 0
		if at, ok := atClause(rest); ok {
			h, m, err := parseHHMM(at)
			if err != nil {
				return Spec{}, err
			}
			hh, mm = h, m
		}
		return Spec{Kind: KindCron, Cron: fmt.Sprintf("%d %d * * %d", mm, hh, dow)}, nil
	}

	// Optional count: "every 5 minutes" vs "every minute".
	n := 1
	unitIdx := 0
	if v, err := strconv.Atoi(fields[0]); err == nil {
		if v <= 0 {
			return Spec{}, fmt.Errorf("interval count must be > 0")
		}
		n = v
		unitIdx = 1
	}
	if unitIdx >= len(fields) {
		return Spec{}, fmt.Errorf("missing unit in %q", expr)
	}
	unit := strings.TrimSuffix(fields[unitIdx], "s")

	at, hasAt := atClause(rest)
	// An anchor pins the fire to a clock position, which cron cannot
	// express for a multi-unit stride.
	if hasAt && n > 1 {
		return Spec{}, fmt.Errorf("cannot anchor 'at %s' on an every-%d-%ss schedule", at, n, unit)
	}
	switch unit {
	case "minute":
		return Spec{Kind: KindInterval, Every: time.Duration(n) * time.Minute}, nil
	case "hour":
		if hasAt {
			// "every hour at :30" -> minute-of-hour anchor.
			m := reColonMM.FindStringSubmatch(at)
			if m == nil {
				return Spec{}, fmt.Errorf("invalid minute anchor %q (use ':MM')", at)
			}
			mm, _ := strconv.Atoi(m[1])
			if mm > 59 {
				return Spec{}, fmt.Errorf("invalid minute anchor %q", at)
			}
			return Spec{Kind: KindCron, Cron: fmt.Sprintf("%d * * * *", mm)}, nil
		}
		return Spec{Kind: KindInterval, Every: time.Duration(n) * time.Hour}, nil
	case "day":
		if hasAt {
			h, m, err := parseHHMM(at)
			if err != nil {
				return Spec{}, err
			}
			return Spec{Kind: KindCron, Cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
		}
		return Spec{Kind: KindInterval, Every: time.Duration(n) * 24 * time.Hour}, nil
	case "week":
		return Spec{Kind: KindInterval, Every: time.Duration(n) * 7 * 24 * time.Hour}, nil
	default:
		return Spec{}, fmt.Errorf("unknown unit %q in schedule", unit)
	}
}

func parseAt(expr string) (Spec, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(expr, "at"))
	rest = strings.TrimSpace(strings.TrimSuffix(rest, "daily"))
	h, m, err := parseHHMM(rest)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: KindCron, Cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
}

// atClause extracts the part after the last " at " keyword.
func atClause(s string) (string, bool) {
	i := strings.LastIndex(s, " at ")
	if i < 0 {
		return "", false
	}
	v := strings.TrimSpace(s[i+len(" at "):])
	return v, v != ""
}

func parseHHMM(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	if mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, mm, nil
}
