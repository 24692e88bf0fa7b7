package analytic

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// window is the [open, close) interval of a request. Without parameters it
// is the current UTC day up to now.
type window struct {
	now   func() time.Time
	open  time.Time
	close time.Time
}

func (w *window) reset() {
	now := w.now().UTC()
	w.open = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	w.close = now
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q", ErrParams, s)
}

// ParseParams accepts open and close as unix seconds or RFC 3339.
func (w *window) ParseParams(query string) error {
	values, err := url.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParams, err)
	}
	for key, vs := range values {
		var dst *time.Time
		switch key {
		case "open":
			dst = &w.open
		case "close":
			dst = &w.close
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrParams, key)
		}
		if len(vs) != 1 {
			return fmt.Errorf("%w: %s given %d times", ErrParams, key, len(vs))
		}
		t, err := parseTime(vs[0])
		if err != nil {
			return err
		}
		*dst = t
	}
	if w.open.After(w.close) {
		return fmt.Errorf("%w: open %s after close %s", ErrParams, w.open, w.close)
	}
	return nil
}
