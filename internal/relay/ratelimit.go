package relay

import "time"

// frameLimiter counts malformed frames in a sliding window. It is owned
// by a single connection handler goroutine and needs no locking; it is
// created with the connection and discarded with it.
type frameLimiter struct {
	limit  int
	window time.Duration
	hits   []time.Time
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	return &frameLimiter{limit: limit, window: window}
}

// strike records one bad frame at the given time and reports whether the
// limit has been exceeded within the window.
func (l *frameLimiter) strike(now time.Time) bool {
	cutoff := now.Add(-l.window)
	kept := l.hits[:0]
	for _, t := range l.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.hits = append(kept, now)
	return len(l.hits) > l.limit
}
