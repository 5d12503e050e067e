package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var nowFunc = time.Now

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing, malformed or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if wait := at.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// FormatRetryAfter renders d as whole seconds for a Retry-After header,
// rounding up so clients never retry early.
func FormatRetryAfter(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	seconds := int64((d + time.Second - 1) / time.Second)
	return strconv.FormatInt(seconds, 10)
}
