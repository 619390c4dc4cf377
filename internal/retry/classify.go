package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Outcome describes how a failed attempt ended. Exactly one of TimedOut,
// TransportErr or a non-2xx StatusCode is expected to be set.
type Outcome struct {
	TimedOut     bool
	TransportErr error
	StatusCode   int
	RetryAfter   string // raw Retry-After header, only meaningful for 429
}

// Classification is the classifier verdict for one outcome.
type Classification struct {
	Kind       ErrorKind
	RetryAfter int // seconds; set only for KindRateLimited
}

// Classify maps an outcome to an ErrorKind using the default cooldown.
func Classify(o Outcome) Classification {
	return DefaultConfig().Classify(o)
}

// Classify maps an outcome to an ErrorKind. It has no side effects; arming a
// cooldown from RetryAfter is up to the caller.
func (c Config) Classify(o Outcome) Classification {
	c = c.normalized()
	switch {
	case o.TimedOut:
		return Classification{Kind: KindTimeout}
	case o.TransportErr != nil:
		return Classification{Kind: KindNetworkUnreachable}
	}

	switch o.StatusCode {
	case http.StatusTooManyRequests:
		return Classification{
			Kind:       KindRateLimited,
			RetryAfter: ParseRetryAfter(o.RetryAfter, c.DefaultCooldown),
		}
	case http.StatusNotFound:
		return Classification{Kind: KindNotFound}
	case http.StatusInternalServerError:
		return Classification{Kind: KindServerError}
	default:
		return Classification{Kind: KindUnknown}
	}
}

// ParseRetryAfter reads a Retry-After header given in whole seconds. Missing,
// non-numeric and non-positive values yield def.
func ParseRetryAfter(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return secs
}

// IsCanceled reports whether err comes from the caller giving up rather than
// from the remote side. Canceled attempts are never classified.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}
