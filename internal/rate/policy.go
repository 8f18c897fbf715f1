package rate

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRateLimit carries the provider's rate-limit signal, e.g.
// `"perday";r=0;t=3600`.
const HeaderRateLimit = "RateLimit"

// ErrRetriesExhausted is returned once the retry budget is spent.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// Field returns the integer value of key in a `key=value;key=value` header.
func Field(value, key string) (int, bool) {
	for _, part := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.Trim(strings.TrimSpace(k), `"`) != key {
			continue
		}
		n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(v), `"`))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ParseWait extracts the `t=<seconds>` wait from a rate-limit header value.
func ParseWait(value string) (time.Duration, bool) {
	seconds, ok := Field(value, "t")
	if !ok || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// Policy decides how long to wait after a rate-limited response.
type Policy struct {
	// Fallback is used when the response carries no usable wait.
	Fallback time.Duration
}

// Wait returns the suggested wait from the response header or the fallback.
func (p Policy) Wait(header http.Header) time.Duration {
	if header != nil {
		if wait, ok := ParseWait(header.Get(HeaderRateLimit)); ok {
			return wait
		}
	}
	return p.Fallback
}

// Budget counts the rate-limit waits left. It is never replenished.
// Not safe for concurrent use; one poll loop owns it.
type Budget struct {
	max       int
	remaining int
}

func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{max: max, remaining: max}
}

func (b *Budget) Max() int {
	return b.max
}

func (b *Budget) Remaining() int {
	return b.remaining
}

// ShouldRetry reports whether another wait-and-retry is allowed.
func (b *Budget) ShouldRetry() bool {
	return b.remaining > 0
}

// Spend consumes one retry.
func (b *Budget) Spend() {
	if b.remaining > 0 {
		b.remaining--
	}
}
