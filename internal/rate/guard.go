package rate

import (
	"net/http"
	"sync"
)

// Observer records rate-limit signals seen on responses for one provider.
type Observer struct {
	provider string

	mu         sync.Mutex
	lastStatus int
	remaining  int
	retryAfter int
}

func NewObserver(provider string) *Observer {
	return &Observer{provider: provider, remaining: -1, retryAfter: -1}
}

// WrapHTTP returns a copy of base whose transport records rate-limit
// headers. It never blocks or retries requests.
func WrapHTTP(obs *Observer, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, obs: obs}
	return &client
}

type roundTripper struct {
	base http.RoundTripper
	obs  *Observer
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.obs.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// RecordResponse updates the observed state and the exported gauges.
func (o *Observer) RecordResponse(status int, headers http.Header) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastStatus = status
	lastStatusGauge.WithLabelValues(o.provider).Set(float64(status))

	value := headers.Get(HeaderRateLimit)
	if value == "" {
		return
	}
	if remaining, ok := Field(value, "r"); ok {
		o.remaining = remaining
		remainingGauge.WithLabelValues(o.provider).Set(float64(remaining))
	}
	if wait, ok := ParseWait(value); ok {
		o.retryAfter = int(wait.Seconds())
		retryAfterGauge.WithLabelValues(o.provider).Set(wait.Seconds())
	}
}

// Snapshot returns the last status code, remaining quota and retry-after
// seconds. Unknown values are -1 (status 0).
func (o *Observer) Snapshot() (status, remaining, retryAfter int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStatus, o.remaining, o.retryAfter
}

