package rate

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseWait(t *testing.T) {
	cases := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{header: "t=7;other=x", want: 7 * time.Second, ok: true},
		{header: "other=x;t=7", want: 7 * time.Second, ok: true},
		{header: `"perday";r=0;t=3600`, want: time.Hour, ok: true},
		{header: " r = 10 ; t = 3 ", want: 3 * time.Second, ok: true},
		{header: "t=0", want: 0, ok: true},
		{header: "other=x", ok: false},
		{header: "tt=5;at=9", ok: false},
		{header: "t=soon", ok: false},
		{header: "t=-4", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseWait(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.header)
		}
	}
}

func TestPolicyWaitFallsBack(t *testing.T) {
	policy := Policy{Fallback: 30 * time.Second}

	header := http.Header{}
	header.Set(HeaderRateLimit, "t=3")
	assert.Equal(t, 3*time.Second, policy.Wait(header))

	assert.Equal(t, 30*time.Second, policy.Wait(http.Header{}))
	assert.Equal(t, 30*time.Second, policy.Wait(nil))
}

func TestBudget(t *testing.T) {
	budget := NewBudget(2)
	assert.Equal(t, 2, budget.Max())
	assert.True(t, budget.ShouldRetry())

	budget.Spend()
	assert.Equal(t, 1, budget.Remaining())
	assert.True(t, budget.ShouldRetry())

	budget.Spend()
	assert.Equal(t, 0, budget.Remaining())
	assert.False(t, budget.ShouldRetry())

	budget.Spend()
	assert.Equal(t, 0, budget.Remaining())

	assert.False(t, NewBudget(0).ShouldRetry())
	assert.False(t, NewBudget(-3).ShouldRetry())
}
