package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 300 * time.Second},
		{6, 300 * time.Second},
		{10, 300 * time.Second},
		{100, 300 * time.Second},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, RetryDelay(tc.failures), "failures=%d", tc.failures)
	}
}
