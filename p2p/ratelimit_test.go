package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	tb := newTokenBucket(1, 3)
	now := time.Now()

	assert.True(t, tb.Allow(now))
	assert.True(t, tb.Allow(now))
	assert.True(t, tb.Allow(now))
	assert.False(t, tb.Allow(now))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := newTokenBucket(1, 1)
	now := time.Now()

	assert.True(t, tb.Allow(now))
	assert.False(t, tb.Allow(now))
	assert.True(t, tb.Allow(now.Add(time.Second)))
}
