package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"taxonfinder/ratelimit"
)

func TestTokenBucket_BurstAllowsImmediateAcquires(t *testing.T) {
	bucket := ratelimit.New(1, 3)
	start := time.Now()
	for i := 0; i < 3; i++ {
		bucket.Acquire()
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestTokenBucket_ThrottlesPastBurst(t *testing.T) {
	bucket := ratelimit.New(10, 1)
	bucket.Acquire()
	start := time.Now()
	bucket.Acquire()
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucket_ConcurrentSafe(t *testing.T) {
	bucket := ratelimit.New(50, 5)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bucket.Acquire()
		}()
	}
	wg.Wait()
}
