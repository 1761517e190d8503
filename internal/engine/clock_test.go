package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Current())
	assert.Equal(t, int64(41), NewClockAt(41).Current())
}

func TestClock_NextIsMonotonic(t *testing.T) {
	c := NewClockAt(10)
	prev := c.Current()
	for range 100 {
		n := c.Next()
		assert.Greater(t, n, prev)
		prev = n
	}
	assert.Equal(t, int64(110), c.Current())
}

func TestClock_SharedAcrossGoroutines(t *testing.T) {
	c := NewClock()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				n := c.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000, "timetags must never repeat")
}
