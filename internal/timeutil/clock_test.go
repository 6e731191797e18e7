package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	_ Clock = RealClock{}
	_ Clock = (*MockClock)(nil)
)

func TestRealClock(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, RealClock{}.Since(before.Add(-time.Second)), time.Second)
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	assert.True(t, clock.Now().Equal(start))

	clock.Advance(2500 * time.Millisecond)
	assert.Equal(t, 2500*time.Millisecond, clock.Since(start))
	assert.True(t, clock.Now().Equal(start.Add(2500*time.Millisecond)))
}
