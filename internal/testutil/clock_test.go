package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock()

	var fired []string
	c.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "late") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "early") })

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, fired)
}

func TestManualClock_StopPreventsFiring(t *testing.T) {
	c := NewManualClock()

	fired := false
	timer := c.AfterFunc(10*time.Millisecond, func() { fired = true })
	assert.True(t, timer.Stop())

	c.Advance(time.Second)
	assert.False(t, fired)
	assert.False(t, timer.Stop(), "second stop reports already stopped")
}

func TestManualClock_PartialAdvance(t *testing.T) {
	c := NewManualClock()

	fired := false
	c.AfterFunc(100*time.Millisecond, func() { fired = true })

	c.Advance(60 * time.Millisecond)
	assert.False(t, fired)

	c.Advance(40 * time.Millisecond)
	assert.True(t, fired)
}

func TestManualClock_CallbackMaySchedule(t *testing.T) {
	c := NewManualClock()

	var chained bool
	c.AfterFunc(10*time.Millisecond, func() {
		c.AfterFunc(10*time.Millisecond, func() { chained = true })
	})

	c.Advance(20 * time.Millisecond)
	assert.True(t, chained, "timer scheduled by a callback fires in the same Advance when due")
}
