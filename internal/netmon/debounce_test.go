package netmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, d.Trigger(t0), "first trigger runs immediately")
	assert.False(t, d.Trigger(t0.Add(100*time.Millisecond)))
	assert.False(t, d.Trigger(t0.Add(200*time.Millisecond)))
	assert.True(t, d.Pending())

	assert.False(t, d.Flush(t0.Add(500*time.Millisecond)), "still inside the interval")
	assert.True(t, d.Flush(t0.Add(time.Second)))
	assert.False(t, d.Pending())
	assert.False(t, d.Flush(t0.Add(3*time.Second)), "one trailing action per burst")
}

func TestDebouncerTriggerAfterQuietPeriod(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, d.Trigger(t0))
	assert.True(t, d.Trigger(t0.Add(2*time.Second)))
	assert.False(t, d.Pending())
}

func TestDebouncerRetry(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, d.Trigger(t0))
	d.Retry()
	assert.False(t, d.Flush(t0.Add(500*time.Millisecond)))
	assert.True(t, d.Flush(t0.Add(time.Second)))
}
