package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestVirtualAdvanceFiresDueTimers(t *testing.T) {
	clk := NewVirtual(testStart)
	fired := false
	clk.AfterFunc(5*time.Second, func() { fired = true })

	clk.Advance(4 * time.Second)
	assert.False(t, fired)

	clk.Advance(time.Second)
	assert.True(t, fired)
	assert.Equal(t, testStart.Add(5*time.Second), clk.Now())
}

func TestVirtualStopPreventsFiring(t *testing.T) {
	clk := NewVirtual(testStart)
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	clk.Advance(time.Minute)
	assert.False(t, fired)
}

func TestVirtualFiresInDeadlineOrder(t *testing.T) {
	clk := NewVirtual(testStart)
	var order []string
	clk.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clk.AfterFunc(time.Second, func() { order = append(order, "a") })
	clk.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	clk.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestVirtualCallbackMayRearm(t *testing.T) {
	clk := NewVirtual(testStart)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			clk.AfterFunc(10*time.Second, tick)
		}
	}
	clk.AfterFunc(10*time.Second, tick)

	// Timers armed inside callbacks fire within the same Advance window.
	clk.Advance(30 * time.Second)
	assert.Equal(t, 3, count)
}

func TestVirtualCallbackSeesAdvancedNow(t *testing.T) {
	clk := NewVirtual(testStart)
	var seen time.Time
	clk.AfterFunc(7*time.Second, func() { seen = clk.Now() })

	clk.Advance(10 * time.Second)
	assert.Equal(t, testStart.Add(7*time.Second), seen)
}

func TestRealClockAfterFunc(t *testing.T) {
	clk := Real{}
	done := make(chan struct{})
	clk.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
