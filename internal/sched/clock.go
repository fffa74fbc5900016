// Package sched unifies the timers the messaging core relies on (typing
// expiry, presence grace, heartbeat) behind a cancellable clock interface.
// Tests run against the virtual clock and fast-forward time deterministically
// instead of sleeping.
package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing.
	Stop() bool
}

// Clock abstracts time for components that arm timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real implements Clock with the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }

// Virtual is a manually advanced Clock for tests.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*virtualTimer
}

type virtualTimer struct {
	clock    *Virtual
	id       int
	deadline time.Time
	f        func()
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, armed := t.clock.timers[t.id]; !armed {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, timers: make(map[int]*virtualTimer)}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	t := &virtualTimer{clock: v, id: v.nextID, deadline: v.now.Add(d), f: f}
	v.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Callbacks run synchronously on the calling goroutine and may arm new
// timers; timers armed within the advanced window fire too.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	for {
		next := v.nextDueLocked(target)
		if next == nil {
			break
		}
		delete(v.timers, next.id)
		if next.deadline.After(v.now) {
			v.now = next.deadline
		}
		v.mu.Unlock()
		next.f()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

func (v *Virtual) nextDueLocked(target time.Time) *virtualTimer {
	due := make([]*virtualTimer, 0, len(v.timers))
	for _, t := range v.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}
