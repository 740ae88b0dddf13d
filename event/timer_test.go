package event

import (
	"sort"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestTimers() (*Timers, *fakeclock.FakeClock) {
	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	return NewTimers(clk), clk
}

func TestTimersScenarioVirtualClock(t *testing.T) {
	timers, clk := newTestTimers()
	var fired []string
	mk := func(name string) *Event {
		return &Event{Handler: func(ev *Event) {
			require.True(t, ev.TimedOut)
			fired = append(fired, name)
		}}
	}
	e20, e5, e10 := mk("20ms"), mk("5ms"), mk("10ms")
	timers.Add(e20, 20*time.Millisecond)
	timers.Add(e5, 5*time.Millisecond)
	timers.Add(e10, 10*time.Millisecond)

	assert.Equal(t, 5*time.Millisecond, timers.FindEarliest())

	clk.Increment(12 * time.Millisecond)
	assert.Equal(t, time.Duration(0), timers.FindEarliest())
	assert.Equal(t, 2, timers.Expire())

	assert.Equal(t, []string{"5ms", "10ms"}, fired)
	assert.True(t, e20.TimerSet())
	assert.Equal(t, 1, timers.Len())
	assert.Equal(t, 8*time.Millisecond, timers.FindEarliest())
}

func TestTimersEmptyIsInfinite(t *testing.T) {
	timers, _ := newTestTimers()
	assert.Equal(t, TimerInfinite, timers.FindEarliest())
	assert.Equal(t, 0, timers.Expire())
}

func TestTimersDuplicateDeadlines(t *testing.T) {
	timers, clk := newTestTimers()
	n := 0
	for i := 0; i < 5; i++ {
		timers.Add(&Event{Handler: func(*Event) { n++ }}, 10*time.Millisecond)
	}
	assert.Equal(t, 5, timers.Len())
	clk.Increment(10 * time.Millisecond)
	timers.Expire()
	assert.Equal(t, 5, n)
}

func TestTimersLazyRearmAndDelete(t *testing.T) {
	timers, _ := newTestTimers()
	ev := &Event{Handler: func(*Event) {}}
	timers.Add(ev, time.Second)
	first := ev.Deadline()

	timers.Add(ev, time.Second+100*time.Millisecond)
	assert.Equal(t, first, ev.Deadline(), "small moves keep the old deadline")

	timers.Add(ev, 2*time.Second)
	assert.Equal(t, first+1000, ev.Deadline())
	assert.Equal(t, 1, timers.Len())

	timers.Delete(ev)
	assert.False(t, ev.TimerSet())
	assert.Equal(t, 0, timers.Len())
	timers.Delete(ev)
}

func TestTimersRearmInsideHandlerIsSeenBySameScan(t *testing.T) {
	timers, clk := newTestTimers()
	runs := 0
	ev := &Event{}
	ev.Handler = func(ev *Event) {
		runs++
		if runs == 1 {
			timers.Add(ev, 0)
		}
	}
	timers.Add(ev, 5*time.Millisecond)
	clk.Increment(5 * time.Millisecond)
	assert.Equal(t, 2, timers.Expire())
	assert.Equal(t, 2, runs)
}

func TestTimersClaimedEventRetriedNextScan(t *testing.T) {
	timers, clk := newTestTimers()
	fired := 0
	ev := &Event{Handler: func(*Event) { fired++ }}
	timers.Add(ev, time.Millisecond)
	clk.Increment(time.Millisecond)

	require.True(t, ev.Claim())
	assert.Equal(t, 0, timers.Expire())
	assert.True(t, ev.TimerSet(), "skipped event goes back into the tree")

	ev.Unclaim()
	assert.Equal(t, 1, timers.Expire())
	assert.Equal(t, 1, fired)
}

func TestTimersOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		timers, clk := newTestTimers()
		delays := rapid.SliceOfN(rapid.IntRange(0, 1000), 0, 50).Draw(t, "delays")
		var fired []int64
		for _, d := range delays {
			timers.Add(&Event{Handler: func(ev *Event) { fired = append(fired, ev.Deadline()) }},
				time.Duration(d)*time.Millisecond)
		}
		if len(delays) == 0 {
			require.Equal(t, TimerInfinite, timers.FindEarliest())
			return
		}

		step := rapid.IntRange(0, 1000).Draw(t, "step")
		clk.Increment(time.Duration(step) * time.Millisecond)
		due := 0
		for _, d := range delays {
			if d <= step {
				due++
			}
		}
		require.Equal(t, due > 0, timers.FindEarliest() == 0)

		timers.Expire()
		require.Len(t, fired, due)
		require.True(t, sort.SliceIsSorted(fired, func(i, j int) bool { return fired[i] < fired[j] }))
		require.Equal(t, len(delays)-due, timers.Len())
	})
}
