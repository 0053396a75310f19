package pipeline

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// usageSamples is the number of collected samples kept per unit; collected
// once per second it covers the last minute.
const usageSamples = 61

type unitState struct {
	busy  bool
	since time.Time
	total unitSample
}

type unitSample struct {
	busy time.Duration
	idle time.Duration
}

// Timekeeper accounts busy and idle time of a fixed set of units (workers)
// and reports their utilization over the collected window.
type Timekeeper struct {
	clock clock.Clock

	mu      sync.Mutex
	units   []unitState
	samples [][]unitSample
}

// NewTimekeeper creates a timekeeper for n units, all idle.
func NewTimekeeper(n int, clk clock.Clock) *Timekeeper {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	units := make([]unitState, n)
	for i := range units {
		units[i].since = now
	}
	return &Timekeeper{clock: clk, units: units}
}

// Busy marks unit i (zero based) busy.
func (tk *Timekeeper) Busy(i int) { tk.update(i, true) }

// Idle marks unit i (zero based) idle.
func (tk *Timekeeper) Idle(i int) { tk.update(i, false) }

func (tk *Timekeeper) update(i int, busy bool) {
	now := tk.clock.Now()

	tk.mu.Lock()
	defer tk.mu.Unlock()

	if i < 0 || i >= len(tk.units) {
		return
	}
	u := &tk.units[i]
	u.flush(now)
	u.busy = busy
}

func (u *unitState) flush(now time.Time) {
	d := now.Sub(u.since)
	if d < 0 {
		d = 0
	}
	if u.busy {
		u.total.busy += d
	} else {
		u.total.idle += d
	}
	u.since = now
}

// Collect records a sample of every unit's accumulated time.
func (tk *Timekeeper) Collect() {
	now := tk.clock.Now()

	tk.mu.Lock()
	defer tk.mu.Unlock()

	sample := make([]unitSample, len(tk.units))
	for i := range tk.units {
		tk.units[i].flush(now)
		sample[i] = tk.units[i].total
	}
	tk.samples = append(tk.samples, sample)
	if len(tk.samples) > usageSamples {
		tk.samples = tk.samples[len(tk.samples)-usageSamples:]
	}
}

// Usage returns the busy ratio (0..1) of every unit between the oldest and
// the newest collected sample. With fewer than two samples the ratio covers
// the time since creation up to the last sample.
func (tk *Timekeeper) Usage() []float64 {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	usage := make([]float64, len(tk.units))
	if len(tk.samples) == 0 {
		return usage
	}

	last := tk.samples[len(tk.samples)-1]
	var first []unitSample
	if len(tk.samples) > 1 {
		first = tk.samples[0]
	}

	for i := range usage {
		busy, idle := last[i].busy, last[i].idle
		if first != nil {
			busy -= first[i].busy
			idle -= first[i].idle
		}
		if total := busy + idle; total > 0 {
			usage[i] = float64(busy) / float64(total)
		}
	}
	return usage
}

// Units returns the number of tracked units.
func (tk *Timekeeper) Units() int { return len(tk.units) }
