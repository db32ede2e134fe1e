// Package jitter implements the delayed-push random delay from MSC3359: the
// more often notifications succeed, the shorter the delay, so traffic timing
// leaks less about individual events.
package jitter

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

const (
	sampleSize = 25
	minSamples = 4
	// startFrequency is used until minSamples successes were recorded.
	startFrequency = 0.25
)

// FromFrequency returns the delay ceiling J = 1 / (f * (2 - sqrt2) / 2) for a
// success frequency f in requests per second.
func FromFrequency(freq float64) time.Duration {
	a := (2 - math.Sqrt2) / 2
	seconds := 1 / (freq * a)
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

// Jitter tracks the start times of recent successful requests. It is safe for
// concurrent use.
type Jitter struct {
	max time.Duration
	now func() time.Time

	mu      sync.Mutex
	samples []time.Time
}

// New returns a Jitter whose delays never exceed max. A zero max disables
// jittering.
func New(max time.Duration) *Jitter {
	return &Jitter{max: max, now: time.Now}
}

// RecordSuccess adds the start time of a request that delivered at least one
// push. Failed requests are never recorded so they cannot shrink the delay.
func (j *Jitter) RecordSuccess(when time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.samples = append(j.samples, when)
	if len(j.samples) <= sampleSize {
		return
	}
	// Samples may arrive out of order; evict the oldest, not the first.
	oldest := 0
	for i, t := range j.samples {
		if t.Before(j.samples[oldest]) {
			oldest = i
		}
	}
	j.samples = slices.Delete(j.samples, oldest, oldest+1)
}

// Ceiling is the current upper bound of the random delay.
func (j *Jitter) Ceiling() time.Duration {
	if j.max <= 0 {
		return 0
	}

	j.mu.Lock()
	ceiling := FromFrequency(startFrequency)
	if len(j.samples) >= minSamples {
		oldest := slices.MinFunc(j.samples, time.Time.Compare)
		elapsed := j.now().Sub(oldest).Seconds()
		ceiling = FromFrequency(float64(len(j.samples)) / elapsed)
	}
	j.mu.Unlock()

	return min(ceiling, j.max)
}

// Delay rolls a uniformly random delay in [0, Ceiling()].
func (j *Jitter) Delay() time.Duration {
	ceiling := j.Ceiling()
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
