package main

import "time"

// WaitTimestampTracker stamps processors as they enter and leave wait
// states. Timestamps are nanoseconds on a monotonic clock offset by one,
// so 0 is never a valid stamp and can mean "not waiting".
type WaitTimestampTracker struct {
	epoch time.Time
}

func NewWaitTimestampTracker() WaitTimestampTracker {
	return WaitTimestampTracker{epoch: time.Now()}
}

// Now returns the current wait-clock value, always > 0.
func (t WaitTimestampTracker) Now() int64 {
	return int64(time.Since(t.epoch)) + 1
}

// BeginWait records that p started waiting now. Only p's own thread calls
// this; the shared lock is not required.
func (t WaitTimestampTracker) BeginWait(p *Processor) {
	p.waitStart.Store(t.Now())
}

// EndWait clears p's wait stamp and folds the elapsed time into its
// accumulated wait. Returns the length of the wait just ended.
func (t WaitTimestampTracker) EndWait(p *Processor) time.Duration {
	start := p.waitStart.Swap(0)
	if start == 0 {
		return 0
	}
	elapsed := t.Now() - start
	if elapsed < 0 {
		elapsed = 0
	}
	p.accumulatedWait.Add(elapsed)
	return time.Duration(elapsed)
}
