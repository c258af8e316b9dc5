package main

import "fmt"

// WakeupDispatcher resumes CPUs parked in Idle.
type WakeupDispatcher struct {
	sys *SystemState
}

func NewWakeupDispatcher(sys *SystemState) *WakeupDispatcher {
	return &WakeupDispatcher{sys: sys}
}

// WakeOne signals p's private wait condition. A CPU that is not waiting
// ignores it; waiters always recheck their wake condition.
func (d *WakeupDispatcher) WakeOne(p *Processor) {
	if p == nil {
		return
	}
	p.wakeSignals.Add(1)
	d.sys.stats.wakeups.Add(1)
	p.intCond.Signal()
}

// WakeLRU wakes the CPU in mask that has been waiting longest: smallest
// nonzero wait stamp, ties going to the larger accumulated wait time. A
// CPU with no stamp only stands in until a stamped one is seen. Returns the
// CPU woken, or nil for an empty mask. The caller must hold the interrupt
// lock.
func (d *WakeupDispatcher) WakeLRU(mask CPUMask) *Processor {
	if mask.Empty() {
		return nil
	}
	s := d.sys
	s.assertHeld("WAKEUP")

	var lru *Processor
	var lruStart int64
	for id := range mask.IDs() {
		p := s.Processor(id)
		if p == nil {
			continue
		}
		start := p.waitStart.Load()
		if lru == nil ||
			(start > 0 &&
				(lruStart == 0 ||
					start < lruStart ||
					(start == lruStart && p.accumulatedWait.Load() >= lru.accumulatedWait.Load()))) {
			lru = p
			lruStart = start
		}
	}
	if lru == nil {
		return nil
	}

	s.log.Debugf("wake LRU CPU%d from %s (waitStart=%d)", lru.id, mask, lruStart)
	s.stats.lruWakeups.Add(1)
	d.WakeOne(lru)
	return lru
}

// WakeAll signals every registered CPU in mask and returns how many were
// signalled. The caller must hold the interrupt lock.
func (d *WakeupDispatcher) WakeAll(mask CPUMask) int {
	s := d.sys
	if !mask.Empty() {
		s.assertHeld("WAKEUP")
	}
	n := 0
	for id := range mask.IDs() {
		if p := s.Processor(id); p != nil {
			d.WakeOne(p)
			n++
		}
	}
	return n
}

// Idle parks p until ready reports true. p must hold the interrupt lock.
// While parked p counts as blocked, gives up lock ownership, and has its
// wait stamp set; on each wakeup it takes part in any running barrier
// before it owns the lock again. ready is evaluated with the lock held.
func (d *WakeupDispatcher) Idle(p *Processor, ready func() bool) {
	s := d.sys
	if s.owner.Load() != uint32(p.id) {
		panic(fmt.Sprintf("WAKEUP: CPU%d idled without holding the interrupt lock", p.id))
	}

	for !ready() {
		if s.activeMask.Has(p.id) {
			s.blockedMask = s.blockedMask.Set(p.id)
		}
		s.waits.BeginWait(p)
		s.setOwner(LOCK_OWNER_NONE)

		p.intCond.Wait()

		s.waits.EndWait(p)
		s.blockedMask = s.blockedMask.Clear(p.id)
		s.joinBarrierLocked(p)
		s.setOwner(uint32(p.id))
	}
}
