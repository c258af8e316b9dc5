package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ExecLoop is what the sync barrier needs from a processor's execution
// loop: whether it is at a safe stop point, and a way to push it toward
// one.
type ExecLoop interface {
	AtSyncPoint() bool
	MarkInterruptPending()
}

// Processor is the per-CPU record held by the registry. It lives from
// Activate to Deactivate.
type Processor struct {
	id    int
	bit   CPUMask
	exec  ExecLoop
	guest ExecLoop // nested guest sharing this thread, may be nil

	intCond *sync.Cond // private wait condition, bound to SystemState.mu

	waitStart       atomic.Int64 // 0 = not waiting
	accumulatedWait atomic.Int64 // nanoseconds
	lockWait        atomic.Bool  // blocked in InterruptLock.Acquire
	holdsLock       atomic.Bool
	wakeSignals     atomic.Uint64
}

func (p *Processor) ID() int { return p.id }
func (p *Processor) Bit() CPUMask { return p.bit }
func (p *Processor) LockWaiting() bool { return p.lockWait.Load() }

// WaitStart returns the wait-clock timestamp of the most recent entry
// into a wait state, or 0 if the processor is not waiting.
func (p *Processor) WaitStart() int64 {
	return p.waitStart.Load()
}

func (p *Processor) AccumulatedWait() time.Duration {
	return time.Duration(p.accumulatedWait.Load())
}

// WakeSignals returns how many times WakeOne has signalled this processor.
func (p *Processor) WakeSignals() uint64 {
	return p.wakeSignals.Load()
}

// atSyncPoint reports whether p can be left alone by a barrier: either it
// is parked on the interrupt lock, or its loop says it is at a stop point.
func (p *Processor) atSyncPoint() bool {
	return p.lockWait.Load() || p.exec.AtSyncPoint()
}

func (p *Processor) markInterruptPending() {
	p.exec.MarkInterruptPending()
	if p.guest != nil {
		p.guest.MarkInterruptPending()
	}
}

// Activate registers a processor under id and marks it running. The
// caller must hold the interrupt lock.
func (s *SystemState) Activate(id int, exec ExecLoop, guest ExecLoop) *Processor {
	s.assertHeld("REGISTRY")
	if id < 0 || id >= s.maxCPUs {
		panic(fmt.Sprintf("REGISTRY: CPU id %d outside 0..%d", id, s.maxCPUs-1))
	}
	if exec == nil {
		panic(fmt.Sprintf("REGISTRY: CPU%d activated without an execution loop", id))
	}
	if s.procs[id] != nil {
		panic(fmt.Sprintf("REGISTRY: CPU%d already active", id))
	}

	p := &Processor{
		id:    id,
		bit:   CPUBit(id),
		exec:  exec,
		guest: guest,
	}
	p.intCond = sync.NewCond(&s.mu)

	s.procs[id] = p
	s.activeMask = s.activeMask.Set(id)
	if id >= s.hiCPU {
		s.hiCPU = id + 1
	}
	s.log.Debugf("CPU%d activated, active=%s", id, s.activeMask)
	return p
}

// Deactivate removes the processor from the registry. The caller must hold
// the interrupt lock; a processor may deactivate itself on its way out, in
// which case its subsequent Release still succeeds. If a barrier is waiting
// on the processor it is counted as arrived.
func (s *SystemState) Deactivate(id int) {
	s.assertHeld("REGISTRY")
	if id < 0 || id >= s.maxCPUs || s.procs[id] == nil {
		panic(fmt.Sprintf("REGISTRY: CPU%d is not active", id))
	}

	s.activeMask = s.activeMask.Clear(id)
	s.blockedMask = s.blockedMask.Clear(id)
	if s.syncing && s.syncMask.Has(id) {
		s.syncMask = s.syncMask.Clear(id)
		if s.syncMask.Empty() {
			s.syncCond.Signal()
		}
	}
	s.procs[id] = nil

	s.hiCPU = 0
	for i := range s.maxCPUs {
		if s.procs[i] != nil {
			s.hiCPU = i + 1
		}
	}
	s.log.Debugf("CPU%d deactivated, active=%s", id, s.activeMask)
}

// Processor returns the record registered under id, or nil. The caller
// must hold the interrupt lock.
func (s *SystemState) Processor(id int) *Processor {
	if id < 0 || id >= s.maxCPUs {
		return nil
	}
	return s.procs[id]
}

// ActiveMaskLocked and BlockedMaskLocked read the masks; the caller must
// hold the interrupt lock.
func (s *SystemState) ActiveMaskLocked() CPUMask { return s.activeMask }
func (s *SystemState) BlockedMaskLocked() CPUMask { return s.blockedMask }

// IdleMaskLocked returns active processors parked in Idle.
func (s *SystemState) IdleMaskLocked() CPUMask {
	return s.activeMask & s.blockedMask
}
