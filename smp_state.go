package main

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SystemState is the shared aggregate behind the interrupt lock, the sync
// barrier and the wakeup dispatcher. Every field below mu is guarded by mu;
// owner is additionally atomic so contract checks can read it from threads
// that do not hold the lock.
type SystemState struct {
	mu         sync.Mutex
	syncCond   *sync.Cond // barrier satisfied (syncMask drained)
	syncBCCond *sync.Cond // barrier resolved, parked acquirers may proceed

	procs   [SMP_MAX_CPUS]*Processor
	maxCPUs int
	hiCPU   int // one past the highest registered id

	activeMask  CPUMask
	blockedMask CPUMask
	syncing     bool
	syncMask    CPUMask
	owner       atomic.Uint32

	waits WaitTimestampTracker
	stats smpStats
	log   *Logger
}

// smpStats counts coordination events. Counters are atomic because
// WakeOne may be called without the interrupt lock.
type smpStats struct {
	lockAcquires  atomic.Uint64
	otherAcquires atomic.Uint64
	barriers      atomic.Uint64
	barrierWaits  atomic.Uint64
	barrierAborts atomic.Uint64
	wakeups       atomic.Uint64
	lruWakeups    atomic.Uint64
}

// SMPStats is a point-in-time copy of the coordination counters.
type SMPStats struct {
	LockAcquires  uint64 `json:"lock_acquires"`
	OtherAcquires uint64 `json:"other_acquires"`
	Barriers      uint64 `json:"barriers"`
	BarrierWaits  uint64 `json:"barrier_waits"`
	BarrierAborts uint64 `json:"barrier_aborts"`
	Wakeups       uint64 `json:"wakeups"`
	LRUWakeups    uint64 `json:"lru_wakeups"`
}

// NewSystemState creates an independent system state for up to maxCPUs
// processors.
func NewSystemState(maxCPUs int) *SystemState {
	if maxCPUs < 1 || maxCPUs > SMP_MAX_CPUS {
		panic(fmt.Sprintf("SMP: processor count %d outside 1..%d", maxCPUs, SMP_MAX_CPUS))
	}
	s := &SystemState{
		maxCPUs: maxCPUs,
		waits:   NewWaitTimestampTracker(),
		log:     GetLogger(),
	}
	s.syncCond = sync.NewCond(&s.mu)
	s.syncBCCond = sync.NewCond(&s.mu)
	s.owner.Store(LOCK_OWNER_NONE)
	return s
}

// Owner returns the current lock owner: LOCK_OWNER_NONE, LOCK_OWNER_OTHER
// or a processor id.
func (s *SystemState) Owner() uint32 {
	return s.owner.Load()
}

func (s *SystemState) setOwner(owner uint32) {
	s.owner.Store(owner)
}

// assertHeld panics unless somebody logically owns the interrupt lock.
// It cannot tell which thread that is; callers that know their identity
// use assertOwner instead.
func (s *SystemState) assertHeld(who string) {
	if s.owner.Load() == LOCK_OWNER_NONE {
		panic(fmt.Sprintf("%s: interrupt lock not held", who))
	}
}

func (s *SystemState) assertOwner(who string, p *Processor) {
	if owner := s.owner.Load(); owner != uint32(p.id) {
		panic(fmt.Sprintf("%s: CPU%d does not hold the interrupt lock (owner %s)", who, p.id, ownerName(owner)))
	}
}

// joinBarrierLocked parks p until any in-progress barrier resolves,
// first removing p from the set the barrier is waiting on. A processor
// that got this far was blocked on the lock, which the barrier counts
// as stopped.
func (s *SystemState) joinBarrierLocked(p *Processor) {
	for s.syncing {
		s.syncMask = s.syncMask.Clear(p.id)
		if s.syncMask.Empty() {
			s.syncCond.Signal()
		}
		s.syncBCCond.Wait()
	}
}

// Stats returns a copy of the coordination counters.
func (s *SystemState) Stats() SMPStats {
	return SMPStats{
		LockAcquires:  s.stats.lockAcquires.Load(),
		OtherAcquires: s.stats.otherAcquires.Load(),
		Barriers:      s.stats.barriers.Load(),
		BarrierWaits:  s.stats.barrierWaits.Load(),
		BarrierAborts: s.stats.barrierAborts.Load(),
		Wakeups:       s.stats.wakeups.Load(),
		LRUWakeups:    s.stats.lruWakeups.Load(),
	}
}

// ResetStats zeroes the coordination counters.
func (s *SystemState) ResetStats() {
	s.stats.lockAcquires.Store(0)
	s.stats.otherAcquires.Store(0)
	s.stats.barriers.Store(0)
	s.stats.barrierWaits.Store(0)
	s.stats.barrierAborts.Store(0)
	s.stats.wakeups.Store(0)
	s.stats.lruWakeups.Store(0)
}

// SMPSnapshot is a consistent view of the masks and barrier state.
type SMPSnapshot struct {
	Active   CPUMask
	Blocked  CPUMask
	Pending  CPUMask
	Syncing  bool
	Owner    uint32
	HighCPU  int
	MaxCPUs  int
	Counters SMPStats
}

// Snapshot takes the shared mutex directly (not the interrupt lock) and
// copies the masks. It must not be called by a thread holding the
// interrupt lock; use snapshotLocked there.
func (s *SystemState) Snapshot() SMPSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SystemState) snapshotLocked() SMPSnapshot {
	return SMPSnapshot{
		Active:   s.activeMask,
		Blocked:  s.blockedMask,
		Pending:  s.syncMask,
		Syncing:  s.syncing,
		Owner:    s.owner.Load(),
		HighCPU:  s.hiCPU,
		MaxCPUs:  s.maxCPUs,
		Counters: s.Stats(),
	}
}

func ownerName(owner uint32) string {
	switch owner {
	case LOCK_OWNER_NONE:
		return "NONE"
	case LOCK_OWNER_OTHER:
		return "OTHER"
	default:
		return fmt.Sprintf("CPU%d", owner)
	}
}
