// smp_intlock.go - Master interrupt lock with CPU-aware acquisition

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

package main

import "fmt"

// InterruptLock is the exclusive gate over shared interrupt state. Any
// thread may take it. A CPU thread that takes it also takes part in any
// sync barrier already running, so a barrier never waits on a CPU that is
// itself stuck waiting for the lock.
type InterruptLock struct {
	sys *SystemState
}

func NewInterruptLock(sys *SystemState) *InterruptLock {
	return &InterruptLock{sys: sys}
}

// Acquire blocks until the lock is held. Pass the calling CPU's record, or
// nil for service threads that are not emulated CPUs (owner OTHER). A
// record that has been deactivated may not acquire.
//
// OTHER is never parked on a barrier and is not preempted by one: a
// service thread that acquires while a barrier is waiting proceeds at
// once, and the barrier only resumes after that thread releases.
func (l *InterruptLock) Acquire(p *Processor) {
	s := l.sys
	if p == nil {
		s.mu.Lock()
		s.setOwner(LOCK_OWNER_OTHER)
		s.stats.otherAcquires.Add(1)
		return
	}

	if p.holdsLock.Load() {
		panic(fmt.Sprintf("INTLOCK: re-entrant acquire by CPU%d", p.id))
	}

	p.lockWait.Store(true)
	s.mu.Lock()
	s.joinBarrierLocked(p)
	p.lockWait.Store(false)
	if s.procs[p.id] != p {
		s.mu.Unlock()
		panic(fmt.Sprintf("INTLOCK: acquire by CPU%d which is not registered", p.id))
	}
	p.holdsLock.Store(true)
	s.setOwner(uint32(p.id))
	s.stats.lockAcquires.Add(1)
}

// Release gives the lock up. p must be the value passed to the matching
// Acquire; releasing a lock the caller does not hold panics.
//
// OTHER carries no thread identity, so Release(nil) cannot tell which
// service thread acquired. A service thread that releases a lock held by
// another service thread is not detected; callers must pair Acquire(nil)
// and Release(nil) on the same goroutine.
func (l *InterruptLock) Release(p *Processor) {
	s := l.sys
	owner := s.owner.Load()
	switch {
	case owner == LOCK_OWNER_NONE:
		panic("INTLOCK: release of a lock that is not held")
	case p == nil && owner != LOCK_OWNER_OTHER:
		panic(fmt.Sprintf("INTLOCK: release by OTHER while owned by %s", ownerName(owner)))
	case p != nil && owner != uint32(p.id):
		panic(fmt.Sprintf("INTLOCK: release by CPU%d while owned by %s", p.id, ownerName(owner)))
	}

	if p != nil {
		p.holdsLock.Store(false)
	}
	s.setOwner(LOCK_OWNER_NONE)
	s.mu.Unlock()
}

// Held reports whether anybody currently owns the lock.
func (l *InterruptLock) Held() bool {
	return l.sys.owner.Load() != LOCK_OWNER_NONE
}
