// smp_barrier.go - Synchronize CPUs: bring every other running CPU to a stop point

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

import (
	"context"
	"fmt"
)

// SyncBarrier quiesces all other running CPUs on behalf of the interrupt
// lock holder.
type SyncBarrier struct {
	sys *SystemState
}

func NewSyncBarrier(sys *SystemState) *SyncBarrier {
	return &SyncBarrier{sys: sys}
}

// Synchronize returns once every CPU that was active and not blocked at
// entry, other than self, is at a safe stop point. self must hold the
// interrupt lock and still holds it on return. There is no timeout.
func (b *SyncBarrier) Synchronize(self *Processor) {
	_ = b.SynchronizeContext(context.Background(), self)
}

// SynchronizeContext is Synchronize with a bounded wait. If ctx ends before
// every CPU arrives, the barrier is abandoned (the pending set is cleared
// and parked acquirers are released) and ctx.Err() is returned. A nil
// return carries the same guarantee as Synchronize.
func (b *SyncBarrier) SynchronizeContext(ctx context.Context, self *Processor) error {
	s := b.sys
	if self == nil {
		panic("SYNC: synchronize called without a CPU")
	}
	s.assertOwner("SYNC", self)
	if s.syncing {
		panic(fmt.Sprintf("SYNC: CPU%d entered synchronize while a barrier is active", self.id))
	}
	s.stats.barriers.Add(1)

	// Waiting CPUs are already at any sync point; so are CPUs parked on
	// the lock or reporting themselves stopped.
	mask := s.activeMask &^ (s.blockedMask | self.bit)
	n := 0
	for id := range mask.IDs() {
		p := s.procs[id]
		if p.atSyncPoint() {
			mask = mask.Clear(id)
			continue
		}
		n++
		p.markInterruptPending()
	}

	if n == 0 {
		return nil
	}

	s.log.Debugf("CPU%d sync: waiting on %s", self.id, mask)
	s.stats.barrierWaits.Add(1)
	s.syncMask = mask
	s.syncing = true
	s.setOwner(LOCK_OWNER_NONE)

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.syncCond.Broadcast()
			s.mu.Unlock()
		})
		defer stop()
	}

	var err error
	for !s.syncMask.Empty() {
		if err = ctx.Err(); err != nil {
			s.log.Warnf("CPU%d sync abandoned with %s outstanding: %v", self.id, s.syncMask, err)
			s.syncMask = 0
			s.stats.barrierAborts.Add(1)
			break
		}
		s.syncCond.Wait()
	}

	s.setOwner(uint32(self.id))
	s.syncing = false
	s.syncBCCond.Broadcast()
	s.log.Debugf("CPU%d sync: resolved", self.id)
	return err
}
