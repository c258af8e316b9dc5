package main

import (
	"sync/atomic"
	"testing"
	"time"
)

func setWait(p *Processor, start int64, accumulated time.Duration) {
	p.waitStart.Store(start)
	p.accumulatedWait.Store(int64(accumulated))
}

func wakeCounts(procs []*Processor) []uint64 {
	out := make([]uint64, len(procs))
	for i, p := range procs {
		out[i] = p.WakeSignals()
	}
	return out
}

func TestWakeLRU_PicksOldestWaiter(t *testing.T) {
	tc := newTestCore(t, 3)
	setWait(tc.procs[0], 5, 0)
	setWait(tc.procs[1], 2, 0)
	setWait(tc.procs[2], 9, 0)

	tc.lock.Acquire(nil)
	got := tc.disp.WakeLRU(MaskOf(0, 1, 2))
	tc.lock.Release(nil)

	if got != tc.procs[1] {
		t.Fatalf("woke %v, want CPU1", got)
	}
	if counts := wakeCounts(tc.procs); counts[0] != 0 || counts[1] != 1 || counts[2] != 0 {
		t.Fatalf("wake signals = %v, want [0 1 0]", counts)
	}
	if st := tc.sys.Stats(); st.LRUWakeups != 1 || st.Wakeups != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestWakeLRU_TieGoesToLongerAccumulatedWait(t *testing.T) {
	tests := []struct {
		name string
		acc  [2]time.Duration
		want int
	}{
		{"first larger", [2]time.Duration{100, 50}, 0},
		{"second larger", [2]time.Duration{50, 100}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCore(t, 2)
			setWait(tc.procs[0], 3, tt.acc[0])
			setWait(tc.procs[1], 3, tt.acc[1])

			tc.lock.Acquire(nil)
			got := tc.disp.WakeLRU(MaskOf(0, 1))
			tc.lock.Release(nil)

			if got.ID() != tt.want {
				t.Fatalf("woke CPU%d, want CPU%d", got.ID(), tt.want)
			}
		})
	}
}

func TestWakeLRU_UnstampedOnlySeeds(t *testing.T) {
	tc := newTestCore(t, 3)
	setWait(tc.procs[0], 0, time.Hour) // not waiting
	setWait(tc.procs[1], 7, 0)
	setWait(tc.procs[2], 4, 0)

	tc.lock.Acquire(nil)
	got := tc.disp.WakeLRU(MaskOf(0, 1, 2))
	tc.lock.Release(nil)
	if got != tc.procs[2] {
		t.Fatalf("woke CPU%d, want CPU2", got.ID())
	}

	// With nobody stamped, the first CPU examined is still woken.
	for _, p := range tc.procs {
		setWait(p, 0, 0)
	}
	tc.lock.Acquire(nil)
	got = tc.disp.WakeLRU(MaskOf(1, 2))
	tc.lock.Release(nil)
	if got != tc.procs[1] {
		t.Fatalf("woke CPU%d, want CPU1", got.ID())
	}
}

func TestWakeLRU_EmptyMaskIsNoop(t *testing.T) {
	tc := newTestCore(t, 2)
	// No lock needed for the no-op case.
	if got := tc.disp.WakeLRU(0); got != nil {
		t.Fatalf("woke CPU%d on empty mask", got.ID())
	}
	if st := tc.sys.Stats(); st.Wakeups != 0 || st.LRUWakeups != 0 {
		t.Fatalf("stats = %+v, want no wakeups", st)
	}
}

func TestWakeLRU_RequiresLock(t *testing.T) {
	tc := newTestCore(t, 2)
	expectPanic(t, func() { tc.disp.WakeLRU(MaskOf(0)) })
	expectPanic(t, func() { tc.disp.WakeAll(MaskOf(0, 1)) })
}

func TestWakeAll_OneSignalPerBit(t *testing.T) {
	tc := newTestCore(t, 6)
	setWait(tc.procs[4], 1, 0) // timestamps must not matter

	mask := MaskOf(0, 2, 4, 5)
	tc.lock.Acquire(nil)
	n := tc.disp.WakeAll(mask)
	tc.lock.Release(nil)

	if n != mask.Count() {
		t.Fatalf("WakeAll signalled %d, want %d", n, mask.Count())
	}
	for id, got := range wakeCounts(tc.procs) {
		want := uint64(0)
		if mask.Has(id) {
			want = 1
		}
		if got != want {
			t.Errorf("CPU%d got %d signals, want %d", id, got, want)
		}
	}
	if st := tc.sys.Stats(); st.Wakeups != uint64(mask.Count()) {
		t.Fatalf("wakeups = %d, want %d", st.Wakeups, mask.Count())
	}
}

func TestWakeAll_SkipsUnregistered(t *testing.T) {
	tc := newTestCore(t, 2)
	tc.lock.Acquire(nil)
	n := tc.disp.WakeAll(MaskOf(0, 1, 40))
	tc.lock.Release(nil)
	if n != 2 {
		t.Fatalf("signalled %d, want 2", n)
	}
}

func TestWakeOne_NilIsNoop(t *testing.T) {
	tc := newTestCore(t, 1)
	tc.disp.WakeOne(nil)
	if st := tc.sys.Stats(); st.Wakeups != 0 {
		t.Fatalf("wakeups = %d", st.Wakeups)
	}
}

func TestIdle_WakeCycle(t *testing.T) {
	tc := newTestCore(t, 1)
	p := tc.procs[0]

	var ready atomic.Bool
	done := make(chan struct{})
	go func() {
		tc.lock.Acquire(p)
		tc.disp.Idle(p, ready.Load)
		if owner := tc.sys.Owner(); owner != 0 {
			t.Errorf("owner after idle = %s, want CPU0", ownerName(owner))
		}
		tc.lock.Release(p)
		close(done)
	}()

	waitFor(t, "CPU0 to idle", func() bool { return tc.sys.Snapshot().Blocked.Has(0) })
	if p.WaitStart() == 0 {
		t.Fatal("idle CPU has no wait stamp")
	}
	if owner := tc.sys.Owner(); owner != LOCK_OWNER_NONE {
		t.Fatalf("owner while idle = %s, want NONE", ownerName(owner))
	}

	// Spurious wake: CPU rechecks and goes back to sleep.
	tc.lock.Acquire(nil)
	tc.disp.WakeOne(p)
	tc.lock.Release(nil)
	expectOpen(t, done, "idle return on spurious wake")
	waitFor(t, "CPU0 to idle again", func() bool { return tc.sys.Snapshot().Blocked.Has(0) })

	tc.lock.Acquire(nil)
	ready.Store(true)
	tc.disp.WakeOne(p)
	tc.lock.Release(nil)
	expectClosed(t, done, "idle return")

	if p.WaitStart() != 0 {
		t.Fatal("wait stamp not cleared after idle")
	}
	if p.AccumulatedWait() <= 0 {
		t.Fatal("no wait time accumulated")
	}
	if tc.sys.Snapshot().Blocked.Has(0) {
		t.Fatal("CPU0 still blocked after idle")
	}
}

func TestIdle_ReadyAlreadyTrueDoesNotWait(t *testing.T) {
	tc := newTestCore(t, 1)
	p := tc.procs[0]
	tc.lock.Acquire(p)
	tc.disp.Idle(p, func() bool { return true })
	if p.WaitStart() != 0 || tc.sys.blockedMask.Has(0) {
		t.Fatal("CPU waited although it was ready")
	}
	tc.lock.Release(p)
}

func TestIdle_WithoutLockPanics(t *testing.T) {
	tc := newTestCore(t, 2)
	expectPanic(t, func() { tc.disp.Idle(tc.procs[0], func() bool { return true }) })

	tc.lock.Acquire(tc.procs[1])
	expectPanic(t, func() { tc.disp.Idle(tc.procs[0], func() bool { return true }) })
	tc.lock.Release(tc.procs[1])
}

func TestWaitTimestampTracker_Accumulates(t *testing.T) {
	tc := newTestCore(t, 1)
	p := tc.procs[0]
	tr := tc.sys.waits

	if d := tr.EndWait(p); d != 0 {
		t.Fatalf("EndWait without BeginWait = %v", d)
	}

	tr.BeginWait(p)
	first := p.WaitStart()
	if first <= 0 {
		t.Fatalf("wait stamp = %d, want > 0", first)
	}
	time.Sleep(2 * time.Millisecond)
	d1 := tr.EndWait(p)

	tr.BeginWait(p)
	if p.WaitStart() < first {
		t.Fatal("wait clock went backwards")
	}
	time.Sleep(2 * time.Millisecond)
	d2 := tr.EndWait(p)

	if d1 < 2*time.Millisecond || d2 < 2*time.Millisecond {
		t.Fatalf("waits = %v, %v; want >= 2ms each", d1, d2)
	}
	if got := p.AccumulatedWait(); got != d1+d2 {
		t.Fatalf("accumulated = %v, want %v", got, d1+d2)
	}
}

// TestIdle_WakeDuringBarrierWaitsForResolve: an idle CPU woken while a
// barrier is pending must not own the lock until the barrier resolves.
func TestIdle_WakeDuringBarrierWaitsForResolve(t *testing.T) {
	tc := newTestCore(t, 3)
	holder, running, idler := tc.procs[0], tc.procs[1], tc.procs[2]

	var ready atomic.Bool
	var ownerAfterIdle atomic.Uint32
	idleDone := make(chan struct{})
	go func() {
		tc.lock.Acquire(idler)
		tc.disp.Idle(idler, ready.Load)
		ownerAfterIdle.Store(tc.sys.Owner())
		tc.lock.Release(idler)
		close(idleDone)
	}()
	waitFor(t, "CPU2 to idle", func() bool { return tc.sys.Snapshot().Blocked.Has(2) })

	synced := make(chan struct{})
	releaseHolder := make(chan struct{})
	go func() {
		tc.lock.Acquire(holder)
		tc.barrier.Synchronize(holder)
		close(synced)
		<-releaseHolder
		tc.lock.Release(holder)
	}()
	waitFor(t, "barrier to start waiting", func() bool { return tc.sys.Snapshot().Syncing })
	if snap := tc.sys.Snapshot(); snap.Pending != MaskOf(1) {
		t.Fatalf("pending = %s, want {1}", snap.Pending)
	}

	tc.lock.Acquire(nil)
	ready.Store(true)
	tc.disp.WakeOne(idler)
	tc.lock.Release(nil)

	waitFor(t, "CPU2 to leave the blocked set", func() bool { return !tc.sys.Snapshot().Blocked.Has(2) })
	expectOpen(t, idleDone, "idle return during barrier")
	if owner := tc.sys.Owner(); owner == 2 {
		t.Fatal("woken CPU2 owns the lock while the barrier is pending")
	}
	if snap := tc.sys.Snapshot(); !snap.Syncing || snap.Pending != MaskOf(1) {
		t.Fatalf("barrier state changed by idle wakeup: %+v", snap)
	}

	go tc.arrive(running)
	expectClosed(t, synced, "synchronize")
	expectOpen(t, idleDone, "idle return while barrier holder owns the lock")

	close(releaseHolder)
	expectClosed(t, idleDone, "idle return")
	if got := ownerAfterIdle.Load(); got != 2 {
		t.Fatalf("owner after idle = %s, want CPU2", ownerName(got))
	}
}
