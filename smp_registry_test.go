package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewSystemState_RejectsBadCount(t *testing.T) {
	expectPanic(t, func() { NewSystemState(0) })
	expectPanic(t, func() { NewSystemState(SMP_MAX_CPUS + 1) })
}

func TestRegistry_ActivateContract(t *testing.T) {
	sys := NewSystemState(4)
	lock := NewInterruptLock(sys)

	expectPanic(t, func() { sys.Activate(0, newFakeExec(), nil) }) // lock not held

	lock.Acquire(nil)
	defer lock.Release(nil)
	expectPanic(t, func() { sys.Activate(-1, newFakeExec(), nil) })
	expectPanic(t, func() { sys.Activate(4, newFakeExec(), nil) })
	expectPanic(t, func() { sys.Activate(1, nil, nil) })

	p := sys.Activate(1, newFakeExec(), nil)
	if p.ID() != 1 || p.Bit() != CPUBit(1) {
		t.Fatalf("processor id=%d bit=%s", p.ID(), p.Bit())
	}
	expectPanic(t, func() { sys.Activate(1, newFakeExec(), nil) })
	if sys.Processor(1) != p || sys.Processor(2) != nil || sys.Processor(99) != nil {
		t.Fatal("Processor lookup mismatch")
	}
}

func TestRegistry_MasksAndHighCPU(t *testing.T) {
	sys := NewSystemState(8)
	lock := NewInterruptLock(sys)

	lock.Acquire(nil)
	for _, id := range []int{0, 3, 6} {
		sys.Activate(id, newFakeExec(), nil)
	}
	if got := sys.ActiveMaskLocked(); got != MaskOf(0, 3, 6) {
		t.Fatalf("active = %s", got)
	}
	if sys.hiCPU != 7 {
		t.Fatalf("hiCPU = %d, want 7", sys.hiCPU)
	}

	sys.blockedMask = MaskOf(3, 5)
	if got := sys.IdleMaskLocked(); got != MaskOf(3) {
		t.Fatalf("idle = %s, want {3}", got)
	}

	sys.Deactivate(6)
	sys.Deactivate(3)
	if sys.hiCPU != 1 {
		t.Fatalf("hiCPU after deactivate = %d, want 1", sys.hiCPU)
	}
	if sys.BlockedMaskLocked().Has(3) {
		t.Fatal("deactivated CPU left in the blocked mask")
	}
	expectPanic(t, func() { sys.Deactivate(3) })
	lock.Release(nil)

	snap := sys.Snapshot()
	if snap.Active != MaskOf(0) || snap.HighCPU != 1 || snap.MaxCPUs != 8 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRegistry_SelfDeactivateThenRelease(t *testing.T) {
	tc := newTestCore(t, 2)
	p := tc.procs[1]

	tc.lock.Acquire(p)
	tc.sys.Deactivate(p.ID())
	tc.lock.Release(p)

	if tc.sys.Owner() != LOCK_OWNER_NONE {
		t.Fatal("lock still owned after self-deactivating release")
	}
	if tc.sys.Snapshot().Active != MaskOf(0) {
		t.Fatal("CPU1 still active")
	}
}

func TestProcessor_AtSyncPointFollowsExec(t *testing.T) {
	tc := newTestCore(t, 1)
	p := tc.procs[0]
	if p.atSyncPoint() {
		t.Fatal("running CPU reported at sync point")
	}
	tc.execs[0].atSync.Store(true)
	if !p.atSyncPoint() {
		t.Fatal("CPU at its stop point not reported")
	}
}

func TestOwnerName(t *testing.T) {
	tests := map[uint32]string{
		LOCK_OWNER_NONE:  "NONE",
		LOCK_OWNER_OTHER: "OTHER",
		12:               "CPU12",
	}
	for owner, want := range tests {
		if got := ownerName(owner); got != want {
			t.Errorf("ownerName(%#x) = %q, want %q", owner, got, want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogLevelWarn, "[T] ")
	l.Debugf("hidden debug")
	l.Infof("hidden info")
	l.Warnf("shown %d", 1)
	l.Errorf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered messages logged: %q", out)
	}
	if !strings.Contains(out, "[T] ") || !strings.Contains(out, "shown 1") || !strings.Contains(out, "shown 2") {
		t.Fatalf("missing messages: %q", out)
	}

	l.SetLevel(LogLevelDebug)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatal("SetLevel did not enable debug")
	}

	var nilLogger *Logger
	nilLogger.Warnf("discarded")
	nilLogger.SetLevel(LogLevelDebug)
}
