package main

import (
	"sync/atomic"
	"testing"
	"time"
)

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic, got none")
		}
	}()
	fn()
}

// fakeExec is a scripted ExecLoop. MarkInterruptPending is called with the
// shared mutex held, so it never blocks.
type fakeExec struct {
	atSync atomic.Bool
	marks  atomic.Int32
	marked chan struct{}
}

func newFakeExec() *fakeExec {
	return &fakeExec{marked: make(chan struct{}, 16)}
}

func (f *fakeExec) AtSyncPoint() bool { return f.atSync.Load() }

func (f *fakeExec) MarkInterruptPending() {
	f.marks.Add(1)
	select {
	case f.marked <- struct{}{}:
	default:
	}
}

type testCore struct {
	sys     *SystemState
	lock    *InterruptLock
	barrier *SyncBarrier
	disp    *WakeupDispatcher
	procs   []*Processor
	execs   []*fakeExec
}

// newTestCore builds a core with n active processors backed by fakeExec.
func newTestCore(t *testing.T, n int) *testCore {
	t.Helper()
	sys := NewSystemState(SMP_MAX_CPUS)
	tc := &testCore{
		sys:     sys,
		lock:    NewInterruptLock(sys),
		barrier: NewSyncBarrier(sys),
		disp:    NewWakeupDispatcher(sys),
	}
	tc.lock.Acquire(nil)
	for id := range n {
		exec := newFakeExec()
		tc.execs = append(tc.execs, exec)
		tc.procs = append(tc.procs, sys.Activate(id, exec, nil))
	}
	tc.lock.Release(nil)
	return tc
}

// arrive takes and drops the interrupt lock as p, which is how a CPU
// reports reaching its stop point.
func (tc *testCore) arrive(p *Processor) {
	tc.lock.Acquire(p)
	tc.lock.Release(p)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitMarked(t *testing.T, f *fakeExec) {
	t.Helper()
	select {
	case <-f.marked:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for interrupt-pending mark")
	}
}

func expectClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func expectOpen(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("%s happened too early", what)
	case <-time.After(20 * time.Millisecond):
	}
}
