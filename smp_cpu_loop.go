package main

import (
	"runtime"
	"sync/atomic"
)

// EmuCPU is the reference execution loop for one emulated CPU. It runs
// abstract work units; the boundary between two units is its safe stop
// point. It takes work from the machine's shared I/O pool and from its own
// broadcast queue, and idles when both are empty.
type EmuCPU struct {
	m    *Machine
	id   int
	proc *Processor

	running  atomic.Bool
	exited   atomic.Bool // loop finished, heading for Deactivate
	pending  atomic.Bool // interrupt pending, serviced at the next boundary
	syncReq  atomic.Bool
	local    atomic.Int64 // broadcast work queued for this CPU only
	executed atomic.Uint64
	serviced atomic.Uint64 // pending interrupts taken
	syncs    atomic.Uint64 // barriers this CPU ran

	sinceSync uint64 // owned by the CPU thread
	scratch   uint64

	done chan struct{}
}

func newEmuCPU(m *Machine, id int) *EmuCPU {
	cpu := &EmuCPU{
		m:    m,
		id:   id,
		done: make(chan struct{}),
	}
	cpu.running.Store(true)
	return cpu
}

// AtSyncPoint is true once the loop has left its last work unit: from
// then on it only ever heads for the lock on its way out. A CPU told to
// stop but still inside step is not at a stop point yet.
func (c *EmuCPU) AtSyncPoint() bool {
	return c.exited.Load()
}

func (c *EmuCPU) MarkInterruptPending() {
	c.pending.Store(true)
}

func (c *EmuCPU) hasWork() bool {
	return !c.running.Load() || c.syncReq.Load() || c.local.Load() > 0 || c.m.pool.Load() > 0
}

// Execute runs the loop on a dedicated OS thread until stopped, then
// removes the CPU from the registry.
func (c *EmuCPU) Execute() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	for c.running.Load() {
		if c.pending.Swap(false) {
			c.serviceInterrupt()
		}
		if c.syncReq.Swap(false) {
			c.sharedUpdate()
			continue
		}
		if !c.step() {
			c.waitForWork()
		}
	}

	c.exited.Store(true)
	c.m.lock.Acquire(c.proc)
	c.m.sys.Deactivate(c.id)
	c.m.lock.Release(c.proc)
}

// step runs one unit of work if any is queued.
func (c *EmuCPU) step() bool {
	if !takeUnit(&c.local) && !takeUnit(&c.m.pool) {
		return false
	}
	for i := range SMP_UNIT_SPIN {
		c.scratch = c.scratch*6364136223846793005 + uint64(i) + 1442695040888963407
	}
	c.executed.Add(1)

	c.sinceSync++
	if every := c.m.cfg.SyncRate; every > 0 && c.sinceSync >= uint64(every) {
		c.sinceSync = 0
		c.sharedUpdate()
	}
	return true
}

func takeUnit(q *atomic.Int64) bool {
	for {
		n := q.Load()
		if n <= 0 {
			return false
		}
		if q.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// serviceInterrupt takes and drops the interrupt lock. Acquiring is what
// lets a waiting barrier count this CPU as arrived.
func (c *EmuCPU) serviceInterrupt() {
	c.m.lock.Acquire(c.proc)
	c.serviced.Add(1)
	c.m.lock.Release(c.proc)
}

// sharedUpdate is a write to machine-wide state that must not race with
// any other CPU's instruction stream.
func (c *EmuCPU) sharedUpdate() {
	c.m.lock.Acquire(c.proc)
	defer c.m.lock.Release(c.proc)

	if err := c.m.synchronize(c.proc); err != nil {
		c.m.log.Debugf("CPU%d skipped shared update: %v", c.id, err)
		return
	}
	c.m.enterCritical()
	c.m.shared++
	c.m.exitCritical()
	c.syncs.Add(1)
}

func (c *EmuCPU) waitForWork() {
	c.m.lock.Acquire(c.proc)
	c.m.disp.Idle(c.proc, c.hasWork)
	c.m.lock.Release(c.proc)
}
