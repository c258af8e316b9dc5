// smp_machine.go - Emulated CPU lifecycle, I/O completion and broadcast injection

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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Machine owns a SystemState and the emulated CPUs running against it. It
// plays the external roles around the sync core: it starts and stops CPU
// threads, and acts as the I/O and timer completion handler.
type Machine struct {
	cfg     MachineConfig
	sys     *SystemState
	lock    *InterruptLock
	barrier *SyncBarrier
	disp    *WakeupDispatcher
	log     *Logger

	mu      sync.Mutex // guards cpus and retired
	cpus    [SMP_MAX_CPUS]*EmuCPU
	retired [SMP_MAX_CPUS]CPUReport

	pool          atomic.Int64 // I/O work any CPU may take
	ioCompletions atomic.Uint64
	broadcasts    atomic.Uint64

	critical        atomic.Int32
	exclusionFaults atomic.Uint64
	shared          uint64 // guarded by the interrupt lock
}

// NewMachine creates a machine with its own sync core instance.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sys := NewSystemState(cfg.CPUs)
	return &Machine{
		cfg:     cfg,
		sys:     sys,
		lock:    NewInterruptLock(sys),
		barrier: NewSyncBarrier(sys),
		disp:    NewWakeupDispatcher(sys),
		log:     GetLogger(),
	}, nil
}

func (m *Machine) Config() MachineConfig { return m.cfg }
func (m *Machine) System() *SystemState { return m.sys }

// StartCPU activates CPU id and starts its execution thread.
func (m *Machine) StartCPU(id int) error {
	if id < 0 || id >= m.cfg.CPUs {
		return fmt.Errorf("CPU%d outside 0..%d", id, m.cfg.CPUs-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cpus[id] != nil {
		return fmt.Errorf("CPU%d already running", id)
	}

	cpu := newEmuCPU(m, id)
	m.lock.Acquire(nil)
	cpu.proc = m.sys.Activate(id, cpu, nil)
	m.lock.Release(nil)
	m.cpus[id] = cpu

	go cpu.Execute()
	m.log.Infof("CPU%d started", id)
	return nil
}

// StopCPU stops CPU id and waits for its thread to leave the registry.
func (m *Machine) StopCPU(id int) error {
	if id < 0 || id >= m.cfg.CPUs {
		return fmt.Errorf("CPU%d outside 0..%d", id, m.cfg.CPUs-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cpus[id] == nil {
		return fmt.Errorf("CPU%d not running", id)
	}
	return m.stopLocked(id)
}

func (m *Machine) stopLocked(id int) error {
	cpu := m.cpus[id]
	cpu.running.Store(false)

	m.lock.Acquire(nil)
	m.disp.WakeOne(cpu.proc)
	m.lock.Release(nil)

	select {
	case <-cpu.done:
	case <-time.After(SMP_STOP_TIMEOUT):
		return fmt.Errorf("CPU%d did not stop within %v", id, SMP_STOP_TIMEOUT)
	}

	m.retired[id] = m.retired[id].add(cpu.report())
	m.cpus[id] = nil
	m.log.Infof("CPU%d stopped", id)
	return nil
}

// StopAll stops every running CPU. Called during shutdown.
func (m *Machine) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id := range m.cfg.CPUs {
		if m.cpus[id] == nil {
			continue
		}
		if err := m.stopLocked(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CompleteIO queues one unit of I/O work and wakes the idle CPU that has
// waited longest. Returns the id woken, or -1 when no CPU was idle.
func (m *Machine) CompleteIO() int {
	m.lock.Acquire(nil)
	defer m.lock.Release(nil)

	m.pool.Add(1)
	m.ioCompletions.Add(1)
	if p := m.disp.WakeLRU(m.sys.IdleMaskLocked()); p != nil {
		return p.id
	}
	return -1
}

// Broadcast queues one unit of work on every active CPU and wakes them
// all. Returns the number of CPUs signalled.
func (m *Machine) Broadcast() int {
	m.lock.Acquire(nil)
	defer m.lock.Release(nil)

	active := m.sys.ActiveMaskLocked()
	for id := range active.IDs() {
		if cpu, ok := m.sys.Processor(id).exec.(*EmuCPU); ok {
			cpu.local.Add(1)
		}
	}
	m.broadcasts.Add(1)
	return m.disp.WakeAll(active)
}

// RequestSync asks CPU id to run a barrier and update shared state at its
// next boundary.
func (m *Machine) RequestSync(id int) error {
	if id < 0 || id >= m.cfg.CPUs {
		return fmt.Errorf("CPU%d outside 0..%d", id, m.cfg.CPUs-1)
	}
	m.mu.Lock()
	cpu := m.cpus[id]
	m.mu.Unlock()
	if cpu == nil {
		return fmt.Errorf("CPU%d not running", id)
	}

	cpu.syncReq.Store(true)
	m.lock.Acquire(nil)
	m.disp.WakeOne(cpu.proc)
	m.lock.Release(nil)
	return nil
}

// synchronize runs a barrier for p, bounded by SyncTimeout when set.
// The caller holds the interrupt lock as p.
func (m *Machine) synchronize(p *Processor) error {
	if m.cfg.SyncTimeout <= 0 {
		m.barrier.Synchronize(p)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SyncTimeout)
	defer cancel()
	return m.barrier.SynchronizeContext(ctx, p)
}

func (m *Machine) enterCritical() {
	if m.critical.Add(1) != 1 {
		m.exclusionFaults.Add(1)
	}
}

func (m *Machine) exitCritical() {
	m.critical.Add(-1)
}

// ExclusionFaults counts times two threads were inside a lock-protected
// section together. Anything but zero is a bug in the interrupt lock.
func (m *Machine) ExclusionFaults() uint64 {
	return m.exclusionFaults.Load()
}

// SharedUpdates returns how many barrier-protected updates have completed.
func (m *Machine) SharedUpdates() uint64 {
	m.lock.Acquire(nil)
	defer m.lock.Release(nil)
	return m.shared
}

// Run starts every CPU, drives I/O completions and broadcasts at the
// configured rates, and runs any extra services alongside until ctx ends
// or the configured duration passes. All CPUs are stopped before return.
func (m *Machine) Run(ctx context.Context, services ...func(context.Context) error) error {
	if m.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Duration)
		defer cancel()
	}

	for id := range m.cfg.CPUs {
		if err := m.StartCPU(id); err != nil {
			_ = m.StopAll()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.IORate > 0 {
		every := time.Second / time.Duration(m.cfg.IORate)
		g.Go(func() error { return tickUntilDone(gctx, every, func() { m.CompleteIO() }) })
	}
	if m.cfg.BroadcastHz > 0 {
		every := time.Second / time.Duration(m.cfg.BroadcastHz)
		g.Go(func() error { return tickUntilDone(gctx, every, func() { m.Broadcast() }) })
	}
	g.Go(func() error { return m.watchExclusion(gctx) })
	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}

	err := g.Wait()
	if stopErr := m.StopAll(); err == nil {
		err = stopErr
	}
	return err
}

func tickUntilDone(ctx context.Context, every time.Duration, fn func()) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

func (m *Machine) watchExclusion(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := m.exclusionFaults.Load(); n > 0 {
				return fmt.Errorf("interrupt lock exclusion violated %d times", n)
			}
		}
	}
}

// Reset stops all CPUs and clears the machine and core counters.
func (m *Machine) Reset() error {
	err := m.StopAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired = [SMP_MAX_CPUS]CPUReport{}
	m.pool.Store(0)
	m.ioCompletions.Store(0)
	m.broadcasts.Store(0)
	m.exclusionFaults.Store(0)
	m.lock.Acquire(nil)
	m.shared = 0
	m.lock.Release(nil)
	m.sys.ResetStats()
	return err
}
