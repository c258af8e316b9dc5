package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"
)

// CPUReport totals the activity of one CPU id across all of its runs.
type CPUReport struct {
	ID         int           `json:"id"`
	Executed   uint64        `json:"executed"`
	Interrupts uint64        `json:"interrupts"`
	Syncs      uint64        `json:"syncs"`
	Wakeups    uint64        `json:"wakeups"`
	WaitTime   time.Duration `json:"wait_ns"`
}

func (r CPUReport) add(o CPUReport) CPUReport {
	return CPUReport{
		ID:         o.ID,
		Executed:   r.Executed + o.Executed,
		Interrupts: r.Interrupts + o.Interrupts,
		Syncs:      r.Syncs + o.Syncs,
		Wakeups:    r.Wakeups + o.Wakeups,
		WaitTime:   r.WaitTime + o.WaitTime,
	}
}

func (c *EmuCPU) report() CPUReport {
	r := CPUReport{
		ID:         c.id,
		Executed:   c.executed.Load(),
		Interrupts: c.serviced.Load(),
		Syncs:      c.syncs.Load(),
	}
	if c.proc != nil {
		r.Wakeups = c.proc.WakeSignals()
		r.WaitTime = c.proc.AccumulatedWait()
	}
	return r
}

// RunReport summarises one harness run.
type RunReport struct {
	RunID           string        `json:"run_id"`
	CPUs            int           `json:"cpus"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	IOCompletions   uint64        `json:"io_completions"`
	Broadcasts      uint64        `json:"broadcasts"`
	SharedUpdates   uint64        `json:"shared_updates"`
	ExclusionFaults uint64        `json:"exclusion_faults"`
	Core            SMPStats      `json:"core"`
	PerCPU          []CPUReport   `json:"per_cpu"`
}

// Report collects the counters of the machine. Running CPUs are included
// with their counts so far.
func (m *Machine) Report(elapsed time.Duration) RunReport {
	r := RunReport{
		RunID:           uuid.NewString(),
		CPUs:            m.cfg.CPUs,
		Elapsed:         elapsed,
		IOCompletions:   m.ioCompletions.Load(),
		Broadcasts:      m.broadcasts.Load(),
		SharedUpdates:   m.SharedUpdates(),
		ExclusionFaults: m.exclusionFaults.Load(),
		Core:            m.sys.Stats(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.cfg.CPUs {
		cr := m.retired[id]
		cr.ID = id
		if cpu := m.cpus[id]; cpu != nil {
			cr = cr.add(cpu.report())
		}
		r.PerCPU = append(r.PerCPU, cr)
	}
	return r
}

// WriteJSON writes the report as a single JSON document.
func (r RunReport) WriteJSON(w io.Writer) error {
	data, err := sonnet.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteText writes a human-readable summary.
func (r RunReport) WriteText(w io.Writer) error {
	n := func(v uint64) string { return humanize.Comma(int64(v)) }

	fmt.Fprintf(w, "Run %s: %d CPUs for %s\n", r.RunID, r.CPUs, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  I/O completions:  %s (%s woken LRU)\n", n(r.IOCompletions), n(r.Core.LRUWakeups))
	fmt.Fprintf(w, "  Broadcasts:       %s\n", n(r.Broadcasts))
	fmt.Fprintf(w, "  Lock acquires:    %s by CPUs, %s by services\n", n(r.Core.LockAcquires), n(r.Core.OtherAcquires))
	fmt.Fprintf(w, "  Barriers:         %s (%s waited, %s abandoned)\n", n(r.Core.Barriers), n(r.Core.BarrierWaits), n(r.Core.BarrierAborts))
	fmt.Fprintf(w, "  Shared updates:   %s\n", n(r.SharedUpdates))
	fmt.Fprintf(w, "  Wakeup signals:   %s\n", n(r.Core.Wakeups))
	if r.ExclusionFaults > 0 {
		fmt.Fprintf(w, "  EXCLUSION FAULTS: %s\n", n(r.ExclusionFaults))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-5s %14s %10s %8s %8s %12s\n", "CPU", "executed", "intr", "syncs", "wakes", "waited")
	for _, c := range r.PerCPU {
		fmt.Fprintf(w, "  %-5d %14s %10s %8s %8s %12s\n",
			c.ID, n(c.Executed), n(c.Interrupts), n(c.Syncs), n(c.Wakeups), c.WaitTime.Round(time.Microsecond))
	}
	_, err := fmt.Fprintf(w, "  total executed: %s units\n", humanize.SIWithDigits(float64(r.totalExecuted()), 2, ""))
	return err
}

func (r RunReport) totalExecuted() uint64 {
	var total uint64
	for _, c := range r.PerCPU {
		total += c.Executed
	}
	return total
}
