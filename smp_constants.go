package main

import "time"

// Processor limits. CPUMask is 64 bits wide, so SMP_MAX_CPUS cannot grow
// past 64 without widening the mask.
const (
	SMP_MAX_CPUS     = 64
	SMP_DEFAULT_CPUS = 4
)

// Interrupt lock owner sentinels. Any other value is a processor id.
const (
	LOCK_OWNER_NONE  = 0xFFFF
	LOCK_OWNER_OTHER = 0xFFFE
)

// Harness defaults.
const (
	SMP_DEFAULT_DURATION  = 2 * time.Second
	SMP_DEFAULT_IO_RATE   = 2000 // I/O completions per second
	SMP_DEFAULT_BCAST_HZ  = 20   // broadcast interrupts per second
	SMP_DEFAULT_SYNC_RATE = 5000 // work units between barrier requests per CPU
	SMP_UNIT_SPIN         = 64   // busy iterations per emulated work unit

	SMP_STOP_TIMEOUT   = 2 * time.Second
	SMP_STATUS_REFRESH = 100 * time.Millisecond
)
