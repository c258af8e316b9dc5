package main

import (
	"errors"
	"fmt"
	"time"
)

// MachineConfig holds the harness settings, normally filled from flags.
type MachineConfig struct {
	CPUs        int           // emulated CPUs started by Run
	Duration    time.Duration // 0 runs until the context ends
	IORate      int           // I/O completions per second, 0 disables
	BroadcastHz int           // broadcast interrupts per second, 0 disables
	SyncRate    int           // work units between barrier requests, 0 disables
	SyncTimeout time.Duration // bound on CPU barrier waits, 0 waits forever
}

func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		CPUs:        SMP_DEFAULT_CPUS,
		Duration:    SMP_DEFAULT_DURATION,
		IORate:      SMP_DEFAULT_IO_RATE,
		BroadcastHz: SMP_DEFAULT_BCAST_HZ,
		SyncRate:    SMP_DEFAULT_SYNC_RATE,
	}
}

func (c MachineConfig) Validate() error {
	var errs []error
	if c.CPUs < 1 || c.CPUs > SMP_MAX_CPUS {
		errs = append(errs, fmt.Errorf("cpus must be 1..%d, got %d", SMP_MAX_CPUS, c.CPUs))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %v", c.Duration))
	}
	if c.IORate < 0 || c.IORate > 1_000_000 {
		errs = append(errs, fmt.Errorf("io-rate must be 0..1000000, got %d", c.IORate))
	}
	if c.BroadcastHz < 0 || c.BroadcastHz > 10_000 {
		errs = append(errs, fmt.Errorf("broadcast rate must be 0..10000, got %d", c.BroadcastHz))
	}
	if c.SyncRate < 0 {
		errs = append(errs, fmt.Errorf("sync-rate must not be negative, got %d", c.SyncRate))
	}
	if c.SyncTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync-timeout must not be negative, got %v", c.SyncTimeout))
	}
	return errors.Join(errs...)
}
