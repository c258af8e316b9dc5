// main.go - Main entry point for the IntuitionSMP processor synchronization harness

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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

func boilerPlate() {
	fmt.Println("\n\033[38;2;255;20;147mIntuitionSMP\033[0m - processor synchronization core for multi-CPU emulation")
	fmt.Println("(c) 2024 - 2026 Zayn Otley")
	fmt.Println("https://github.com/IntuitionAmiga/IntuitionEngine")
	fmt.Println("License: GPLv3 or later")
	fmt.Println()
}

type sessionOptions struct {
	script  string
	jsonOut bool
	out     io.Writer
	status  bool
}

func main() {
	cfg := DefaultMachineConfig()
	var (
		opts         sessionOptions
		watch        bool
		verbose      bool
		quiet        bool
		showFeatures bool
	)

	flag.IntVar(&cfg.CPUs, "cpus", cfg.CPUs, fmt.Sprintf("Number of emulated CPUs (1-%d)", SMP_MAX_CPUS))
	flag.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run time (0 = until interrupted or the script ends)")
	flag.IntVar(&cfg.IORate, "io-rate", cfg.IORate, "I/O completions per second (0 = off)")
	flag.IntVar(&cfg.BroadcastHz, "bcast-hz", cfg.BroadcastHz, "Broadcast interrupts per second (0 = off)")
	flag.IntVar(&cfg.SyncRate, "sync-rate", cfg.SyncRate, "Work units between barrier requests per CPU (0 = off)")
	flag.DurationVar(&cfg.SyncTimeout, "sync-timeout", cfg.SyncTimeout, "Abandon a barrier after this long (0 = wait forever)")
	flag.StringVar(&opts.script, "script", "", "Lua scenario script")
	flag.BoolVar(&opts.jsonOut, "json", false, "Write the run report as JSON")
	flag.BoolVar(&watch, "watch", false, "Rerun the scenario script whenever it changes")
	flag.BoolVar(&verbose, "v", false, "Verbose (debug) logging")
	flag.BoolVar(&quiet, "q", false, "Only log errors")
	flag.BoolVar(&showFeatures, "features", false, "Print build information and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: smp [options]\n\nRuns emulated CPUs against the interrupt lock, sync barrier and wakeup dispatcher.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  smp -cpus 8 -duration 5s\n")
		fmt.Fprintf(os.Stderr, "  smp -cpus 4 -duration 0 -script scenarios/storm.lua\n")
		fmt.Fprintf(os.Stderr, "  smp -script scenarios/storm.lua -watch -json\n")
	}
	flag.Parse()

	if showFeatures {
		printFeatures()
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "smp: %v\n", err)
		os.Exit(2)
	}

	level := LogLevelWarn
	switch {
	case verbose:
		level = LogLevelDebug
	case quiet:
		level = LogLevelError
	}
	SetLogger(NewLogger(os.Stderr, level, "[SMP] "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.out = os.Stdout
	opts.status = !opts.jsonOut
	if !opts.jsonOut {
		boilerPlate()
	}

	var err error
	if watch {
		err = watchScenario(ctx, cfg, opts)
	} else {
		err = runSession(ctx, cfg, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "smp: %v\n", err)
		os.Exit(1)
	}
}

// runSession runs one machine to completion and writes its report.
func runSession(ctx context.Context, cfg MachineConfig, opts sessionOptions) error {
	m, err := NewMachine(cfg)
	if err != nil {
		return err
	}

	var services []func(context.Context) error
	if opts.script != "" {
		sc, err := LoadScenario(opts.script)
		if err != nil {
			return err
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		services = append(services, func(c context.Context) error {
			defer cancel()
			return sc.Run(c, m)
		})
	}
	if opts.status {
		if status := NewStatusLine(os.Stdout); status.Enabled() {
			services = append(services, func(c context.Context) error { return status.Run(c, m) })
		}
	}

	start := time.Now()
	runErr := m.Run(ctx, services...)
	report := m.Report(time.Since(start))

	var writeErr error
	if opts.jsonOut {
		writeErr = report.WriteJSON(opts.out)
	} else {
		writeErr = report.WriteText(opts.out)
	}
	return errors.Join(runErr, writeErr)
}

// watchScenario reruns the scenario every time its file is written,
// cancelling a run still in progress.
func watchScenario(ctx context.Context, cfg MachineConfig, opts sessionOptions) error {
	if opts.script == "" {
		return errors.New("-watch requires -script")
	}
	return watchFile(ctx, opts.script, func(c context.Context) error {
		return runSession(c, cfg, opts)
	})
}

// watchFile calls run and starts it again every time path is written or
// replaced. A run still in progress is cancelled and waited for first.
// Returns nil once ctx ends.
func watchFile(ctx context.Context, path string, run func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- run(runCtx) }()

		changed := false
		for !changed {
			select {
			case <-ctx.Done():
				cancel()
				if done != nil {
					<-done
				}
				return nil
			case err := <-done:
				if err != nil {
					fmt.Fprintf(os.Stderr, "smp: %v\n", err)
				}
				done = nil
			case event, ok := <-watcher.Events:
				if !ok {
					cancel()
					if done != nil {
						<-done
					}
					return nil
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				changed = true
			case err, ok := <-watcher.Errors:
				if ok {
					GetLogger().Warnf("watch: %v", err)
				}
			}
		}

		cancel()
		if done != nil {
			<-done
		}
		fmt.Fprintf(os.Stderr, "smp: %s changed, restarting\n", target)
	}
}
