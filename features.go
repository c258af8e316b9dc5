package main

import (
	"fmt"
	"runtime"
	"sort"
)

// Version is overridden at link time with -ldflags "-X main.Version=...".
var Version = "dev"

// compiledFeatures lists the optional subsystems built into this binary.
var compiledFeatures = []string{
	"scenario:lua",
	"report:json",
	"watch:fsnotify",
}

func printFeatures() {
	fmt.Printf("IntuitionSMP %s\n", Version)
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Max CPUs:   %d (host threads: %d)\n", SMP_MAX_CPUS, runtime.NumCPU())
	fmt.Println()
	fmt.Println("Compiled features:")

	sort.Strings(compiledFeatures)
	for _, f := range compiledFeatures {
		fmt.Printf("  %s\n", f)
	}
	if len(compiledFeatures) == 0 {
		fmt.Println("  (none)")
	}
}
