// smp_script.go - Lua scenario scripts driving a running machine

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Scenario is a Lua script that drives a machine through the "smp" table:
//
//	smp.cpus()            number of CPUs configured
//	smp.io([n])           complete n I/O requests, returns last CPU woken or -1
//	smp.broadcast()       broadcast interrupt, returns CPUs signalled
//	smp.sync(id)          ask CPU id to run a barrier
//	smp.start_cpu(id)     start CPU id
//	smp.stop_cpu(id)      stop CPU id
//	smp.active()          count of active CPUs and a list of their ids
//	smp.stats()           table of core counters
//	smp.sleep(ms)         pause the script
//	smp.log(msg)          write msg to the log at info level
type Scenario struct {
	Name   string
	Source string
}

// LoadScenario reads a scenario from disk.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return &Scenario{Name: filepath.Base(path), Source: string(data)}, nil
}

// Run executes the scenario against m. A scenario cut short because ctx
// ended is not an error.
func (sc *Scenario) Run(ctx context.Context, m *Machine) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	mod := L.NewTable()
	L.SetFuncs(mod, scenarioFuncs(ctx, m))
	L.SetGlobal("smp", mod)

	if err := L.DoString(sc.Source); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return nil
}

func scenarioFuncs(ctx context.Context, m *Machine) map[string]lua.LGFunction {
	cpuArg := func(L *lua.LState) int {
		id := L.CheckInt(1)
		if id < 0 || id >= m.cfg.CPUs {
			L.ArgError(1, fmt.Sprintf("CPU id must be 0..%d", m.cfg.CPUs-1))
		}
		return id
	}
	raiseOn := func(L *lua.LState, err error) {
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
	}

	return map[string]lua.LGFunction{
		"cpus": func(L *lua.LState) int {
			L.Push(lua.LNumber(m.cfg.CPUs))
			return 1
		},
		"io": func(L *lua.LState) int {
			n := L.OptInt(1, 1)
			if n < 0 {
				L.ArgError(1, "count must not be negative")
			}
			woken := -1
			for range n {
				woken = m.CompleteIO()
			}
			L.Push(lua.LNumber(woken))
			return 1
		},
		"broadcast": func(L *lua.LState) int {
			L.Push(lua.LNumber(m.Broadcast()))
			return 1
		},
		"sync": func(L *lua.LState) int {
			raiseOn(L, m.RequestSync(cpuArg(L)))
			return 0
		},
		"start_cpu": func(L *lua.LState) int {
			raiseOn(L, m.StartCPU(cpuArg(L)))
			return 0
		},
		"stop_cpu": func(L *lua.LState) int {
			raiseOn(L, m.StopCPU(cpuArg(L)))
			return 0
		},
		"active": func(L *lua.LState) int {
			snap := m.sys.Snapshot()
			ids := L.NewTable()
			for id := range snap.Active.IDs() {
				ids.Append(lua.LNumber(id))
			}
			L.Push(lua.LNumber(snap.Active.Count()))
			L.Push(ids)
			return 2
		},
		"stats": func(L *lua.LState) int {
			st := m.sys.Stats()
			t := L.NewTable()
			t.RawSetString("lock_acquires", lua.LNumber(st.LockAcquires))
			t.RawSetString("other_acquires", lua.LNumber(st.OtherAcquires))
			t.RawSetString("barriers", lua.LNumber(st.Barriers))
			t.RawSetString("barrier_waits", lua.LNumber(st.BarrierWaits))
			t.RawSetString("wakeups", lua.LNumber(st.Wakeups))
			t.RawSetString("lru_wakeups", lua.LNumber(st.LRUWakeups))
			t.RawSetString("io_completions", lua.LNumber(m.ioCompletions.Load()))
			t.RawSetString("broadcasts", lua.LNumber(m.broadcasts.Load()))
			L.Push(t)
			return 1
		},
		"sleep": func(L *lua.LState) int {
			ms := L.CheckInt(1)
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(ms) * time.Millisecond):
			}
			return 0
		},
		"log": func(L *lua.LState) int {
			m.log.Infof("script: %s", L.CheckString(1))
			return 0
		},
	}
}
