package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// StatusLine redraws a one-line machine summary in place while a run is in
// progress. It only draws when out is a terminal.
type StatusLine struct {
	out   io.Writer
	fd    int
	tty   bool
	width int
}

// NewStatusLine creates a status line for f (normally os.Stdout).
func NewStatusLine(f *os.File) *StatusLine {
	fd := int(f.Fd())
	s := &StatusLine{out: f, fd: fd, tty: term.IsTerminal(fd), width: 80}
	if s.tty {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			s.width = w
		}
	}
	return s
}

// Enabled reports whether output goes to a terminal.
func (s *StatusLine) Enabled() bool { return s.tty }

// Run redraws the status every SMP_STATUS_REFRESH until ctx ends, then
// clears the line. Usable as a Machine.Run service.
func (s *StatusLine) Run(ctx context.Context, m *Machine) error {
	if !s.tty {
		return nil
	}
	t := time.NewTicker(SMP_STATUS_REFRESH)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(s.out, "\r%s\r", strings.Repeat(" ", s.width-1))
			return nil
		case <-t.C:
			s.draw(m)
		}
	}
}

func (s *StatusLine) draw(m *Machine) {
	snap := m.sys.Snapshot()
	line := formatStatus(snap, m.ioCompletions.Load(), m.broadcasts.Load())
	if len(line) > s.width-1 {
		line = line[:s.width-1]
	}
	fmt.Fprintf(s.out, "\r%-*s", s.width-1, line)
}

func formatStatus(snap SMPSnapshot, ioDone, bcast uint64) string {
	state := "run"
	if snap.Syncing {
		state = "sync " + snap.Pending.String()
	}
	return fmt.Sprintf("active %s idle %s owner %s | %s | io %d bcast %d barriers %d",
		snap.Active, snap.Active&snap.Blocked, ownerName(snap.Owner), state,
		ioDone, bcast, snap.Counters.Barriers)
}
