package main

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/distr1/forge/internal/schedule"
	"github.com/distr1/forge/internal/unitgraph"
)

// isTerminal reports whether stdout is an interactive terminal, the same
// unix.IoctlGetTermios probe internal/batch/batch.go uses to decide
// whether an in-place status line is safe to print.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// statusLine prints one plain line per running/finished/failed unit when
// stdout is a terminal; otherwise it prints only the finished/failed lines.
// No line is ever overwritten in place, so no fixed number of status rows
// is assumed (unlike batch.go's isTerminal-gated display): forge's unit count is
// only known once the graph is built, whereas batch.go's job count is
// fixed up front.
type statusLine struct {
	mu   sync.Mutex
	done int
	total int
}

func newStatusLine(total int) *statusLine {
	return &statusLine{total: total}
}

func (s *statusLine) onStatus(u *unitgraph.Unit, st schedule.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st {
	case schedule.Running:
		if !isTerminal {
			// A non-interactive log (CI, redirected to a file) only gets
			// the terminal events; "now compiling" lines would just be
			// noise nobody can watch scroll by in real time.
			return
		}
		fmt.Fprintf(os.Stderr, "   Compiling %s\n", u.DisplayName())
	case schedule.FinishedOk:
		s.done++
		fmt.Fprintf(os.Stderr, "    Finished %s (%d/%d)\n", u.DisplayName(), s.done, s.total)
	case schedule.FinishedErr:
		s.done++
		fmt.Fprintf(os.Stderr, "      Failed %s\n", u.DisplayName())
	}
}
