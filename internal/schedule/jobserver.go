package schedule

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// TokenPool bounds the number of units the scheduler may run concurrently
// (spec §4.H's "job-token semaphore"). Acquire blocks until a token is
// available or ctx is done; Release returns one.
type TokenPool interface {
	Acquire(ctx context.Context) error
	Release()
}

// semaphorePool is the default TokenPool, backed by an in-process weighted
// semaphore sized to the user-configured jobs count.
type semaphorePool struct {
	sem *semaphore.Weighted
}

// NewSemaphorePool returns a TokenPool bounding concurrency to jobs, the
// scheduler's default when no external jobserver is inherited.
func NewSemaphorePool(jobs int) TokenPool {
	if jobs < 1 {
		jobs = 1
	}
	return &semaphorePool{sem: semaphore.NewWeighted(int64(jobs))}
}

func (p *semaphorePool) Acquire(ctx context.Context) error { return p.sem.Acquire(ctx, 1) }
func (p *semaphorePool) Release()                          { p.sem.Release(1) }

// jobserverPool wraps an externally provided jobserver (spec §4.H: "the
// scheduler additionally accepts an externally provided semaphore").
// Acquiring a token reads one byte from the read end of the pipe the
// jobserver hands out tokens through; releasing writes a '+' byte back
// (the byte read on Acquire is not kept), following make(1)'s pipe
// protocol.
type jobserverPool struct {
	fdRead  fder
	fdWrite fder
}

// fder abstracts the read/write-one-byte operations so tests can fake a
// jobserver without opening real file descriptors.
type fder interface {
	ReadByte() (byte, error)
	WriteByte(byte) error
}

func (p *jobserverPool) Acquire(ctx context.Context) error {
	type result struct {
		b   byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := p.fdRead.ReadByte()
		done <- result{b, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return xerrors.Errorf("schedule: jobserver read: %w", r.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *jobserverPool) Release() {
	// Best effort: a failed write leaks one token for the lifetime of the
	// process, which only shrinks the effective pool size, never corrupts
	// it.
	_ = p.fdWrite.WriteByte('+')
}

// fdFile adapts an *os.File opened over an inherited descriptor to fder.
type fdFile struct {
	r *bufio.Reader
	f *os.File
}

func (f *fdFile) ReadByte() (byte, error)  { return f.r.ReadByte() }
func (f *fdFile) WriteByte(b byte) error   { _, err := f.f.Write([]byte{b}); return err }

// NewJobserverPool wraps the inherited (read, write) jobserver descriptor
// pair as a TokenPool, so the scheduler draws its concurrency budget from
// the external jobserver instead of a process-local semaphore (spec §4.H).
func NewJobserverPool(readFD, writeFD int) TokenPool {
	rf := os.NewFile(uintptr(readFD), "jobserver-r")
	wf := os.NewFile(uintptr(writeFD), "jobserver-w")
	return &jobserverPool{
		fdRead:  &fdFile{r: bufio.NewReader(rf), f: rf},
		fdWrite: &fdFile{f: wf},
	}
}

// ParseJobserverAuth extracts the "read,write" file descriptor pair from a
// MAKEFLAGS-style string, recognizing both the modern "--jobserver-auth="
// and legacy "--jobserver-fds=" spellings GNU make and cargo both emit
// (spec §4.H, §6's CARGO_MAKEFLAGS/MAKEFLAGS inheritance).
func ParseJobserverAuth(flags string) (r, w int, ok bool) {
	for _, field := range strings.Fields(flags) {
		var rest string
		switch {
		case strings.HasPrefix(field, "--jobserver-auth="):
			rest = strings.TrimPrefix(field, "--jobserver-auth=")
		case strings.HasPrefix(field, "--jobserver-fds="):
			rest = strings.TrimPrefix(field, "--jobserver-fds=")
		default:
			continue
		}
		// auth may be "fifo:/path" (named pipe) or "R,W" (anonymous pipe
		// fd pair); only the latter is representable as bare fd numbers.
		if strings.HasPrefix(rest, "fifo:") {
			continue
		}
		parts := strings.SplitN(rest, ",", 2)
		if len(parts) != 2 {
			continue
		}
		rn, err1 := strconv.Atoi(parts[0])
		wn, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		return rn, wn, true
	}
	return 0, 0, false
}
