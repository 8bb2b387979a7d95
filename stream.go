package tabexport

import (
	"io"
	"math"
	"runtime"
	"runtime/debug"
)

// Rows written between flushes by the streaming encoders.
const (
	csvBatchSize    = 500
	recordBatchSize = 100
)

// DefaultMemoryThreshold is the fraction of the memory limit above which a
// [MemoryGuard] asks the runtime to collect garbage.
const DefaultMemoryThreshold = 0.8

// MemoryGuard watches heap usage against a limit. It is a best-effort
// mitigation for long streams, not a hard cap.
type MemoryGuard struct {
	// Limit in bytes. Zero uses the runtime soft memory limit.
	Limit uint64
	// Threshold is the usage fraction that counts as critical. Zero means
	// [DefaultMemoryThreshold].
	Threshold float64

	readStats func(*runtime.MemStats)
	collect   func()
}

func (g *MemoryGuard) limit() uint64 {
	if g.Limit > 0 {
		return g.Limit
	}
	l := debug.SetMemoryLimit(-1)
	if l <= 0 || l == math.MaxInt64 {
		return 0
	}
	return uint64(l)
}

// Critical reports whether heap usage exceeds the threshold of the limit.
// With no limit configured it always reports false.
func (g *MemoryGuard) Critical() bool {
	limit := g.limit()
	if limit == 0 {
		return false
	}
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultMemoryThreshold
	}
	var ms runtime.MemStats
	if g.readStats != nil {
		g.readStats(&ms)
	} else {
		runtime.ReadMemStats(&ms)
	}
	return float64(ms.HeapAlloc)/float64(limit) > threshold
}

// Check collects garbage when usage is critical and reports whether it did.
func (g *MemoryGuard) Check() bool {
	if !g.Critical() {
		return false
	}
	if g.collect != nil {
		g.collect()
	} else {
		runtime.GC()
	}
	return true
}

// Sink wraps a response writer for streaming encoders: Flush pushes buffered
// bytes to the client and consults the memory guard.
type Sink struct {
	w       io.Writer
	guard   *MemoryGuard
	written int64
	flushes int
}

// NewSink returns a Sink writing to w. guard may be nil.
func NewSink(w io.Writer, guard *MemoryGuard) *Sink {
	return &Sink{w: w, guard: guard}
}

func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (s *Sink) Written() int64 { return s.written }

// Flushes returns how many chunk boundaries have been flushed.
func (s *Sink) Flushes() int { return s.flushes }

// Flush flushes the underlying writer and runs the memory guard.
func (s *Sink) Flush() error {
	s.flushes++
	if err := flushWriter(s.w); err != nil {
		return err
	}
	if s.guard != nil {
		s.guard.Check()
	}
	return nil
}

// endChunk is called by streaming encoders after each batch of rows.
func endChunk(w io.Writer) error {
	return flushWriter(w)
}

func flushWriter(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}
