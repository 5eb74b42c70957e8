package durable

import (
	"sync"
	"time"

	"ddscore/internal/coreerr"
)

// DefaultQuorum is the minimum count of matched durable-support
// subscribers per partition a durable writer requires before it may
// publish, absent an explicit override.
const DefaultQuorum = 1

// pollInterval is how often WaitForQuorum rechecks while blocked; the only
// documented busy-wait in the system.
const pollInterval = 10 * time.Millisecond

// WriterQuorum tracks, for one durable writer, the matched durable-support
// subscriber count per partition and whether every partition has reached
// the configured quorum.
type WriterQuorum struct {
	mu      sync.Mutex
	quorum  int
	matched map[string]int // partition -> matched durable-support subscriber count
	reached bool
}

// NewWriterQuorum creates a tracker requiring quorum matches per partition
// (DefaultQuorum if quorum <= 0).
func NewWriterQuorum(quorum int) *WriterQuorum {
	if quorum <= 0 {
		quorum = DefaultQuorum
	}
	return &WriterQuorum{quorum: quorum, matched: make(map[string]int)}
}

// OnMatch records a newly matched durable-support subscriber in partition.
func (w *WriterQuorum) OnMatch(partition string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.matched[partition]++
	w.recompute()
}

// OnUnmatch records a departed durable-support subscriber in partition.
func (w *WriterQuorum) OnUnmatch(partition string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.matched[partition] > 0 {
		w.matched[partition]--
	}
	w.recompute()
}

// Partitions registers the writer's partition set up front, so a writer
// with zero matches anywhere still fails quorum rather than vacuously
// passing over an empty map.
func (w *WriterQuorum) Partitions(partitions []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range partitions {
		if _, ok := w.matched[p]; !ok {
			w.matched[p] = 0
		}
	}
	w.recompute()
}

func (w *WriterQuorum) recompute() {
	if len(w.matched) == 0 {
		w.reached = false
		return
	}
	for _, n := range w.matched {
		if n < w.quorum {
			w.reached = false
			return
		}
	}
	w.reached = true
}

// Reached reports whether every partition currently meets quorum.
func (w *WriterQuorum) Reached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reached
}

// WaitForQuorum polls Reached at pollInterval until it returns true or
// maxBlockingTime elapses, at which point it returns CodeQuorumTimeout
// ("precondition-not-met").
func (w *WriterQuorum) WaitForQuorum(maxBlockingTime time.Duration) error {
	if w.Reached() {
		return nil
	}
	deadline := time.Now().Add(maxBlockingTime)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		<-ticker.C
		if w.Reached() {
			return nil
		}
		if time.Now().After(deadline) {
			return coreerr.New(coreerr.CodeQuorumTimeout, "durable writer blocked past max-blocking-time: precondition not met")
		}
	}
}
