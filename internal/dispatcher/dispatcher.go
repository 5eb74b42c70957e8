// Package dispatcher implements a monotonic-clock, one-shot timed-callback
// scheduler on top of a shared host event queue: access-control permission
// expiry and durable-client request expiry ride the same dispatcher
// instance rather than each spinning up their own goroutine and timer.
package dispatcher

import (
	"sync"
	"time"

	"ddscore/internal/avltree"
	"ddscore/internal/fibheap"
)

// CheckInterval bounds how long the dispatcher will sleep even when no
// timer is due soon. Expirations are expressed in wall-clock time (most
// are derived from certificate validity windows), while Go's time.Time
// carries a monotonic reading for in-process duration arithmetic; bounding
// the sleep forces a periodic re-check so a wall-clock jump (NTP step, VM
// pause) is still noticed promptly.
const CheckInterval = 5 * time.Minute

// Kind classifies why a callback fired.
type Kind int

const (
	// KindTimeout means the callback's trigger time was reached normally.
	KindTimeout Kind = iota
	// KindDelete means the callback is firing because its entry, the
	// dispatcher, or the process is being torn down before it expired.
	KindDelete
)

func (k Kind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "timeout"
}

// Callback is invoked with the handle it was registered under, its
// (possibly already-passed) trigger time, why it fired, and the arg
// supplied at Add time. Callbacks run with the dispatcher's lock dropped.
type Callback func(handle Handle, triggerTime time.Time, kind Kind, arg any)

// Handle identifies a registered callback. Handles start at 1, increase
// monotonically and are never reused within a Dispatcher's lifetime, so the
// zero Handle never names a callback.
type Handle uint64

type event struct {
	handle      Handle
	triggerTime time.Time
	cb          Callback
	arg         any
	avlNode     *avltree.Node[Handle, *event]
	heapHandle  fibheap.Handle[time.Time, *event]
}

// Dispatcher schedules callbacks to fire once at or after a requested
// trigger time. Safe for concurrent use.
type Dispatcher struct {
	mu         sync.Mutex
	hostq      HostQueue
	enabled    bool
	nextHandle Handle
	byHandle   *avltree.Tree[Handle, *event]
	heap       *fibheap.Heap[time.Time, *event]
}

func cmpHandle(a, b Handle) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func timeLess(a, b time.Time) bool { return a.Before(b) }

// New creates a Dispatcher riding the given host event queue. The
// dispatcher starts disabled: no callback fires until Enable is called.
func New(hostq HostQueue) *Dispatcher {
	return &Dispatcher{
		hostq:    hostq,
		byHandle: avltree.New[Handle, *event](cmpHandle),
		heap:     fibheap.New[time.Time, *event](timeLess),
	}
}

// Enable arms the dispatcher against the host queue. It reports true only
// on the call that transitions the dispatcher from disabled to enabled.
func (d *Dispatcher) Enable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		return false
	}
	d.enabled = true
	d.armLocked()
	return true
}

// Disable clears the dispatcher's pending host-queue wakeup. It reports
// true only on the call that transitions the dispatcher from enabled to
// disabled. The host-queue cancel happens with the dispatcher lock
// dropped, so it never blocks behind a callback currently firing.
func (d *Dispatcher) Disable() bool {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return false
	}
	d.enabled = false
	d.mu.Unlock()
	d.hostq.Cancel()
	return true
}

// Add registers cb to fire once at triggerTime (immediately, if
// triggerTime is already in the past) and returns its handle.
func (d *Dispatcher) Add(cb Callback, triggerTime time.Time, arg any) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextHandle++
	h := d.nextHandle
	ev := &event{handle: h, triggerTime: triggerTime, cb: cb, arg: arg}
	ev.avlNode = d.byHandle.Insert(h, ev)
	ev.heapHandle = d.heap.Insert(triggerTime, ev)

	if d.enabled {
		d.armLocked()
	}
	return h
}

// Remove cancels the callback registered under handle, invoking it once
// with kind=delete. Removing a handle that already fired (or was never
// valid) is a silent no-op.
func (d *Dispatcher) Remove(handle Handle) {
	d.mu.Lock()
	node, ok := d.byHandle.Lookup(handle)
	if !ok {
		d.mu.Unlock()
		return
	}
	ev := node.Value
	d.byHandle.Delete(node)
	d.heap.Delete(ev.heapHandle)
	if d.enabled {
		d.armLocked()
	}
	d.mu.Unlock()

	ev.cb(ev.handle, ev.triggerTime, KindDelete, ev.arg)
}

// Free disables the dispatcher and then fires every remaining callback
// with kind=delete, in unspecified order. The Dispatcher must not be used
// after Free returns.
func (d *Dispatcher) Free() {
	d.Disable()

	d.mu.Lock()
	var remaining []*event
	d.byHandle.Walk(func(n *avltree.Node[Handle, *event]) {
		remaining = append(remaining, n.Value)
	})
	d.byHandle = avltree.New[Handle, *event](cmpHandle)
	d.heap = fibheap.New[time.Time, *event](timeLess)
	d.mu.Unlock()

	for _, ev := range remaining {
		ev.cb(ev.handle, ev.triggerTime, KindDelete, ev.arg)
	}
}

// armLocked schedules (or cancels) the host-queue wakeup to match the
// current heap head. Must be called with d.mu held.
func (d *Dispatcher) armLocked() {
	_, head, ok := d.heap.Min()
	if !ok {
		d.hostq.Cancel()
		return
	}
	wallnow := time.Now()
	d.hostq.Schedule(tsched(head.triggerTime, wallnow), d.onFire)
}

// tsched computes the host-queue wakeup time for a head whose trigger time
// is head, given the current wall-clock/monotonic reading wallnow: fire
// immediately if already due, otherwise sleep for the lesser of the time
// remaining and CheckInterval.
func tsched(head time.Time, wallnow time.Time) time.Time {
	if !head.After(wallnow) {
		return wallnow
	}
	remaining := head.Sub(wallnow)
	if remaining > CheckInterval {
		remaining = CheckInterval
	}
	return wallnow.Add(remaining)
}

// onFire drains every heap entry whose trigger time has passed, invokes
// each with kind=timeout outside the lock, and rearms for whatever remains.
func (d *Dispatcher) onFire() {
	d.mu.Lock()
	wallnow := time.Now()
	var fired []*event
	for {
		_, head, ok := d.heap.Min()
		if !ok || head.triggerTime.After(wallnow) {
			break
		}
		d.heap.ExtractMin()
		if node, ok := d.byHandle.Lookup(head.handle); ok {
			d.byHandle.Delete(node)
		}
		fired = append(fired, head)
	}
	if d.enabled {
		d.armLocked()
	}
	d.mu.Unlock()

	for _, ev := range fired {
		ev.cb(ev.handle, ev.triggerTime, KindTimeout, ev.arg)
	}
}
