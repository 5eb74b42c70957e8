package durable

import (
	"bytes"
	"sync"
	"time"

	"ddscore/internal/avltree"
	"ddscore/internal/dispatcher"
	"ddscore/internal/entityid"
)

func cmpGUID(a, b entityid.GUID) int {
	return bytes.Compare(a[:], b[:])
}

// DeliveryRequest is one outstanding historical-data request: the reader it
// was made on behalf of, and the dispatcher handle that will dispose it on
// expiry.
type DeliveryRequest struct {
	ReaderGUID entityid.GUID
	ClientID   uint64
	ExpiresAt  time.Time
	handle     dispatcher.Handle
}

// Requests indexes outstanding delivery requests by reader GUID and
// schedules their expiry through the shared timed-callback dispatcher,
// matching the coordinator's "priority queue of delivery requests ordered
// by expiry" plus its "AVL index from reader-GUID to delivery request".
type Requests struct {
	mu   sync.Mutex
	tree *avltree.Tree[entityid.GUID, *DeliveryRequest]
	disp *dispatcher.Dispatcher
}

// NewRequests creates an empty request index driven by disp.
func NewRequests(disp *dispatcher.Dispatcher) *Requests {
	return &Requests{tree: avltree.New[entityid.GUID, *DeliveryRequest](cmpGUID), disp: disp}
}

// Add records a new delivery request for readerGUID, expiring after
// timeout (or never, if timeout <= 0). onExpire is invoked (dispatcher
// callback, lock dropped) when the request's expiry fires; it is
// responsible for disposing the request on the wire.
func (r *Requests) Add(readerGUID entityid.GUID, clientID uint64, timeout time.Duration, onExpire func(entityid.GUID)) *DeliveryRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.tree.Lookup(readerGUID); ok {
		r.disp.Remove(n.Value.handle)
		r.tree.Delete(n)
	}

	req := &DeliveryRequest{ReaderGUID: readerGUID, ClientID: clientID}
	if timeout > 0 {
		req.ExpiresAt = time.Now().Add(timeout)
		req.handle = r.disp.Add(func(handle dispatcher.Handle, triggerTime time.Time, kind dispatcher.Kind, arg any) {
			if kind != dispatcher.KindTimeout {
				return
			}
			r.Remove(readerGUID)
			if onExpire != nil {
				onExpire(readerGUID)
			}
		}, req.ExpiresAt, readerGUID)
	}
	r.tree.Insert(readerGUID, req)
	return req
}

// Remove cancels and deletes the request for readerGUID, if any. Safe to
// call from an expiry callback (the request is already logically gone by
// the time the callback fires) or from explicit reader deletion.
func (r *Requests) Remove(readerGUID entityid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.tree.Lookup(readerGUID)
	if !ok {
		return
	}
	if n.Value.handle != 0 {
		r.disp.Remove(n.Value.handle)
	}
	r.tree.Delete(n)
}

// Lookup returns the request for readerGUID, if any.
func (r *Requests) Lookup(readerGUID entityid.GUID) (*DeliveryRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.tree.Lookup(readerGUID)
	if !ok {
		return nil, false
	}
	return n.Value, true
}

// Count returns the number of currently outstanding requests.
func (r *Requests) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Size()
}
