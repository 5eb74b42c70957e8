package durable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ddscore/internal/dispatcher"
	"ddscore/internal/entityid"
)

func TestEncodeDecodeSampleRoundTrips(t *testing.T) {
	s := Sample{
		HeaderOffset: 12,
		WriteTime:    1234567890,
		SeqNum:       42,
		WriterGUID:   entityid.New([12]byte{1, 2, 3}, [4]byte{4, 5, 6, 7}),
		Kind:         SerdataData,
		Autodispose:  true,
		Payload:      []byte("hello"),
	}
	blob := EncodeSample(s)
	got, err := DecodeSample(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.HeaderOffset != s.HeaderOffset || got.WriteTime != s.WriteTime || got.SeqNum != s.SeqNum ||
		got.WriterGUID != s.WriterGUID || got.Kind != s.Kind || got.Autodispose != s.Autodispose ||
		string(got.Payload) != string(s.Payload) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestDecodeSampleRejectsShortFrame(t *testing.T) {
	if _, err := DecodeSample([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for undersized frame")
	}
}

func TestWriterQuorumReachedAtDefaultQuorum(t *testing.T) {
	w := NewWriterQuorum(1)
	w.Partitions([]string{"A", "B"})
	if w.Reached() {
		t.Fatalf("expected not reached with zero matches")
	}
	w.OnMatch("A")
	if w.Reached() {
		t.Fatalf("expected not reached: B still unmatched")
	}
	w.OnMatch("B")
	if !w.Reached() {
		t.Fatalf("expected reached once every partition has >=1 match")
	}
	w.OnUnmatch("A")
	if w.Reached() {
		t.Fatalf("expected not reached after A drops below quorum")
	}
}

func TestWriterQuorumBlocksUntilSecondMatch(t *testing.T) {
	w := NewWriterQuorum(2)
	w.Partitions([]string{"A"})
	w.OnMatch("A")
	if w.Reached() {
		t.Fatalf("expected not reached with only 1 of 2 required matches")
	}
	w.OnMatch("A")
	if !w.Reached() {
		t.Fatalf("expected reached once the second match arrives")
	}
}

func TestWaitForQuorumTimesOutWithPreconditionNotMet(t *testing.T) {
	w := NewWriterQuorum(1)
	w.Partitions([]string{"A"})
	err := w.WaitForQuorum(30 * time.Millisecond)
	if err == nil {
		t.Fatalf("expected quorum timeout error")
	}
}

func TestWaitForQuorumReturnsImmediatelyWhenAlreadyReached(t *testing.T) {
	w := NewWriterQuorum(1)
	w.Partitions([]string{"A"})
	w.OnMatch("A")
	if err := w.WaitForQuorum(10 * time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionBeginImplicitlyAbortsPriorOpenSession(t *testing.T) {
	var aborted []*Session
	s := NewSessions(func(old *Session) { aborted = append(aborted, old) })
	server := uuid.New()

	s.Begin(server, SetFields{DeliveryID: 100, Begin: true})
	if s.Count() != 1 {
		t.Fatalf("expected one open session")
	}
	s.Begin(server, SetFields{DeliveryID: 200, Begin: true})
	if len(aborted) != 1 || aborted[0].DeliveryID != 100 {
		t.Fatalf("expected delivery 100 to be reported aborted, got %+v", aborted)
	}
	if s.Count() != 1 {
		t.Fatalf("expected still exactly one open session after the new BEGIN")
	}
	sess, ok := s.Open(server)
	if !ok || sess.DeliveryID != 200 {
		t.Fatalf("expected the open session to be delivery 200")
	}
}

func TestSessionEndClosesSession(t *testing.T) {
	s := NewSessions(nil)
	server := uuid.New()
	s.Begin(server, SetFields{DeliveryID: 1, Begin: true})
	s.End(server)
	if _, ok := s.Open(server); ok {
		t.Fatalf("expected no open session after End")
	}
}

func TestSessionsDifferentServersIndependent(t *testing.T) {
	var aborted int
	s := NewSessions(func(*Session) { aborted++ })
	s.Begin(uuid.New(), SetFields{DeliveryID: 1, Begin: true})
	s.Begin(uuid.New(), SetFields{DeliveryID: 2, Begin: true})
	if aborted != 0 {
		t.Fatalf("expected no aborts across independent servers")
	}
	if s.Count() != 2 {
		t.Fatalf("expected two open sessions")
	}
}

func TestRequestsExpireViaDispatcher(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	reqs := NewRequests(disp)

	guid := entityid.New([12]byte{9}, [4]byte{1})
	expired := make(chan entityid.GUID, 1)
	reqs.Add(guid, 7, 20*time.Millisecond, func(g entityid.GUID) { expired <- g })

	select {
	case g := <-expired:
		if g != guid {
			t.Fatalf("expired wrong reader guid")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry callback never fired")
	}
	if _, ok := reqs.Lookup(guid); ok {
		t.Fatalf("expected request removed from index after expiry")
	}
}

func TestRequestsRemoveCancelsPendingExpiry(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	reqs := NewRequests(disp)

	guid := entityid.New([12]byte{9}, [4]byte{2})
	fired := make(chan struct{}, 1)
	reqs.Add(guid, 1, time.Hour, func(entityid.GUID) { fired <- struct{}{} })
	reqs.Remove(guid)

	select {
	case <-fired:
		t.Fatalf("expiry callback should not fire after Remove")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := reqs.Lookup(guid); ok {
		t.Fatalf("expected request removed")
	}
}

// fakeTransport is an in-process Transport for coordinator tests, avoiding
// any real Redis dependency.
type fakeTransport struct {
	mu        sync.Mutex
	published []RequestMessage
	disposed  []entityid.GUID
	responses chan ResponseMessage
	statuses  chan StatusAdvert
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(chan ResponseMessage, 16),
		statuses:  make(chan StatusAdvert, 16),
	}
}

func (f *fakeTransport) PublishStatus(ctx context.Context, a StatusAdvert) error { return nil }
func (f *fakeTransport) PublishRequest(ctx context.Context, r RequestMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, r)
	return nil
}
func (f *fakeTransport) DisposeRequest(ctx context.Context, g entityid.GUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = append(f.disposed, g)
	return nil
}
func (f *fakeTransport) Responses() <-chan ResponseMessage { return f.responses }
func (f *fakeTransport) Statuses() <-chan StatusAdvert     { return f.statuses }
func (f *fakeTransport) Close() error                      { return nil }

type fakeHistoryCache struct {
	mu       sync.Mutex
	injected []Sample
}

func (h *fakeHistoryCache) Inject(readerGUID entityid.GUID, s Sample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injected = append(h.injected, s)
	return nil
}

func TestCoordinatorDeliversDataOnlyWithinOpenSession(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	transport := newFakeTransport()
	hc := &fakeHistoryCache{}
	c := NewCoordinator(entityid.New([12]byte{1}, [4]byte{1}), transport, disp, hc)
	c.Start()
	defer c.Close()

	reader := entityid.New([12]byte{2}, [4]byte{1})
	server := uuid.New()

	// DATA before any BEGIN is discarded.
	blob := EncodeSample(Sample{SeqNum: 1, WriterGUID: reader, Payload: []byte("x")})
	transport.responses <- ResponseMessage{ServerID: server, Tag: ResponseData, Data: blob}
	time.Sleep(30 * time.Millisecond)
	hc.mu.Lock()
	gotBefore := len(hc.injected)
	hc.mu.Unlock()
	if gotBefore != 0 {
		t.Fatalf("expected no delivery before BEGIN, got %d", gotBefore)
	}

	transport.responses <- ResponseMessage{ServerID: server, Tag: ResponseSet, Set: SetFields{
		DeliveryID: 1, Begin: true, GUIDs: []entityid.GUID{reader},
	}}
	time.Sleep(30 * time.Millisecond)

	transport.responses <- ResponseMessage{ServerID: server, Tag: ResponseData, Data: blob}
	time.Sleep(30 * time.Millisecond)

	hc.mu.Lock()
	gotAfter := len(hc.injected)
	hc.mu.Unlock()
	if gotAfter != 1 {
		t.Fatalf("expected exactly one delivered sample within the open session, got %d", gotAfter)
	}
}

func TestCoordinatorReaderResponseUnblocksWait(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	transport := newFakeTransport()
	hc := &fakeHistoryCache{}
	c := NewCoordinator(entityid.New([12]byte{1}, [4]byte{1}), transport, disp, hc)
	c.Start()
	defer c.Close()

	reader := entityid.New([12]byte{3}, [4]byte{1})
	done := make(chan error, 1)
	go func() { done <- c.WaitForHistoricalData(reader, time.Second) }()

	time.Sleep(10 * time.Millisecond)
	transport.responses <- ResponseMessage{Tag: ResponseReader, ReaderGUID: reader}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForHistoricalData never unblocked")
	}
}

func TestCoordinatorWaitForHistoricalDataTimesOut(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	transport := newFakeTransport()
	hc := &fakeHistoryCache{}
	c := NewCoordinator(entityid.New([12]byte{1}, [4]byte{1}), transport, disp, hc)
	c.Start()
	defer c.Close()

	reader := entityid.New([12]byte{4}, [4]byte{1})
	err := c.WaitForHistoricalData(reader, 30*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestCoordinatorRequestHistoricalDataPublishesAndDisposesOnExpiry(t *testing.T) {
	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()
	transport := newFakeTransport()
	hc := &fakeHistoryCache{}
	c := NewCoordinator(entityid.New([12]byte{1}, [4]byte{1}), transport, disp, hc)
	c.Start()
	defer c.Close()

	reader := entityid.New([12]byte{5}, [4]byte{1})
	if err := c.RequestHistoricalData(context.Background(), reader, 30*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.published) != 1 {
		t.Fatalf("expected one published request, got %d", len(transport.published))
	}
	if len(transport.disposed) != 1 || transport.disposed[0] != reader {
		t.Fatalf("expected the expired request to be disposed on the wire")
	}
}

func TestAcquireReturnsSameCoordinatorUntilLastRelease(t *testing.T) {
	const domainID = uint32(42)
	created := 0
	newCoord := func() (*Coordinator, error) {
		created++
		disp := dispatcher.New(dispatcher.NewTimerQueue())
		disp.Enable()
		transport := newFakeTransport()
		c := NewCoordinator(entityid.New([12]byte{byte(domainID)}, [4]byte{}), transport, disp, &fakeHistoryCache{})
		return c, nil
	}

	c1, err := Acquire(domainID, newCoord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c2, err := Acquire(domainID, newCoord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same coordinator instance across Acquire calls")
	}
	if created != 1 {
		t.Fatalf("expected the factory to run exactly once, ran %d times", created)
	}

	Release(domainID)
	Release(domainID)
}
