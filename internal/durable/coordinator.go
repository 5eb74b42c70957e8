package durable

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ddscore/internal/avltree"
	"ddscore/internal/coreerr"
	"ddscore/internal/dispatcher"
	"ddscore/internal/entityid"
	"ddscore/internal/obslog"
	"ddscore/internal/telemetry"
)

// HistoryCache is the host reader-history-cache collaborator a decoded
// Sample is injected into; the durable-client coordinator never touches
// reader storage directly.
type HistoryCache interface {
	Inject(readerGUID entityid.GUID, s Sample) error
}

// Coordinator is the process-wide durable-client state: discovered
// servers, delivery-request index, open delivery sessions, and per-writer
// quorum trackers. Obtained via the package-level Acquire/Release pair
// (refcounted singleton keyed by domain id).
type Coordinator struct {
	clientGUID entityid.GUID
	transport  Transport
	disp       *dispatcher.Dispatcher
	hc         HistoryCache

	requests *Requests
	sessions *Sessions
	servers  *avltree.Tree[uuid.UUID, StatusAdvert]

	quorumMu sync.Mutex
	quorums  map[string]*WriterQuorum

	waitMu  sync.Mutex
	waiters map[entityid.GUID]chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCoordinator wires a Coordinator over transport and disp, injecting
// decoded samples into hc. Callers should call Start to begin consuming
// the transport's response/status channels.
func NewCoordinator(clientGUID entityid.GUID, transport Transport, disp *dispatcher.Dispatcher, hc HistoryCache) *Coordinator {
	c := &Coordinator{
		clientGUID: clientGUID,
		transport:  transport,
		disp:       disp,
		hc:         hc,
		servers:    avltree.New[uuid.UUID, StatusAdvert](cmpUUID),
		quorums:    make(map[string]*WriterQuorum),
		waiters:    make(map[entityid.GUID]chan struct{}),
		stop:       make(chan struct{}),
	}
	c.requests = NewRequests(disp)
	c.sessions = NewSessions(c.onSessionAborted)
	return c
}

func (c *Coordinator) onSessionAborted(old *Session) {
	telemetry.Default().DurableSessionsAborted.Inc()
	obslog.Category("durable-client").Warn("delivery session implicitly aborted by new BEGIN",
		"server_id", old.ServerID, "delivery_id", old.DeliveryID)
}

// Start launches the receiver goroutine that owns the transport's
// status/response channels.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.receiveLoop()
}

// Close stops the receiver goroutine and closes the transport.
func (c *Coordinator) Close() error {
	close(c.stop)
	c.wg.Wait()
	return c.transport.Close()
}

func (c *Coordinator) receiveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case a := <-c.transport.Statuses():
			c.servers.Insert(a.ServerID, a)
		case r := <-c.transport.Responses():
			c.handleResponse(r)
		}
	}
}

func (c *Coordinator) handleResponse(r ResponseMessage) {
	switch r.Tag {
	case ResponseSet:
		if r.Set.Begin {
			c.sessions.Begin(r.ServerID, r.Set)
		}
		if r.Set.End {
			c.sessions.End(r.ServerID)
		}
	case ResponseReader:
		c.signalReader(r.ReaderGUID)
	case ResponseData:
		c.deliverData(r.ServerID, r.Data)
	}
}

func (c *Coordinator) deliverData(serverID uuid.UUID, blob []byte) {
	sess, ok := c.sessions.Open(serverID)
	if !ok {
		return // no open session: discard per the response protocol
	}
	sample, err := DecodeSample(blob)
	if err != nil {
		obslog.Category("durable-client").Error("malformed DATA frame discarded", "server_id", serverID, "error", err)
		return
	}
	for readerGUID := range sess.Readers {
		if err := c.hc.Inject(readerGUID, sample); err != nil {
			obslog.Category("durable-client").Error("historical sample injection failed",
				"reader", readerGUID.String(), "error", err)
			continue
		}
		telemetry.Default().DurableSamplesDelivered.Inc()
	}
	sess.NextSeqIndex++
}

// RequestHistoricalData publishes a dc_request for readerGUID and records
// a delivery-request entry expiring after timeout (0 means no expiry).
func (c *Coordinator) RequestHistoricalData(ctx context.Context, readerGUID entityid.GUID, timeout time.Duration) error {
	req := RequestMessage{ReaderGUID: readerGUID, ClientID: guidToClientID(c.clientGUID), Timeout: int64(timeout)}
	if err := c.transport.PublishRequest(ctx, req); err != nil {
		return coreerr.Wrap(err, coreerr.CodePublishFailed, "failed to publish durable-client request")
	}
	c.requests.Add(readerGUID, req.ClientID, timeout, func(g entityid.GUID) {
		disposeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.transport.DisposeRequest(disposeCtx, g); err != nil {
			obslog.Category("durable-client").Error("failed to dispose expired request", "reader", g.String(), "error", err)
		}
	})
	return nil
}

// CancelRequest disposes and removes the request for readerGUID, e.g. when
// the reader is deleted before its request expired.
func (c *Coordinator) CancelRequest(ctx context.Context, readerGUID entityid.GUID) error {
	c.requests.Remove(readerGUID)
	if err := c.transport.DisposeRequest(ctx, readerGUID); err != nil {
		return coreerr.Wrap(err, coreerr.CodePublishFailed, "failed to dispose durable-client request")
	}
	return nil
}

// WaitForHistoricalData blocks until a reader-kind response names
// readerGUID, or timeout elapses, whichever comes first.
func (c *Coordinator) WaitForHistoricalData(readerGUID entityid.GUID, timeout time.Duration) error {
	ch := c.waiterFor(readerGUID)
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return coreerr.New(coreerr.CodeUnresolvedReader, "wait_for_historical_data timed out")
	}
}

func (c *Coordinator) waiterFor(readerGUID entityid.GUID) chan struct{} {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	ch, ok := c.waiters[readerGUID]
	if !ok {
		ch = make(chan struct{})
		c.waiters[readerGUID] = ch
	}
	return ch
}

func (c *Coordinator) signalReader(readerGUID entityid.GUID) {
	c.waitMu.Lock()
	ch, ok := c.waiters[readerGUID]
	delete(c.waiters, readerGUID)
	c.waitMu.Unlock()
	if ok {
		close(ch)
	}
}

// AttachWriterQuorum registers a durable writer's partition set and
// quorum requirement, returning the tracker its publication-matched
// listener should feed.
func (c *Coordinator) AttachWriterQuorum(writerID string, partitions []string, quorum int) *WriterQuorum {
	c.quorumMu.Lock()
	defer c.quorumMu.Unlock()
	w := NewWriterQuorum(quorum)
	w.Partitions(partitions)
	c.quorums[writerID] = w
	telemetry.Default().DurableQuorumReached.WithLabelValues(writerID).Set(0)
	return w
}

// OnPublicationMatch/OnPublicationUnmatch forward a match-listener event
// for writerID to its quorum tracker, updating the exported gauge.
func (c *Coordinator) OnPublicationMatch(writerID, partition string) {
	w := c.quorumFor(writerID)
	if w == nil {
		return
	}
	w.OnMatch(partition)
	c.reportQuorum(writerID, w)
}

func (c *Coordinator) OnPublicationUnmatch(writerID, partition string) {
	w := c.quorumFor(writerID)
	if w == nil {
		return
	}
	w.OnUnmatch(partition)
	c.reportQuorum(writerID, w)
}

func (c *Coordinator) quorumFor(writerID string) *WriterQuorum {
	c.quorumMu.Lock()
	defer c.quorumMu.Unlock()
	return c.quorums[writerID]
}

func (c *Coordinator) reportQuorum(writerID string, w *WriterQuorum) {
	v := 0.0
	if w.Reached() {
		v = 1
	}
	telemetry.Default().DurableQuorumReached.WithLabelValues(writerID).Set(v)
}

// OpenSessionCount returns the number of currently open delivery sessions,
// exposed for the telemetry gauge.
func (c *Coordinator) OpenSessionCount() int { return c.sessions.Count() }

func guidToClientID(g entityid.GUID) uint64 {
	var id uint64
	for _, b := range g[8:] {
		id = id<<8 | uint64(b)
	}
	return id
}
