package durable

import (
	"context"

	"github.com/google/uuid"

	"ddscore/internal/entityid"
)

// StatusAdvert is a ds_status sample: a durable-support server announcing
// itself.
type StatusAdvert struct {
	ServerID uuid.UUID
	Hostname string
	Name     string
}

// RequestMessage is a dc_request sample, keyed by the reader GUID it asks
// historical data for.
type RequestMessage struct {
	ReaderGUID entityid.GUID
	ClientID   uint64
	Timeout    int64 // nanoseconds, 0 means no expiry
}

// ResponseTag identifies which arm of the dc_response tagged union a
// ResponseMessage carries.
type ResponseTag int

const (
	ResponseSet ResponseTag = iota
	ResponseReader
	ResponseData
)

// SetFields populates a ResponseMessage tagged ResponseSet: the BEGIN/END
// framing of one per-server delivery session.
type SetFields struct {
	DeliveryID uint64
	Partition  string
	Topic      string
	TypeID     string
	Begin      bool
	End        bool
	GUIDs      []entityid.GUID
}

// ResponseMessage is one dc_response sample.
type ResponseMessage struct {
	ServerID   uuid.UUID
	Tag        ResponseTag
	Set        SetFields     // valid iff Tag == ResponseSet
	ReaderGUID entityid.GUID // valid iff Tag == ResponseReader
	Data       []byte        // valid iff Tag == ResponseData (EncodeSample output)
}

// Transport is the wire-level collaborator the coordinator publishes to and
// receives from: three logical topics realized however the implementation
// chooses (Redis streams in transport_redis.go).
type Transport interface {
	PublishStatus(ctx context.Context, a StatusAdvert) error
	PublishRequest(ctx context.Context, r RequestMessage) error
	DisposeRequest(ctx context.Context, readerGUID entityid.GUID) error
	Responses() <-chan ResponseMessage
	Statuses() <-chan StatusAdvert
	Close() error
}
