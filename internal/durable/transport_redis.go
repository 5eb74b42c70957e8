package durable

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ddscore/internal/entityid"
	"ddscore/internal/obslog"
)

const (
	streamStatus   = "ds_status"
	streamRequest  = "dc_request"
	streamResponse = "dc_response"
)

// RedisTransport realizes the three wire topics as three Redis streams,
// following the client-construction idiom (redis.NewClient, context-scoped
// calls, idempotent Close) the cache package uses for its own Redis client.
type RedisTransport struct {
	client *redis.Client

	responses chan ResponseMessage
	statuses  chan StatusAdvert

	stop chan struct{}
}

// NewRedisTransport connects to addr and starts the background stream
// reader. The reader consumes dc_response with XRead from "$" (only new
// entries) and ds_status similarly.
func NewRedisTransport(addr string) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("durable: redis ping failed: %w", err)
	}

	rt := &RedisTransport{
		client:    client,
		responses: make(chan ResponseMessage, 256),
		statuses:  make(chan StatusAdvert, 64),
		stop:      make(chan struct{}),
	}
	go rt.readLoop()
	return rt, nil
}

func (rt *RedisTransport) PublishStatus(ctx context.Context, a StatusAdvert) error {
	return rt.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamStatus,
		Values: map[string]any{
			"server_id": a.ServerID.String(),
			"hostname":  a.Hostname,
			"name":      a.Name,
		},
	}).Err()
}

func (rt *RedisTransport) PublishRequest(ctx context.Context, r RequestMessage) error {
	return rt.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamRequest,
		Values: map[string]any{
			"op":         "request",
			"rguid":      hex.EncodeToString(r.ReaderGUID[:]),
			"client_id":  strconv.FormatUint(r.ClientID, 10),
			"timeout_ns": strconv.FormatInt(r.Timeout, 10),
		},
	}).Err()
}

func (rt *RedisTransport) DisposeRequest(ctx context.Context, readerGUID entityid.GUID) error {
	return rt.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamRequest,
		Values: map[string]any{
			"op":    "dispose",
			"rguid": hex.EncodeToString(readerGUID[:]),
		},
	}).Err()
}

func (rt *RedisTransport) Responses() <-chan ResponseMessage { return rt.responses }
func (rt *RedisTransport) Statuses() <-chan StatusAdvert     { return rt.statuses }

func (rt *RedisTransport) Close() error {
	select {
	case <-rt.stop:
	default:
		close(rt.stop)
	}
	return rt.client.Close()
}

// readLoop blocks on XRead against both streams from "$" (new entries
// only), decoding and forwarding onto the responses/statuses channels,
// until Close signals stop.
func (rt *RedisTransport) readLoop() {
	lastStatus, lastResponse := "$", "$"
	log := obslog.Category("durable-client")

	for {
		select {
		case <-rt.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		res, err := rt.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamStatus, streamResponse, lastStatus, lastResponse},
			Block:   time.Second,
		}).Result()
		cancel()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			select {
			case <-rt.stop:
				return
			default:
				log.Warn("redis stream read failed, retrying", "error", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				switch stream.Stream {
				case streamStatus:
					lastStatus = msg.ID
					if a, ok := decodeStatus(msg.Values); ok {
						rt.statuses <- a
					}
				case streamResponse:
					lastResponse = msg.ID
					if r, ok := decodeResponse(msg.Values); ok {
						rt.responses <- r
					}
				}
			}
		}
	}
}

func decodeStatus(values map[string]any) (StatusAdvert, bool) {
	id, err := uuid.Parse(fmt.Sprint(values["server_id"]))
	if err != nil {
		return StatusAdvert{}, false
	}
	return StatusAdvert{
		ServerID: id,
		Hostname: fmt.Sprint(values["hostname"]),
		Name:     fmt.Sprint(values["name"]),
	}, true
}

func decodeResponse(values map[string]any) (ResponseMessage, bool) {
	serverID, err := uuid.Parse(fmt.Sprint(values["server_id"]))
	if err != nil {
		return ResponseMessage{}, false
	}
	m := ResponseMessage{ServerID: serverID}

	switch fmt.Sprint(values["tag"]) {
	case "set":
		m.Tag = ResponseSet
		deliveryID, _ := strconv.ParseUint(fmt.Sprint(values["delivery_id"]), 10, 64)
		m.Set = SetFields{
			DeliveryID: deliveryID,
			Partition:  fmt.Sprint(values["partition"]),
			Topic:      fmt.Sprint(values["topic"]),
			TypeID:     fmt.Sprint(values["type_id"]),
			Begin:      fmt.Sprint(values["begin"]) == "1",
			End:        fmt.Sprint(values["end"]) == "1",
			GUIDs:      decodeGUIDList(fmt.Sprint(values["guids"])),
		}
	case "reader":
		m.Tag = ResponseReader
		if g, err := entityid.Parse(fmt.Sprint(values["rguid"])); err == nil {
			m.ReaderGUID = g
		}
	case "data":
		m.Tag = ResponseData
		blob, err := base64.StdEncoding.DecodeString(fmt.Sprint(values["blob"]))
		if err != nil {
			return ResponseMessage{}, false
		}
		m.Data = blob
	default:
		return ResponseMessage{}, false
	}
	return m, true
}

func decodeGUIDList(s string) []entityid.GUID {
	if s == "" {
		return nil
	}
	var out []entityid.GUID
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if g, err := entityid.Parse(s[start:i]); err == nil {
				out = append(out, g)
			}
			start = i + 1
		}
	}
	return out
}
