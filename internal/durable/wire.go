package durable

import (
	"encoding/binary"
	"fmt"

	"ddscore/internal/coreerr"
	"ddscore/internal/entityid"
)

// dataHeaderSize is the fixed portion of an encoded DATA frame:
// off(4) + wt(8) + seqnum(8) + writer_guid(16) + kind(1) + autodispose(1).
const dataHeaderSize = 4 + 8 + 8 + 16 + 1 + 1

// SerdataKind identifies the wire shape of a DATA frame's payload.
type SerdataKind uint8

const (
	SerdataData SerdataKind = iota
	SerdataKeyOnly
)

// Sample is one decoded dc_response DATA frame, ready to inject into a
// reader's history cache.
type Sample struct {
	HeaderOffset uint32
	WriteTime    int64
	SeqNum       uint64
	WriterGUID   entityid.GUID
	Kind         SerdataKind
	Autodispose  bool
	Payload      []byte
}

// EncodeSample renders s into the big-endian framed wire layout:
// [off:u32][wt:i64][seqnum:u64][writer_guid:16][kind:u8][autodispose:u8][payload...].
func EncodeSample(s Sample) []byte {
	buf := make([]byte, dataHeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], s.HeaderOffset)
	binary.BigEndian.PutUint64(buf[4:12], uint64(s.WriteTime))
	binary.BigEndian.PutUint64(buf[12:20], s.SeqNum)
	copy(buf[20:36], s.WriterGUID[:])
	buf[36] = byte(s.Kind)
	if s.Autodispose {
		buf[37] = 1
	}
	copy(buf[38:], s.Payload)
	return buf
}

// DecodeSample parses a big-endian framed DATA blob produced by EncodeSample.
func DecodeSample(blob []byte) (Sample, error) {
	if len(blob) < dataHeaderSize {
		return Sample{}, coreerr.New(coreerr.CodeParseError, fmt.Sprintf("durable: DATA frame too short (%d bytes)", len(blob)))
	}
	var s Sample
	s.HeaderOffset = binary.BigEndian.Uint32(blob[0:4])
	s.WriteTime = int64(binary.BigEndian.Uint64(blob[4:12]))
	s.SeqNum = binary.BigEndian.Uint64(blob[12:20])
	copy(s.WriterGUID[:], blob[20:36])
	s.Kind = SerdataKind(blob[36])
	s.Autodispose = blob[37] != 0
	payload := blob[38:]
	s.Payload = append([]byte(nil), payload...)
	return s, nil
}
