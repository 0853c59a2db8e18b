package translog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"translog/pkg/types"
)

// Op is the kind of a logged write.
type Op uint8

const (
	OpIndex Op = iota
	OpDelete
	OpNoop
)

func (o Op) String() string {
	switch o {
	case OpIndex:
		return "index"
	case OpDelete:
		return "delete"
	case OpNoop:
		return "no-op"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

func (o Op) valid() bool { return o <= OpNoop }

// Operation is one immutable write record. The payload is opaque to the
// log; the engine that replays it knows how to decode it.
type Operation struct {
	SeqNo   types.SeqNo
	Term    types.Term
	Op      Op
	Payload []byte
}

// Location is the durable position of an appended operation.
type Location struct {
	Generation types.GenerationID
	Offset     int64
	Size       int64
}

// On-disk record layout, little-endian:
//
//	size     uint32  length of everything after this field
//	seqNo    int64
//	term     int64
//	op       uint8
//	plen     uint32
//	payload  plen bytes
//	crc      uint32  CRC-32 (IEEE) of seqNo..payload
const (
	recordFixedLen = 4 + 8 + 8 + 1 + 4 + 4 // size + seqNo + term + op + plen + crc

	// maxPayloadLen caps a single record; anything larger is a caller bug or
	// a corrupted length prefix.
	maxPayloadLen = 512 << 20
)

func encodedSize(op Operation) int64 {
	return int64(recordFixedLen + len(op.Payload))
}

// appendRecord encodes op onto buf and returns the extended slice.
func appendRecord(buf []byte, op Operation) ([]byte, error) {
	if len(op.Payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload of %d bytes", errTooLargeRecord, len(op.Payload))
	}
	if !op.Op.valid() {
		return nil, fmt.Errorf("translog: cannot encode op type %d", uint8(op.Op))
	}

	bodyLen := recordFixedLen - 4 + len(op.Payload)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(bodyLen))
	bodyStart := len(buf)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(op.SeqNo))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(op.Term))
	buf = append(buf, byte(op.Op))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(op.Payload)))
	buf = append(buf, op.Payload...)
	crc := crc32.ChecksumIEEE(buf[bodyStart:])
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf, nil
}

// decodeRecordBody decodes the record body (everything after the size
// prefix), validating the trailing checksum. file and offset only feed error
// reporting.
func decodeRecordBody(body []byte, file string, offset int64) (Operation, error) {
	var op Operation
	if len(body) < recordFixedLen-4 {
		return op, corrupted(file, offset, "record body truncated", nil)
	}

	stored := binary.LittleEndian.Uint32(body[len(body)-4:])
	if actual := crc32.ChecksumIEEE(body[:len(body)-4]); actual != stored {
		return op, corrupted(file, offset,
			fmt.Sprintf("checksum mismatch: stored %#x, computed %#x", stored, actual), nil)
	}

	op.SeqNo = int64(binary.LittleEndian.Uint64(body[0:8]))
	op.Term = int64(binary.LittleEndian.Uint64(body[8:16]))
	op.Op = Op(body[16])
	plen := binary.LittleEndian.Uint32(body[17:21])
	if !op.Op.valid() {
		return op, corrupted(file, offset, fmt.Sprintf("unknown op type %d", body[16]), nil)
	}
	if int(plen) != len(body)-(recordFixedLen-4) || plen > math.MaxInt32 {
		return op, corrupted(file, offset,
			fmt.Sprintf("payload length %d does not match record size", plen), nil)
	}
	if plen > 0 {
		op.Payload = make([]byte, plen)
		copy(op.Payload, body[21:21+plen])
	}
	return op, nil
}
