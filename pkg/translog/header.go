package translog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"translog/pkg/types"
)

const (
	headerMagic   uint32 = 0x544c4f47 // "TLOG"
	headerVersion uint32 = 1

	maxUUIDLen = 128
)

// fileHeader opens every generation file. The UUID ties the file to one
// logical log so that generations from different logs can never be mixed.
//
// Layout, little-endian:
//
//	magic    uint32
//	version  uint32
//	gen      int64
//	uuidLen  uint16
//	uuid     uuidLen bytes
//	crc      uint32  CRC-32 (IEEE) of magic..uuid
type fileHeader struct {
	generation types.GenerationID
	uuid       string
}

func (h fileHeader) encodedLen() int64 {
	return int64(4 + 4 + 8 + 2 + len(h.uuid) + 4)
}

func (h fileHeader) writeTo(w io.Writer) error {
	buf := make([]byte, 0, h.encodedLen())
	buf = binary.LittleEndian.AppendUint32(buf, headerMagic)
	buf = binary.LittleEndian.AppendUint32(buf, headerVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.generation))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.uuid)))
	buf = append(buf, h.uuid...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	_, err := w.Write(buf)
	return err
}

func readHeader(r io.Reader, file string) (fileHeader, int64, error) {
	var h fileHeader

	fixed := make([]byte, 4+4+8+2)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, 0, corrupted(file, 0, "header truncated", err)
	}
	if magic := binary.LittleEndian.Uint32(fixed[0:4]); magic != headerMagic {
		return h, 0, corrupted(file, 0, fmt.Sprintf("bad magic %#x", magic), nil)
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != headerVersion {
		return h, 0, corrupted(file, 0, fmt.Sprintf("unsupported format version %d", v), nil)
	}
	h.generation = int64(binary.LittleEndian.Uint64(fixed[8:16]))
	uuidLen := binary.LittleEndian.Uint16(fixed[16:18])
	if uuidLen == 0 || uuidLen > maxUUIDLen {
		return h, 0, corrupted(file, 0, fmt.Sprintf("implausible uuid length %d", uuidLen), nil)
	}

	rest := make([]byte, int(uuidLen)+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return h, 0, corrupted(file, 0, "header truncated", err)
	}
	h.uuid = string(rest[:uuidLen])

	crc := crc32.NewIEEE()
	crc.Write(fixed)
	crc.Write(rest[:uuidLen])
	if stored := binary.LittleEndian.Uint32(rest[uuidLen:]); stored != crc.Sum32() {
		return h, 0, corrupted(file, 0, "header checksum mismatch", nil)
	}

	return h, h.encodedLen(), nil
}
