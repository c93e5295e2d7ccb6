package mvcc

import "encoding/binary"

var byteOrder = binary.BigEndian

const entryHeaderSize = 8 + 8 // xmin:u64 xmax:u64

// encodeEntry wraps body as [xmin][xmax][body], the MVCC Entry shape of
// spec §3.
func encodeEntry(xmin, xmax uint64, body []byte) []byte {
	buf := make([]byte, entryHeaderSize+len(body))
	byteOrder.PutUint64(buf[0:8], xmin)
	byteOrder.PutUint64(buf[8:16], xmax)
	copy(buf[entryHeaderSize:], body)
	return buf
}

func decodeEntry(raw []byte) (xmin, xmax uint64, body []byte) {
	xmin = byteOrder.Uint64(raw[0:8])
	xmax = byteOrder.Uint64(raw[8:16])
	body = raw[entryHeaderSize:]
	return
}

func encodeXmax(raw []byte, xmax uint64) []byte {
	out := append([]byte(nil), raw...)
	byteOrder.PutUint64(out[8:16], xmax)
	return out
}
