package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// Segment header: magic(4) + version(2) + reserved(2) = 8 bytes.
const (
	segmentMagic        = "MWLW"
	segmentVersion uint16 = 0x0001
	headerSize           = 8

	// entryOverhead is length(4) + sequence(8) + crc(4), framing bytes
	// around the event payload within an entry.
	entryOverhead = 16

	// DefaultMaxSegmentSize is the default rotation threshold (64 MiB).
	DefaultMaxSegmentSize = 64 * 1024 * 1024
)

func encodeHeader() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint16(buf[4:6], segmentVersion)
	// buf[6:8] reserved, left zero.
	return buf
}

func validHeader(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	return string(buf[0:4]) == segmentMagic
}

// encodeEntry frames one event's bytes: [length(4 LE)][sequence(8 LE)][event_bytes][crc32(4 LE)].
// crc32 covers event_bytes only.
func encodeEntry(sequence uint64, eventBytes []byte) []byte {
	buf := make([]byte, 4+8+len(eventBytes)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(eventBytes)))
	binary.LittleEndian.PutUint64(buf[4:12], sequence)
	copy(buf[12:12+len(eventBytes)], eventBytes)
	crc := crc32.ChecksumIEEE(eventBytes)
	binary.LittleEndian.PutUint32(buf[12+len(eventBytes):], crc)
	return buf
}

// decodedEntry is one successfully length-framed entry read off a segment,
// prior to CRC verification.
type decodedEntry struct {
	sequence   uint64
	eventBytes []byte
	storedCRC  uint32
}

func (d decodedEntry) crcOK() bool {
	return crc32.ChecksumIEEE(d.eventBytes) == d.storedCRC
}
