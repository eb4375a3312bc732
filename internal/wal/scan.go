package wal

import (
	"encoding/binary"
	"log/slog"
)

// scanResult is the outcome of linearly scanning one segment's entries
// after its header.
type scanResult struct {
	entries       []decodedEntry
	firstSeq      uint64
	lastSeq       uint64
	sizeBytes     uint64 // header + all successfully length-framed entries
	entryCount    uint64
	validHeader   bool
	tornAtEnd     bool // scan stopped early due to a malformed/short entry
}

// scanSegment reads a segment's header then entries sequentially, stopping
// at the first malformed entry (torn write tolerance). CRC
// mismatches on an otherwise well-framed entry are recorded but do not stop
// the scan: that's a skip-and-continue on the read path, but during
// open/recovery we still want the framing bounds, so scanSegment keeps
// those entries in the result with crcOK()==false for the caller to filter.
func scanSegment(r SegmentReader, logger *slog.Logger) scanResult {
	var res scanResult

	header := make([]byte, headerSize)
	if err := r.ReadExact(header); err != nil {
		return res
	}
	if !validHeader(header) {
		logger.Warn("wal: invalid segment header, aborting scan")
		return res
	}
	res.validHeader = true
	res.sizeBytes = headerSize

	for {
		lenBuf := make([]byte, 4)
		if err := r.ReadExact(lenBuf); err != nil {
			break // EOF or short read at a framing boundary: torn tail, stop.
		}
		length := binary.LittleEndian.Uint32(lenBuf)

		seqBuf := make([]byte, 8)
		if err := r.ReadExact(seqBuf); err != nil {
			res.tornAtEnd = true
			break
		}
		sequence := binary.LittleEndian.Uint64(seqBuf)

		eventBytes := make([]byte, length)
		if err := r.ReadExact(eventBytes); err != nil {
			res.tornAtEnd = true
			break
		}

		crcBuf := make([]byte, 4)
		if err := r.ReadExact(crcBuf); err != nil {
			res.tornAtEnd = true
			break
		}
		storedCRC := binary.LittleEndian.Uint32(crcBuf)

		entry := decodedEntry{sequence: sequence, eventBytes: eventBytes, storedCRC: storedCRC}
		res.entries = append(res.entries, entry)
		res.entryCount++
		res.sizeBytes += uint64(entryOverhead + len(eventBytes))
		if res.firstSeq == 0 || sequence < res.firstSeq {
			res.firstSeq = sequence
		}
		if sequence > res.lastSeq {
			res.lastSeq = sequence
		}
	}
	return res
}
