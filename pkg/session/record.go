// Package session records fixed-layout binary samples to persistent storage.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// RecordSize is the packed on-disk size of a Record.
const RecordSize = 10

// Lick state bits.
const (
	LickLeft  int8 = 1 << 0
	LickRight int8 = 1 << 1
)

// Record is one control-loop tick snapshot.
type Record struct {
	ElapsedMs  uint32 // since session start
	Left       uint8
	Right      uint8
	LickState  int8
	Degrees    int16
	Photodiode int8
}

// Saturate8 clamps a filtered sensor value into a record byte.
func Saturate8(v float32) uint8 {
	switch {
	case math.IsNaN(float64(v)) || v <= 0:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	default:
		return uint8(v)
	}
}

// Put encodes r into b, which must hold RecordSize bytes.
func (r Record) Put(b []byte) {
	_ = b[RecordSize-1]
	binary.LittleEndian.PutUint32(b[0:], r.ElapsedMs)
	b[4] = r.Left
	b[5] = r.Right
	b[6] = byte(r.LickState)
	binary.LittleEndian.PutUint16(b[7:], uint16(r.Degrees))
	b[9] = byte(r.Photodiode)
}

// MarshalBinary returns the packed little-endian encoding.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	r.Put(b)
	return b, nil
}

// UnmarshalBinary decodes a packed record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("record: need %d bytes, got %d", RecordSize, len(b))
	}
	r.ElapsedMs = binary.LittleEndian.Uint32(b[0:])
	r.Left = b[4]
	r.Right = b[5]
	r.LickState = int8(b[6])
	r.Degrees = int16(binary.LittleEndian.Uint16(b[7:]))
	r.Photodiode = int8(b[9])
	return nil
}

// ErrTruncated is returned when a stream ends inside a record.
var ErrTruncated = errors.New("session: truncated record stream")

// ReadStream decodes a readback stream: a little-endian u32 record count
// followed by that many records.
func ReadStream(r io.Reader) ([]Record, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	recs, err := ReadRecords(r, int(count))
	if err != nil {
		return recs, err
	}
	if len(recs) != int(count) {
		return recs, fmt.Errorf("expected %d records, got %d: %w", count, len(recs), ErrTruncated)
	}
	return recs, nil
}

// ReadRecords decodes up to limit records from r. A negative limit reads
// until EOF, which is how a log file without the count preamble is read.
func ReadRecords(r io.Reader, limit int) ([]Record, error) {
	var recs []Record
	if limit > 0 {
		recs = make([]Record, 0, limit)
	}
	var buf [RecordSize]byte
	for limit < 0 || len(recs) < limit {
		_, err := io.ReadFull(r, buf[:])
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return recs, ErrTruncated
		}
		if err != nil {
			return recs, err
		}
		var rec Record
		_ = rec.UnmarshalBinary(buf[:])
		recs = append(recs, rec)
	}
	return recs, nil
}
