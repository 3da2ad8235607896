package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotMounted = errors.New("storage not mounted")
	ErrActive     = errors.New("session already active")
	ErrNotActive  = errors.New("no active session")
)

// Summary describes a finished session.
type Summary struct {
	Name     string
	Records  uint32
	Flushes  int
	Duration time.Duration
}

// Recorder buffers records in memory and flushes the whole buffer to the
// session file whenever it fills up. The buffer is allocated once.
type Recorder struct {
	storage  Storage
	buf      []byte
	capacity int
	n        int

	file    File
	name    string
	start   time.Time
	last    time.Time
	active  bool
	written uint32
	flushes int
}

// NewRecorder creates a recorder whose buffer holds bufferBytes/RecordSize
// records, at least one.
func NewRecorder(storage Storage, bufferBytes int) *Recorder {
	capacity := bufferBytes / RecordSize
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{
		storage:  storage,
		buf:      make([]byte, capacity*RecordSize),
		capacity: capacity,
	}
}

// Capacity returns the buffer size in records.
func (r *Recorder) Capacity() int { return r.capacity }

// Start creates the session file and resets the buffer and counters. On
// failure the recorder stays inactive.
func (r *Recorder) Start(name string, now time.Time) error {
	if r.active {
		return fmt.Errorf("start %s: %w", name, ErrActive)
	}
	if !r.storage.Mounted() {
		return fmt.Errorf("start %s: %w", name, ErrNotMounted)
	}
	f, err := r.storage.Create(name)
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	r.file = f
	r.name = name
	r.start = now
	r.last = now
	r.n = 0
	r.written = 0
	r.flushes = 0
	r.active = true
	return nil
}

// Elapsed returns milliseconds since the session started, saturated to u32.
func (r *Recorder) Elapsed(now time.Time) uint32 {
	ms := now.Sub(r.start).Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(ms)
}

// Append adds a record. It does nothing when no session is active. A full
// buffer is flushed synchronously; if that write fails the buffered records
// are dropped, any partial write is cut off, and the error is returned.
func (r *Recorder) Append(rec Record) error {
	if !r.active {
		return nil
	}
	rec.Put(r.buf[r.n*RecordSize:])
	r.n++
	if r.n < r.capacity {
		return nil
	}
	return r.flush()
}

// AppendAt stamps rec with the session elapsed time of now and appends it.
func (r *Recorder) AppendAt(rec Record, now time.Time) error {
	rec.ElapsedMs = r.Elapsed(now)
	r.last = now
	return r.Append(rec)
}

func (r *Recorder) flush() error {
	if r.n == 0 {
		return nil
	}
	n := r.n
	r.n = 0
	if _, err := r.file.Write(r.buf[:n*RecordSize]); err != nil {
		if rerr := r.rewind(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("flush %d records: %w", n, err)
	}
	r.written += uint32(n)
	r.flushes++
	return nil
}

// rewind drops a partially written flush so the file ends on the last
// complete record.
func (r *Recorder) rewind() error {
	end := int64(r.written) * RecordSize
	if _, err := r.file.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	if err := r.file.Truncate(end); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// End flushes buffered records, optionally streams the file to w prefixed
// by the little-endian record count, and closes the file. The file is
// closed even when the flush or the readback fails.
func (r *Recorder) End(send bool, w io.Writer) (Summary, error) {
	if !r.active {
		return Summary{}, ErrNotActive
	}
	r.active = false

	var errs []error
	if err := r.flush(); err != nil {
		errs = append(errs, err)
	}
	if send && w != nil {
		if err := r.send(w); err != nil {
			errs = append(errs, fmt.Errorf("send: %w", err))
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	r.file = nil

	sum := Summary{
		Name:     r.name,
		Records:  r.written,
		Flushes:  r.flushes,
		Duration: r.last.Sub(r.start),
	}
	return sum, errors.Join(errs...)
}

func (r *Recorder) send(w io.Writer) error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], r.written)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.Copy(w, io.LimitReader(r.file, int64(r.written)*RecordSize))
	return err
}

func (r *Recorder) Active() bool     { return r.active }
func (r *Recorder) Name() string     { return r.name }
func (r *Recorder) Written() uint32  { return r.written }
func (r *Recorder) Flushes() int     { return r.flushes }
func (r *Recorder) Buffered() int    { return r.n }
func (r *Recorder) Storage() Storage { return r.storage }
