package protocol

import (
	"io"
	"strconv"
	"time"
)

// Writer formats outbound lines on the command channel.
type Writer struct {
	w   io.Writer
	buf []byte

	// OnEvent, when set, receives every event line after it is written.
	OnEvent func(elapsed time.Duration, msg string)
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 64)}
}

// Event writes "<elapsed ms>\t<msg>\n".
func (w *Writer) Event(elapsed time.Duration, msg string) error {
	w.buf = strconv.AppendInt(w.buf[:0], elapsed.Milliseconds(), 10)
	w.buf = append(w.buf, '\t')
	w.buf = append(w.buf, msg...)
	w.buf = append(w.buf, '\n')
	_, err := w.w.Write(w.buf)
	if w.OnEvent != nil {
		w.OnEvent(elapsed, msg)
	}
	return err
}

// Code writes an event line carrying a numeric code.
func (w *Writer) Code(elapsed time.Duration, code int) error {
	return w.Event(elapsed, strconv.Itoa(code))
}

// Error writes "ERROR: <msg>\n".
func (w *Writer) Error(msg string) error {
	w.buf = append(w.buf[:0], "ERROR: "...)
	w.buf = append(w.buf, msg...)
	w.buf = append(w.buf, '\n')
	_, err := w.w.Write(w.buf)
	return err
}

// Raw writes p unmodified.
func (w *Writer) Raw(p []byte) (int, error) {
	return w.w.Write(p)
}

// Write makes Writer an io.Writer for binary readback.
func (w *Writer) Write(p []byte) (int, error) {
	return w.Raw(p)
}
