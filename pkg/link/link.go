// Package link provides the rig's byte links: the host command channel and
// the forwarded secondary actuator channel.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the actuator board UART.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the number of received chunks queued between polls.
	DefaultBufferSize = 64

	readChunk = 256

	// closeWait bounds how long Close waits for a reader blocked on a stream
	// that does not unblock on close (stdin).
	closeWait = time.Second
)

var (
	ErrNotConnected     = errors.New("link not connected")
	ErrAlreadyConnected = errors.New("link already connected")
)

// Link is a bidirectional byte channel polled from the control loop.
type Link interface {
	Connect() error
	Close() error
	// Poll returns the bytes received since the previous call without blocking.
	Poll() []byte
	Write(p []byte) (int, error)
	IsConnected() bool
}

var _ Link = (*Conn)(nil)

// Conn runs a reader goroutine over a blocking stream and hands received
// bytes to the control loop through a buffered channel.
type Conn struct {
	name    string
	open    func() (io.ReadWriteCloser, error)
	bufSize int
	log     *slog.Logger

	mu        sync.RWMutex
	rw        io.ReadWriteCloser
	chunks    chan []byte
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	dropped   int
}

// NewSerial creates a link over a serial port.
func NewSerial(port string, baudRate, bufSize int, log *slog.Logger) *Conn {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return newConn(port, func() (io.ReadWriteCloser, error) {
		return serial.Open(port, &serial.Mode{BaudRate: baudRate})
	}, bufSize, log)
}

// NewStream creates a link over an already open stream, such as a pipe or
// the process stdio.
func NewStream(name string, rw io.ReadWriteCloser, bufSize int, log *slog.Logger) *Conn {
	return newConn(name, func() (io.ReadWriteCloser, error) { return rw, nil }, bufSize, log)
}

func newConn(name string, open func() (io.ReadWriteCloser, error), bufSize int, log *slog.Logger) *Conn {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		name:    name,
		open:    open,
		bufSize: bufSize,
		log:     log.With("link", name),
	}
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

func (c *Conn) Name() string { return c.name }

// Connect opens the stream and starts the reader goroutine.
func (c *Conn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}
	rw, err := c.open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.rw = rw
	c.chunks = make(chan []byte, c.bufSize)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connected = true

	go c.read(ctx, rw, c.chunks, c.done)
	return nil
}

// Close stops the reader and closes the stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	err := c.rw.Close()
	c.connected = false
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(closeWait):
		c.log.Warn("reader did not stop after close")
	}
	if err != nil {
		return fmt.Errorf("close %s: %w", c.name, err)
	}
	return nil
}

// Poll drains every chunk queued so far.
func (c *Conn) Poll() []byte {
	c.mu.RLock()
	chunks := c.chunks
	c.mu.RUnlock()
	if chunks == nil {
		return nil
	}

	var out []byte
	for {
		select {
		case p := <-chunks:
			out = append(out, p...)
		default:
			return out
		}
	}
}

// Write sends p over the link.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return 0, ErrNotConnected
	}
	n, err := c.rw.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Dropped returns how many received chunks were discarded because the
// control loop did not poll in time.
func (c *Conn) Dropped() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

func (c *Conn) read(ctx context.Context, r io.Reader, chunks chan<- []byte, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			select {
			case chunks <- p:
			default:
				c.mu.Lock()
				c.dropped++
				c.mu.Unlock()
				c.log.Warn("receive queue full, dropping bytes", "bytes", n)
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.log.Error("read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
