package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// Handler executes a parsed command.
type Handler func(cmd Command) error

// Dispatcher routes command lines to handlers by exact name. Every failure
// produces exactly one ERROR line on the writer.
type Dispatcher struct {
	out      *Writer
	handlers map[string]Handler
	pending  func(line string) error
}

func NewDispatcher(out *Writer) *Dispatcher {
	return &Dispatcher{
		out:      out,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for name, replacing any previous handler.
func (d *Dispatcher) Handle(name string, h Handler) {
	d.handlers[name] = h
}

// Expect makes the next dispatched line go to fn verbatim instead of being
// parsed as a command.
func (d *Dispatcher) Expect(fn func(line string) error) {
	d.pending = fn
}

// Expecting reports whether a raw line is awaited.
func (d *Dispatcher) Expecting() bool {
	return d.pending != nil
}

// Names returns the registered command names in sorted order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch parses and executes one line. The returned error has already
// been reported on the writer.
func (d *Dispatcher) Dispatch(line string) error {
	if fn := d.pending; fn != nil {
		d.pending = nil
		return d.report(fn(line))
	}

	cmd, err := Parse(line)
	switch {
	case errors.Is(err, ErrMalformed):
		return d.fail(err, fmt.Sprintf("Malformed command '%s'", line))
	case errors.Is(err, ErrInvalidValue):
		return d.fail(err, fmt.Sprintf("Invalid value '%s' for '%s'", cmd.Arg, cmd.Name))
	case err != nil:
		return d.report(err)
	}

	h, ok := d.handlers[cmd.Name]
	if !ok {
		err := fmt.Errorf("unknown command %q", cmd.Name)
		return d.fail(err, fmt.Sprintf("Unknown command '%s'", cmd.Name))
	}
	if err := h(cmd); errors.Is(err, ErrInvalidValue) {
		return d.fail(err, fmt.Sprintf("Invalid value '%s' for '%s'", cmd.Arg, cmd.Name))
	} else if err != nil {
		return d.report(err)
	}
	return nil
}

func (d *Dispatcher) fail(err error, msg string) error {
	if d.out != nil {
		d.out.Error(msg)
	}
	return err
}

func (d *Dispatcher) report(err error) error {
	if err == nil {
		return nil
	}
	return d.fail(err, err.Error())
}
