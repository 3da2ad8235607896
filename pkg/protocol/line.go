// Package protocol implements the newline-terminated, comma-delimited
// command protocol spoken over the rig's serial command channel.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is the wire protocol version announced at boot.
const Version = 1

// MaxLine is the longest accepted command line, excluding the terminator.
const MaxLine = 128

// LineReader accumulates bytes until a newline. It never blocks and keeps
// partial lines across calls.
type LineReader struct {
	buf       [MaxLine]byte
	pos       int
	overflow  bool
	overflows int
}

// Feed consumes p and returns every complete, trimmed, non-empty line.
// Lines longer than MaxLine are discarded.
func (r *LineReader) Feed(p []byte) []string {
	var lines []string
	for _, c := range p {
		switch c {
		case '\n':
			if r.overflow {
				r.overflows++
			} else if line := strings.TrimSpace(string(r.buf[:r.pos])); line != "" {
				lines = append(lines, line)
			}
			r.pos = 0
			r.overflow = false
		default:
			if r.pos >= MaxLine {
				r.overflow = true
				continue
			}
			r.buf[r.pos] = c
			r.pos++
		}
	}
	return lines
}

// Pending returns the number of buffered bytes of an incomplete line.
func (r *LineReader) Pending() int { return r.pos }

// Overflows returns how many over-long lines were discarded.
func (r *LineReader) Overflows() int { return r.overflows }

var (
	ErrMalformed    = errors.New("malformed command")
	ErrInvalidValue = errors.New("invalid value")
)

// Command is a parsed command line.
type Command struct {
	Name  string
	Arg   string // raw text after the first comma
	Value int
}

// Parse splits line into a command name and an integer value. The name is
// the text before the first comma. An empty value parses as 0.
func Parse(line string) (Command, error) {
	name, arg, ok := strings.Cut(strings.TrimSpace(line), ",")
	cmd := Command{Name: strings.TrimSpace(name), Arg: strings.TrimSpace(arg)}
	if !ok || cmd.Name == "" {
		return cmd, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	if cmd.Arg == "" {
		return cmd, nil
	}
	v, err := strconv.Atoi(cmd.Arg)
	if err != nil {
		return cmd, fmt.Errorf("%w %q for %s", ErrInvalidValue, cmd.Arg, cmd.Name)
	}
	cmd.Value = v
	return cmd, nil
}

// String formats the command back into its wire form.
func (c Command) String() string {
	return c.Name + "," + strconv.Itoa(c.Value)
}
