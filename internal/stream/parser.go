package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Frame is one dispatched server-sent event before JSON decoding.
type Frame struct {
	Event string
	Data  string
	ID    string
	Retry time.Duration
}

// Parser reads frames from an SSE body. Lines may end in LF, CR or CRLF.
type Parser struct {
	r    *bufio.Reader
	done bool

	event string
	data  []string
	id    string
	retry time.Duration
}

// NewParser returns a parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next returns the next frame carrying data, or io.EOF at the end of input.
// A trailing frame without a closing blank line is still returned.
func (p *Parser) Next() (Frame, error) {
	if p.done {
		return Frame{}, io.EOF
	}
	for {
		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			p.done = true
			if len(p.data) > 0 {
				return p.dispatch(), nil
			}
			return Frame{}, io.EOF
		}
		if err != nil {
			return Frame{}, err
		}

		if line == "" {
			if len(p.data) == 0 {
				p.event = ""
				continue
			}
			return p.dispatch(), nil
		}
		if line[0] == ':' {
			continue
		}

		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch name {
		case "data":
			p.data = append(p.data, value)
		case "event":
			p.event = value
		case "id":
			p.id = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				p.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

func (p *Parser) dispatch() Frame {
	f := Frame{
		Event: p.event,
		Data:  strings.Join(p.data, "\n"),
		ID:    p.id,
		Retry: p.retry,
	}
	if f.Event == "" {
		f.Event = "message"
	}
	p.event = ""
	p.data = nil
	return f
}

func (p *Parser) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		switch b {
		case '\n':
			return sb.String(), nil
		case '\r':
			if next, err := p.r.Peek(1); err == nil && next[0] == '\n' {
				_, _ = p.r.ReadByte()
			}
			return sb.String(), nil
		default:
			sb.WriteByte(b)
		}
	}
}

// Decode unmarshals the frame's data as an Event.
func Decode(f Frame) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
