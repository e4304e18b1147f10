package kiss

import (
	"errors"
	"fmt"

	"github.com/dbehnke/kiss-nexus/pkg/logger"
)

// DefaultMaxFrameBytes bounds the in-progress frame accumulator
const DefaultMaxFrameBytes = 4096

var (
	// ErrCallback wraps a failure raised by a FrameHandler
	ErrCallback = errors.New("kiss: frame handler failed")
	// ErrFrameTooLong is reported when no closing FEND arrives within the accumulator limit
	ErrFrameTooLong = errors.New("kiss: unterminated frame exceeds limit")
)

// State is the frame boundary parser state
type State int

const (
	StateIdle         State = iota // Waiting for a FEND
	StateSawDelimiter              // Opening FEND seen
	StateInFrame                   // Accumulating frame bytes
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSawDelimiter:
		return "saw_delimiter"
	case StateInFrame:
		return "in_frame"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameHandler receives one complete, still escaped frame including both
// delimiters. The slice is owned by the handler.
type FrameHandler func(frame []byte) error

// Parser splits an arbitrarily chunked byte stream into KISS frames.
// A Parser belongs to a single connection and is not safe for concurrent use.
type Parser struct {
	handler       FrameHandler
	onFault       func(err error)
	log           *logger.Logger
	maxFrameBytes int

	state State
	cur   []byte
}

// NewParser creates a parser that hands each complete frame to handler
func NewParser(handler FrameHandler, log *logger.Logger) *Parser {
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}
	p := &Parser{
		handler:       handler,
		log:           log,
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	p.Reset()
	return p
}

// WithMaxFrameBytes overrides the accumulator limit. Values <= 0 keep the default.
func (p *Parser) WithMaxFrameBytes(n int) *Parser {
	if n > 0 {
		p.maxFrameBytes = n
	}
	return p
}

// WithFaultHandler registers a hook called for every handler failure and
// every discarded unterminated frame.
func (p *Parser) WithFaultHandler(fn func(err error)) *Parser {
	p.onFault = fn
	return p
}

// Reset drops any partial frame and returns to idle
func (p *Parser) Reset() {
	p.state = StateIdle
	p.cur = p.cur[:0]
}

// State returns the current parser state
func (p *Parser) State() State {
	return p.state
}

// Buffered returns the number of bytes held for the frame in progress
func (p *Parser) Buffered() int {
	return len(p.cur)
}

// Parse consumes a chunk of stream bytes. Frames completed inside the chunk
// are delivered in order; a partial frame at the end is kept for the next call.
func (p *Parser) Parse(chunk []byte) {
	for _, c := range chunk {
		switch p.state {
		case StateIdle:
			if c == FEND {
				p.cur = append(p.cur, c)
				p.state = StateSawDelimiter
			}
		case StateSawDelimiter:
			if c == FEND {
				// FEND FEND: empty frame, start over
				p.Reset()
				continue
			}
			p.cur = append(p.cur, c)
			p.state = StateInFrame
		case StateInFrame:
			p.cur = append(p.cur, c)
			if c == FEND {
				frame := make([]byte, len(p.cur))
				copy(frame, p.cur)
				p.Reset()
				p.deliver(frame)
				continue
			}
			if len(p.cur) > p.maxFrameBytes {
				size := len(p.cur)
				p.Reset()
				p.log.Warn("Discarding unterminated frame", logger.Int("bytes", size))
				p.fault(fmt.Errorf("%w: %d bytes", ErrFrameTooLong, size))
			}
		}
	}
}

// deliver runs the handler with panics and errors contained to this frame
func (p *Parser) deliver(frame []byte) {
	if p.handler == nil {
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: panic: %v", ErrCallback, r)
			}
		}()
		if herr := p.handler(frame); herr != nil {
			err = fmt.Errorf("%w: %w", ErrCallback, herr)
		}
	}()

	if err != nil {
		p.log.Error("Frame handler failed, frame dropped",
			logger.Int("frame_len", len(frame)),
			logger.Error(err))
		p.fault(err)
	}
}

func (p *Parser) fault(err error) {
	if p.onFault != nil {
		p.onFault(err)
	}
}
