package stream

import (
	"academy/academy/utils/logging"
	"bytes"

	"go.uber.org/zap"
)

const DefaultMaxRetries = 3

// Parser reassembles content fragments from an incrementally delivered
// event stream. It buffers raw bytes and only splits on '\n', so a multi-byte
// character cut between two chunks is decoded intact.
//
// A data line whose JSON does not parse is put back at the head of the buffer
// and the rest of the chunk waits for the next Push. After MaxRetries attempts
// the line is logged and dropped so a permanently malformed line cannot stall
// the stream.
//
// A Parser handles exactly one stream and is not safe for concurrent use.
type Parser struct {
	MaxRetries int

	buf     []byte
	retries int
	done    bool
}

func NewParser(maxRetries int) *Parser {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Parser{MaxRetries: maxRetries}
}

// Done reports whether the terminator has been seen.
func (p *Parser) Done() bool {
	return p.done
}

// Push appends a chunk and returns every fragment that became available.
func (p *Parser) Push(chunk []byte) []string {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)
	return p.drain(true)
}

// Flush is called once the underlying stream has ended. Remaining lines,
// including an unterminated last line, are processed without retries.
func (p *Parser) Flush() []string {
	if p.done {
		return nil
	}
	if len(p.buf) > 0 && p.buf[len(p.buf)-1] != '\n' {
		p.buf = append(p.buf, '\n')
	}
	out := p.drain(false)
	p.buf = nil
	return out
}

func (p *Parser) drain(retry bool) []string {
	var out []string
	for !p.done {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		raw := p.buf[:idx]
		rest := p.buf[idx+1:]
		line := string(bytes.TrimSuffix(raw, []byte{'\r'}))

		ev := ClassifyLine(line)
		switch ev.Kind {
		case KindBlank, KindComment:
			p.consume(rest)
			continue
		case KindTerminator:
			p.done = true
			// anything after the terminator is abandoned
			p.buf = nil
			return out
		}

		content, ok, err := DecodeDelta(ev.Payload)
		if err != nil {
			if retry && p.retries < p.MaxRetries-1 {
				// leave the line (newline included) at the head of the buffer
				p.retries++
				return out
			}
			logging.ErrorLogger.Error("stream: dropping malformed data line",
				zap.Error(err),
				zap.String("raw_line", line),
				zap.Int("attempts", p.retries+1))
			p.consume(rest)
			continue
		}
		p.consume(rest)
		if ok {
			out = append(out, content)
		}
	}
	return out
}

func (p *Parser) consume(rest []byte) {
	p.buf = rest
	p.retries = 0
}
