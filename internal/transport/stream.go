// Package transport owns the agent subprocess and frames JSON-RPC messages
// over its stdio as newline-delimited JSON.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"go.lsp.dev/jsonrpc2"
)

// DefaultMaxLine caps a single inbound frame.
const DefaultMaxLine = 64 << 20

var errLineTooLong = errors.New("frame exceeds line limit")

// Stream is a jsonrpc2.Stream with one JSON document per line. Frames that
// fail to decode are logged and skipped; when a broken frame still carries a
// request id, the peer gets a parse error reply for it.
type Stream struct {
	in      *bufio.Reader
	out     io.Writer
	closer  io.Closer
	maxLine int
	log     logr.Logger

	wmu sync.Mutex
}

var _ jsonrpc2.Stream = (*Stream)(nil)

// NewStream frames messages read from r and written to w. closer is closed
// by Close and may be nil.
func NewStream(r io.Reader, w io.Writer, closer io.Closer, log logr.Logger) *Stream {
	return &Stream{
		in:      bufio.NewReaderSize(r, 64*1024),
		out:     w,
		closer:  closer,
		maxLine: DefaultMaxLine,
		log:     log,
	}
}

// SetMaxLine overrides DefaultMaxLine.
func (s *Stream) SetMaxLine(n int) {
	if n > 0 {
		s.maxLine = n
	}
}

// Read returns the next decodable message.
func (s *Stream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	var total int64
	for {
		select {
		case <-ctx.Done():
			return nil, total, ctx.Err()
		default:
		}
		line, n, err := s.readLine()
		total += n
		if errors.Is(err, errLineTooLong) {
			s.log.Info("dropping oversized frame", "bytes", n, "limit", s.maxLine)
			continue
		}
		if err != nil {
			return nil, total, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc2.DecodeMessage(line)
		if err != nil {
			s.log.Info("dropping malformed frame", "error", err.Error(), "frame", preview(line))
			s.rejectFrame(ctx, line, err)
			continue
		}
		return msg, total, nil
	}
}

func (s *Stream) readLine() ([]byte, int64, error) {
	var (
		line    []byte
		n       int64
		tooLong bool
	)
	for {
		chunk, err := s.in.ReadSlice('\n')
		n += int64(len(chunk))
		if !tooLong {
			if len(line)+len(chunk) > s.maxLine {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !tooLong {
				return line, n, nil
			}
			return nil, n, err
		}
		if tooLong {
			return nil, n, errLineTooLong
		}
		return line, n, nil
	}
}

// rejectFrame answers a broken request that still names an id.
func (s *Stream) rejectFrame(ctx context.Context, line []byte, cause error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return
	}
	rawID, ok := fields["id"]
	if !ok {
		return
	}
	if _, isCall := fields["method"]; !isCall {
		return
	}
	var id jsonrpc2.ID
	if err := json.Unmarshal(rawID, &id); err != nil {
		return
	}
	resp, err := jsonrpc2.NewResponse(id, nil, jsonrpc2.NewError(jsonrpc2.ParseError, cause.Error()))
	if err != nil {
		return
	}
	if _, err := s.Write(ctx, resp); err != nil {
		s.log.Error(err, "reply to malformed frame")
	}
}

// Write sends msg followed by a newline.
func (s *Stream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := s.out.Write(data)
	return int64(n), err
}

// Close closes the underlying pipes.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func preview(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
