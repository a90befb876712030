package comm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

const lineBacklog = 1024

// LineReader pumps an io.Reader into a channel of lines in a background
// goroutine.  This lets callers wait on a line with a timeout even when the
// underlying reader blocks, and keeps bytes that arrive between commands.
type LineReader struct {
	lines  chan string
	done   chan struct{}
	prompt []byte

	eofIsTimeout bool

	mu     sync.Mutex
	err    error
	closed bool
}

// NewLineReader starts pumping r.  If eofIsTimeout is true, io.EOF from r is
// treated as "no data yet" (tarm/serial reports read timeouts that way) and
// the pump keeps going until markClosed is called.
func NewLineReader(r io.Reader, eofIsTimeout bool, prompt string) *LineReader {
	lr := &LineReader{
		lines:        make(chan string, lineBacklog),
		done:         make(chan struct{}),
		eofIsTimeout: eofIsTimeout,
	}
	if prompt != "" {
		lr.prompt = []byte(prompt)
	}
	go lr.pump(r)
	return lr
}

func (lr *LineReader) pump(r io.Reader) {
	defer close(lr.lines)
	buf := make([]byte, 256)
	var acc []byte
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == terminator {
				if !lr.emit(string(bytes.TrimRight(acc, "\r"))) {
					return
				}
				acc = acc[:0]
				continue
			}
			acc = append(acc, b)
			if lr.prompt != nil && bytes.HasSuffix(acc, lr.prompt) {
				if !lr.emit(string(acc)) {
					return
				}
				acc = acc[:0]
			}
		}
		if err != nil {
			if lr.eofIsTimeout && errors.Is(err, io.EOF) && !lr.isClosed() {
				continue
			}
			lr.mu.Lock()
			lr.err = err
			lr.mu.Unlock()
			return
		}
	}
}

func (lr *LineReader) emit(line string) bool {
	select {
	case lr.lines <- line:
		return true
	case <-lr.done:
		return false
	}
}

func (lr *LineReader) isClosed() bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.closed
}

func (lr *LineReader) markClosed() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if !lr.closed {
		lr.closed = true
		close(lr.done)
	}
}

// Err returns the error that stopped the pump, if any
func (lr *LineReader) Err() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.err
}

// ReadLine waits for the next line.  A timeout <= 0 waits until ctx is done.
func (lr *LineReader) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case line, ok := <-lr.lines:
		if !ok {
			if err := lr.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return line, nil
	case <-expired:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain discards queued lines and returns how many were dropped
func (lr *LineReader) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-lr.lines:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
