package runner

import (
	"bytes"
	"sync"
)

// tailBuffer keeps only the last N bytes written to it so harness output can
// be attached to the outcome without retaining an unbounded log in memory.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultCaptureBytes
	}
	return &tailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, min(maxBytes, 64*1024)),
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// Copy so the discarded prefix can be collected.
		trimmed := make([]byte, b.maxBytes)
		copy(trimmed, b.contents[len(b.contents)-b.maxBytes:])
		b.contents = trimmed
		b.overflow = true
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

// Tail returns at most the last n bytes.
func (b *tailBuffer) Tail(n int) []byte {
	data := b.Bytes()
	if n > 0 && len(data) > n {
		return data[len(data)-n:]
	}
	return data
}

func (b *tailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow || int64(len(b.contents)) < b.total
}

// lineWriter hands every complete line written to it to fn, without the
// newline. Lines longer than maxLineBytes are dropped; test2json and surefire
// result lines are far shorter, only captured test output gets that long.
type lineWriter struct {
	fn       func(string)
	partial  []byte
	dropping bool
}

const maxLineBytes = 1024 * 1024

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buffer(p)
			break
		}
		w.buffer(p[:i])
		if !w.dropping {
			w.fn(string(w.partial))
		}
		w.partial = w.partial[:0]
		w.dropping = false
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineWriter) buffer(p []byte) {
	if w.dropping {
		return
	}
	if len(w.partial)+len(p) > maxLineBytes {
		w.partial = w.partial[:0]
		w.dropping = true
		return
	}
	w.partial = append(w.partial, p...)
}

// Flush delivers a final line that had no trailing newline.
func (w *lineWriter) Flush() {
	if len(w.partial) > 0 && !w.dropping {
		w.fn(string(w.partial))
	}
	w.partial = w.partial[:0]
	w.dropping = false
}
