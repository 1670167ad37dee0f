package process

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// PrefixWriter prefixes each complete line with a tag. Partial lines are held
// until their newline arrives or Flush is called. It is safe for concurrent use
// so stdout and stderr of one command can share it.
type PrefixWriter struct {
	Prefix string
	Writer io.Writer

	mu      sync.Mutex
	pending []byte
}

// NewPrefixWriter returns a writer tagging lines with prefix.
func NewPrefixWriter(prefix string, w io.Writer) *PrefixWriter {
	return &PrefixWriter{Prefix: prefix, Writer: w}
}

func (w *PrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.pending[:i]); err != nil {
			return len(p), err
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush writes any buffered partial line.
func (w *PrefixWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	err := w.emit(w.pending)
	w.pending = nil
	return err
}

func (w *PrefixWriter) emit(line []byte) error {
	line = bytes.TrimSuffix(line, []byte("\r"))
	_, err := fmt.Fprintf(w.Writer, "[%s] %s\n", w.Prefix, line)
	return err
}
