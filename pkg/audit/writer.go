package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// writerSink streams entries as JSON lines to a configurable writer.
// The AUDIT: prefix keeps records easy to filter out of mixed output.
type writerSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink returns an EntryHandler that writes each entry to w.
// A nil writer defaults to os.Stdout. Injection allows testing and
// custom sinks.
func NewWriterSink(w io.Writer) EntryHandler {
	if w == nil {
		w = os.Stdout
	}
	s := &writerSink{writer: w}
	return s.handle
}

func (s *writerSink) handle(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = s.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
}
