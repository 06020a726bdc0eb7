package translog

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
)

// FileFallback is an append-only JSON-lines file durability backstop for
// transparency events that failed to reach Postgres. It is not queryable
// the way the database mirror is — its sole purpose is to make a chain gap
// recoverable by hand rather than silently lost.
type FileFallback struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileFallback opens (creating if necessary) the fallback log at path
// for appending.
func OpenFileFallback(path string) (*FileFallback, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileFallback{file: f}, nil
}

// Append writes one JSON-encoded log entry followed by a newline.
func (f *FileFallback) Append(entry canonical.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.file.Write(line)
	return err
}

// Close closes the underlying file.
func (f *FileFallback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
