package core

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// LogRingBuffer keeps the most recent log lines in memory for the API.
// It is an io.Writer fed with zerolog JSON output.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	pos     int
	full    bool
}

// NewLogRingBuffer creates a buffer that holds up to maxSize entries.
func NewLogRingBuffer(maxSize int) *LogRingBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &LogRingBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

func (b *LogRingBuffer) Write(p []byte) (int, error) {
	entry := parseLogLine(p)

	b.mu.Lock()
	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

func parseLogLine(p []byte) LogEntry {
	entry := LogEntry{Timestamp: time.Now().UTC()}

	var fields struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
		Time      string `json:"time"`
	}
	if err := json.Unmarshal(p, &fields); err != nil {
		entry.Message = strings.TrimSpace(string(p))
		return entry
	}
	entry.Level = fields.Level
	entry.Component = fields.Component
	entry.Message = fields.Message
	if ts, err := time.Parse(time.RFC3339, fields.Time); err == nil {
		entry.Timestamp = ts.UTC()
	}
	return entry
}

// Recent returns up to n entries in chronological order.
func (b *LogRingBuffer) Recent(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := b.pos
	if b.full {
		total = b.maxSize
	}
	if n > total {
		n = total
	}
	if n <= 0 {
		return []LogEntry{}
	}

	out := make([]LogEntry, n)
	start := (b.pos - n + b.maxSize) % b.maxSize
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%b.maxSize]
	}
	return out
}

// Tee returns a writer that feeds both w and the buffer.
func (b *LogRingBuffer) Tee(w io.Writer) io.Writer {
	return io.MultiWriter(w, b)
}
