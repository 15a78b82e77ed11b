package listener

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogEntry is one captured log line, served over GET /logs.
type LogEntry struct {
	Seq     uint64  `json:"seq"`
	Time    float64 `json:"time"`
	Level   string  `json:"level"`
	Message string  `json:"message"`
}

// LogBuffer is a zapcore.Core that keeps the most recent entries in a
// fixed-size ring. The forwarder tails it over HTTP by sequence number,
// so entries carry a monotonically increasing Seq.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int
	count   int
	nextSeq uint64
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &LogBuffer{entries: make([]LogEntry, capacity), nextSeq: 1}
}

func (b *LogBuffer) Enabled(lvl zapcore.Level) bool {
	return lvl >= zapcore.InfoLevel
}

func (b *LogBuffer) With(fields []zapcore.Field) zapcore.Core {
	// Contextual fields are folded in at Write time; the ring itself
	// carries no per-logger state.
	return b
}

func (b *LogBuffer) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if b.Enabled(ent.Level) {
		return ce.AddCore(ent, b)
	}
	return ce
}

func (b *LogBuffer) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	msg := ent.Message
	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			f.AddTo(enc)
			parts = append(parts, fmt.Sprintf("%s=%v", f.Key, enc.Fields[f.Key]))
		}
		msg = msg + " " + strings.Join(parts, " ")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	entry := LogEntry{
		Seq:     b.nextSeq,
		Time:    float64(ent.Time.UnixNano()) / 1e9,
		Level:   ent.Level.String(),
		Message: msg,
	}
	b.nextSeq++
	idx := (b.head + b.count) % len(b.entries)
	b.entries[idx] = entry
	if b.count < len(b.entries) {
		b.count++
	} else {
		b.head = (b.head + 1) % len(b.entries)
	}
	return nil
}

func (b *LogBuffer) Sync() error { return nil }

// Since returns retained entries with sequence numbers greater than n,
// oldest first. Entries that fell off the ring are gone; callers track
// the last Seq they saw and tolerate gaps.
func (b *LogBuffer) Since(n uint64) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.entries[(b.head+i)%len(b.entries)]
		if e.Seq > n {
			out = append(out, e)
		}
	}
	return out
}
