package narrator

import (
	"sync"
	"time"

	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// Level mirrors the browser console method a message is written with
type Level string

const (
	LevelInfo  Level = "info"
	LevelLog   Level = "log"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Message is one console line
type Message struct {
	Level Level  `json:"level" yaml:"level"`
	Text  string `json:"text" yaml:"text"`
}

// Sink receives narrated messages with the tier they were written at
type Sink interface {
	Emit(tier types.Tier, msg Message)
}

// Entry is a buffered message ready for the browser console
type Entry struct {
	Level Level      `json:"level"`
	Text  string     `json:"text"`
	Tier  types.Tier `json:"tier"`
	At    time.Time  `json:"at"`
}

// Buffer keeps the most recent messages until they are drained
type Buffer struct {
	entries []Entry
	size    int
	lock    sync.Mutex
	now     func() time.Time
}

// NewBuffer creates a buffer holding at most size entries
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 64
	}
	return &Buffer{
		entries: make([]Entry, 0, size),
		size:    size,
		now:     time.Now,
	}
}

// Emit appends a message, dropping the oldest when full
func (b *Buffer) Emit(tier types.Tier, msg Message) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.size-1]
	}
	b.entries = append(b.entries, Entry{
		Level: msg.Level,
		Text:  msg.Text,
		Tier:  tier,
		At:    b.now().UTC(),
	})
}

// Drain returns buffered entries oldest first and empties the buffer
func (b *Buffer) Drain() []Entry {
	b.lock.Lock()
	defer b.lock.Unlock()

	out := b.entries
	b.entries = make([]Entry, 0, b.size)
	return out
}

// Len returns the number of buffered entries
func (b *Buffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.entries)
}

// LogSink writes messages to a zap logger at debug level
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(tier types.Tier, msg Message) {
	s.Logger.Debug("Console narration",
		zap.String("tier", string(tier)),
		zap.String("level", string(msg.Level)),
		zap.String("text", msg.Text))
}

type teeSink []Sink

func (t teeSink) Emit(tier types.Tier, msg Message) {
	for _, s := range t {
		s.Emit(tier, msg)
	}
}

// Tee fans messages out to several sinks
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}
