// Package logger is the process-wide diagnostics sink.
//
// Records are emitted synchronously until Start is called. After Start they
// travel through a bounded queue to a single background consumer, so callers
// on the filesystem hot path never wait on log output. When the queue is full
// the record is dropped and counted.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) charm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// ErrInvalidCapacity is returned by Start for a non-positive queue size.
var ErrInvalidCapacity = errors.New("logger: queue capacity must be positive")

type record struct {
	level Level
	msg   string
}

type queue struct {
	records chan record
	done    chan struct{}
	dropped atomic.Uint64
}

var (
	currentLevel atomic.Int32

	emitterMu sync.Mutex
	emitter   = newEmitter(os.Stderr)

	// queueMu guards the queue pointer. Producers hold it shared while
	// enqueueing so Stop cannot close the channel under them.
	queueMu sync.RWMutex
	active  *queue
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func newEmitter(w io.Writer) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           charmlog.DebugLevel,
		Prefix:          "branchfs",
	})
}

// SetLevel sets the minimum level by name (DEBUG, INFO, WARN, ERROR).
// Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetFormat selects the output encoding: "text", "json" or "logfmt".
func SetFormat(format string) {
	var f charmlog.Formatter
	switch strings.ToLower(format) {
	case "json":
		f = charmlog.JSONFormatter
	case "logfmt":
		f = charmlog.LogfmtFormatter
	default:
		f = charmlog.TextFormatter
	}
	emitterMu.Lock()
	emitter.SetFormatter(f)
	emitterMu.Unlock()
}

// SetOutput redirects emitted records to w.
func SetOutput(w io.Writer) {
	emitterMu.Lock()
	emitter.SetOutput(w)
	emitterMu.Unlock()
}

// Start switches to asynchronous emission through a queue holding at most
// capacity records. Calling Start while already started is a no-op.
func Start(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	queueMu.Lock()
	defer queueMu.Unlock()
	if active != nil {
		return nil
	}

	q := &queue{
		records: make(chan record, capacity),
		done:    make(chan struct{}),
	}
	go q.drain()
	active = q
	return nil
}

// Stop flushes queued records, stops the consumer and returns to synchronous
// emission. It returns the number of records dropped since Start.
func Stop() uint64 {
	queueMu.Lock()
	q := active
	active = nil
	queueMu.Unlock()

	if q == nil {
		return 0
	}
	close(q.records)
	<-q.done
	return q.dropped.Load()
}

// Dropped returns the number of records dropped by the running queue.
func Dropped() uint64 {
	queueMu.RLock()
	defer queueMu.RUnlock()
	if active == nil {
		return 0
	}
	return active.dropped.Load()
}

func (q *queue) drain() {
	defer close(q.done)
	for r := range q.records {
		emit(r)
	}
}

func emit(r record) {
	emitterMu.Lock()
	emitter.Log(r.level.charm(), r.msg)
	emitterMu.Unlock()
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	r := record{level: level, msg: fmt.Sprintf(format, v...)}

	queueMu.RLock()
	q := active
	if q != nil {
		select {
		case q.records <- r:
		default:
			q.dropped.Add(1)
		}
	}
	queueMu.RUnlock()

	if q == nil {
		emit(r)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
