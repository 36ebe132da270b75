// Package simlog provides the structured logger used throughout pogsim:
// every record carries a level, a message and zero or more key/value
// pairs, encoded with logfmt and written to a TTY-aware colored writer.
package simlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/mattn/go-colorable"
)

// Level is the severity of a log record.
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
		return "dbug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "eror"
	default:
		return "????"
	}
}

// Logger writes leveled, keyed log records to an underlying writer.
// A Logger is safe for concurrent use: every node, worldstate task and
// consensus engine in a simulation run shares one output stream.
type Logger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  Level
	ctx    []interface{} // alternating key, value pairs bound via With
}

// Root is the default logger, writing plain logfmt to stderr at info
// level. cmd/pogsim may replace it with one that also tees to output.log.
var Root = New(colorable.NewColorableStderr(), LevelInfo)

// New constructs a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{mu: &sync.Mutex{}, w: w, level: level}
}

// SetLevel adjusts the minimum level this logger will emit.
func (l *Logger) SetLevel(level Level) { l.level = level }

// With returns a derived Logger that always includes the given key/value
// pairs, e.g. simlog.Root.With("component", "node", "index", i).
func (l *Logger) With(kv ...interface{}) *Logger {
	ctx := make([]interface{}, 0, len(l.ctx)+len(kv))
	ctx = append(ctx, l.ctx...)
	ctx = append(ctx, kv...)
	return &Logger{mu: l.mu, w: l.w, level: l.level, ctx: ctx}
}

func (l *Logger) log(level Level, msg string, kv []interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	enc := logfmt.NewEncoder(l.w)
	_ = enc.EncodeKeyval("t", time.Now().Format(time.RFC3339Nano))
	_ = enc.EncodeKeyval("lvl", level.String())
	_ = enc.EncodeKeyval("msg", msg)
	for i := 0; i+1 < len(l.ctx); i += 2 {
		_ = enc.EncodeKeyval(l.ctx[i], l.ctx[i+1])
	}
	for i := 0; i+1 < len(kv); i += 2 {
		_ = enc.EncodeKeyval(kv[i], kv[i+1])
	}
	_ = enc.EndRecord()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv) }

// Fatal logs at error level then exits the process. Reserved for CLI
// startup failures (bad config, unreadable graph file); the simulation
// loop itself never calls this.
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.log(LevelError, msg, kv)
	os.Exit(1)
}

// MultiWriter tees to both the console writer and a plain (uncolored)
// file writer, used by cmd/pogsim to also produce output.log.
func MultiWriter(w ...io.Writer) io.Writer {
	return multiWriter(w)
}

type multiWriter []io.Writer

func (mw multiWriter) Write(p []byte) (int, error) {
	for _, w := range mw {
		if n, err := w.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// ParseLevel maps CLI/config strings to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
