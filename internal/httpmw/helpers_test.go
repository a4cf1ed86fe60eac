package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

type logEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// recordingLogger keeps With fields and every entry in memory. Loggers
// derived via With share the same sink.
type recordingLogger struct {
	sink   *logSink
	fields []any
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (l *recordingLogger) With(kv ...any) log.Logger {
	f := append(append([]any{}, l.fields...), kv...)
	return &recordingLogger{sink: l.sink, fields: f}
}

func (l *recordingLogger) add(level string, err error, msg string, kv []any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	all := append(append([]any{}, l.fields...), kv...)
	l.sink.entries = append(l.sink.entries, logEntry{level: level, msg: msg, err: err, kv: all})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, kv ...any) {
	l.add("debug", nil, msg, kv)
}

func (l *recordingLogger) Info(_ context.Context, msg string, kv ...any) {
	l.add("info", nil, msg, kv)
}

func (l *recordingLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.add("warn", nil, msg, kv)
}

func (l *recordingLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", err, msg, kv)
}

func (l *recordingLogger) Sync() error { return nil }

func (l *recordingLogger) entries() []logEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]logEntry(nil), l.sink.entries...)
}

func (l *recordingLogger) last(level string) (logEntry, bool) {
	es := l.entries()
	for i := len(es) - 1; i >= 0; i-- {
		if es[i].level == level {
			return es[i], true
		}
	}
	return logEntry{}, false
}

func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
