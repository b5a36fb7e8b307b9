package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	for l, name := range levelNames {
		if strings.EqualFold(name, s) {
			return l
		}
	}
	return INFO
}

// Logger writes one Logstash v1 style JSON object per entry.
// Values of secret keys are masked before they are written.
type Logger struct {
	level  Level
	mu     sync.Mutex
	out    io.Writer
	fields []interface{}
	now    func() time.Time
}

// New creates a logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{level: level, out: w, now: time.Now}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return New(io.Discard, ERROR+1) }

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	child := &Logger{level: l.level, out: l.out, now: l.now}
	child.fields = append(append([]interface{}{}, l.fields...), fields...)
	return child
}

// Debug emits a DEBUG-level structured log entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	entry := map[string]interface{}{
		"@timestamp": l.now().UTC().Format(time.RFC3339Nano),
		"@version":   "1",
		"level":      levelNames[level],
		"message":    msg,
	}

	all := append(append([]interface{}{}, l.fields...), fields...)
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		entry[key] = fieldValue(key, all[i+1])
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]interface{}{
			"@timestamp": entry["@timestamp"],
			"@version":   "1",
			"level":      levelNames[level],
			"message":    msg,
			"log_error":  err.Error(),
		})
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

func fieldValue(key string, v interface{}) interface{} {
	if IsSecretKey(key) {
		return Mask
	}
	switch val := v.(type) {
	case error:
		return val.Error()
	case map[string]interface{}:
		return RedactMap(val)
	case fmt.Stringer:
		return val.String()
	}
	return v
}
