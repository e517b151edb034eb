package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
}

// Logger writes structured JSON to a file and tagged text to the console.
type Logger struct {
	jsonLogger *slog.Logger
	textLogger *slog.Logger
	logFile    *os.File
	mu         sync.RWMutex
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// tagColors maps module tags to console colors.
var tagColors = map[string]string{
	"API":      "\x1b[94m", // authenticated client
	"QUEUE":    "\x1b[92m", // mutation queue
	"CHECKOUT": "\x1b[95m", // orchestrator
	"STORE":    "\x1b[96m", // credential store
	"CATALOG":  "\x1b[36m",
	"CONFIG":   "\x1b[90m",
}

// textHandler renders tagged console output.
type textHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelColor string
	switch r.Level {
	case slog.LevelDebug:
		levelColor = colorDebug
	case slog.LevelWarn:
		levelColor = colorWarn
	case slog.LevelError:
		levelColor = colorError
	default:
		levelColor = colorInfo
	}

	msg := r.Message
	moduleColor := ""
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 1 {
			if c, ok := tagColors[msg[1:end]]; ok {
				moduleColor = c
			}
		}
	}

	var output string
	if moduleColor != "" {
		output = fmt.Sprintf("%s[%s]%s %s%s%s",
			colorTime, timeStr, colorReset,
			moduleColor, msg, colorReset)
	} else {
		output = fmt.Sprintf("%s[%s]%s %s[%s]%s %s",
			colorTime, timeStr, colorReset,
			levelColor, r.Level.String(), colorReset,
			msg)
	}

	if r.NumAttrs() > 0 {
		output += " {"
		r.Attrs(func(a slog.Attr) bool {
			output += fmt.Sprintf(" %s=%v", a.Key, a.Value)
			return true
		})
		output += " }"
	}
	output += "\n"

	_, err := h.writer.Write([]byte(output))
	return err
}

func (h *textHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(string) slog.Handler      { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger. When cfg.Dir is empty only console output is produced.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	l := &Logger{
		textLogger: slog.New(&textHandler{writer: os.Stdout, level: level}),
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		filename := cfg.Filename
		if filename == "" {
			filename = "velofood.log"
		}
		logPath := filepath.Join(cfg.Dir, filename)
		file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.logFile = file
		l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	}

	return l, nil
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ctx := context.Background()
	l.textLogger.Log(ctx, level, msg, args...)
	if l.jsonLogger != nil {
		l.jsonLogger.Log(ctx, level, msg, args...)
	}
}

// Debug logs at debug level. Args are slog key/value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, args...)
}

// FormatTag prefixes a message with a module tag, e.g. "[API] request sent".
// Messages that already carry a tag are returned unchanged.
func FormatTag(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// InfoTag logs an info message with a module tag.
func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.Info(FormatTag(tag, msg), args...)
}

// DebugTag logs a debug message with a module tag.
func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.Debug(FormatTag(tag, msg), args...)
}

// WarnTag logs a warning with a module tag.
func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.Warn(FormatTag(tag, msg), args...)
}

// ErrorTag logs an error with a module tag.
func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.Error(FormatTag(tag, msg), args...)
}

// Slog exposes the console logger for structured integrations.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
