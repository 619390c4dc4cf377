// Package logger provides logging utilities for the application.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LevelDebug is for debug messages
	LevelDebug LogLevel = iota
	// LevelInfo is for informational messages
	LevelInfo
	// LevelWarn is for warning messages
	LevelWarn
	// LevelError is for error messages
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a flag value to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}

// Logger is a printf-style logger backed by zap.
type Logger struct {
	mu      sync.RWMutex
	level   LogLevel
	atomic  zap.AtomicLevel
	name    string
	output  io.Writer
	sugar   *zap.SugaredLogger
	fileOut *os.File
}

// defaultLogger is the package-level default logger
var defaultLogger *Logger
var once sync.Once

func init() {
	defaultLogger = New("analyzehub", LevelInfo, os.Stdout)
}

// New creates a new Logger instance
func New(name string, level LogLevel, output io.Writer) *Logger {
	l := &Logger{
		level:  level,
		atomic: zap.NewAtomicLevelAt(level.zapLevel()),
		name:   strings.TrimSpace(name),
		output: output,
	}
	l.sugar = l.build(output)
	return l
}

// NewWithFile creates a new Logger that writes to both stdout and a file
func NewWithFile(name string, level LogLevel, logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("analyzehub-%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := New(name, level, io.MultiWriter(os.Stdout, file))
	l.fileOut = file
	return l, nil
}

func (l *Logger) build(output io.Writer) *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(output), l.atomic)
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	if l.name != "" {
		zl = zl.Named(l.name)
	}
	return zl.Sugar()
}

// Close flushes the logger and closes any associated file handles
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.sugar.Sync()
	if l.fileOut != nil {
		err := l.fileOut.Close()
		l.fileOut = nil
		return err
	}
	return nil
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.atomic.SetLevel(level.zapLevel())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = output
	l.sugar = l.build(output)
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar.Desugar()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	sugar := l.sugar
	l.mu.RUnlock()

	switch level {
	case LevelDebug:
		sugar.Debugf(format, args...)
	case LevelWarn:
		sugar.Warnf(format, args...)
	case LevelError:
		sugar.Errorf(format, args...)
	default:
		sugar.Infof(format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Printf logs a message using Printf format (for compatibility)
func (l *Logger) Printf(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Fatalf logs a fatal error and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
	_ = l.Close()
	os.Exit(1)
}

// Package-level functions that use the default logger

// SetDefaultLevel sets the log level for the default logger
func SetDefaultLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
}

// SetDefaultOutput sets the output for the default logger
func SetDefaultOutput(output io.Writer) {
	defaultLogger.SetOutput(output)
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info logs an informational message using the default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

// Printf logs a message using the default logger
func Printf(format string, args ...interface{}) {
	defaultLogger.Printf(format, args...)
}

// Fatalf logs a fatal error and exits using the default logger
func Fatalf(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// InitDefault initializes the default logger with custom settings. Only the
// first call has an effect.
func InitDefault(name string, level LogLevel, logDir string) error {
	var err error
	once.Do(func() {
		if logDir != "" {
			var l *Logger
			l, err = NewWithFile(name, level, logDir)
			if err == nil {
				defaultLogger = l
			}
			return
		}
		defaultLogger = New(name, level, os.Stdout)
	})
	return err
}

// RequestLogger tags every line with a request id.
type RequestLogger struct {
	logger    *Logger
	requestID string
}

// NewRequestLogger creates a new request-specific logger
func NewRequestLogger(requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    defaultLogger,
		requestID: requestID,
	}
}

// Debug logs a debug message with request context
func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.logger.Debug("[%s] "+format, append([]interface{}{r.requestID}, args...)...)
}

// Info logs an info message with request context
func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.logger.Info("[%s] "+format, append([]interface{}{r.requestID}, args...)...)
}

// Warn logs a warning message with request context
func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.logger.Warn("[%s] "+format, append([]interface{}{r.requestID}, args...)...)
}

// Error logs an error message with request context
func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.logger.Error("[%s] "+format, append([]interface{}{r.requestID}, args...)...)
}
