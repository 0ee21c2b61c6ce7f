// Package logging owns the process-wide zap logger.
//
// Init must be called once after config.Load(). Until then L returns a no-op
// logger so packages can log unconditionally in tests.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Init builds the global logger. Development mode uses the console encoder
// with colored levels; otherwise JSON lines go to stdout.
func Init(level string, development bool) error {
	l, err := New(level, development)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	zap.RedirectStdLog(l)
	return nil
}

// New builds a logger without installing it globally.
func New(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Development:       development,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(development),
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !development,
	}
	if development {
		cfg.Encoding = "console"
	}
	return cfg.Build()
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

// L returns the global logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// SetForTest swaps the global logger and returns a restore func.
func SetForTest(l *zap.Logger) func() {
	mu.Lock()
	prev := logger
	logger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() {
	_ = L().Sync()
}

// Sanitize strips newlines and control characters from client-supplied
// strings so they cannot forge log entries.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Container is the field used for container identifiers coming from clients.
func Container(id string) zap.Field {
	return zap.String("container", Sanitize(id))
}

// Conn tags entries with a connection id.
func Conn(id string) zap.Field {
	return zap.String("conn", id)
}
