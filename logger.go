package aqmsim

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the logger a LogDesc describes.  Output goes to the rotated
// file ld.File names, or else to out (stderr when out is nil)
func NewLogger(ld LogDesc, out io.Writer) (*zap.Logger, error) {
	level, err := parseLevel(ld.Level)
	if err != nil {
		return nil, err
	}

	if len(ld.File) > 0 {
		out = &lumberjack.Logger{
			Filename:   ld.File,
			MaxSize:    max(ld.MaxSizeMB, 1),
			MaxBackups: ld.MaxBackups,
		}
	}
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(logEncoder(), zapcore.AddSync(out), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

// parseLevel maps a level name onto a zap level; empty means info
func parseLevel(name string) (zapcore.Level, error) {
	if len(strings.TrimSpace(name)) == 0 {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel, configErrorf("unknown log level %q", name)
	}
	return level, nil
}

// logEncoder writes bracketed level, time and caller ahead of each message
func logEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(
		zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller_line",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     encodeTime,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   encodeCaller,
		})
}

func encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

func encodeTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
}

func encodeCaller(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + caller.TrimmedPath() + "]")
}

// orNop substitutes a logger that discards everything for a nil one
func orNop(lg *zap.Logger) *zap.Logger {
	if lg == nil {
		return zap.NewNop()
	}
	return lg
}
