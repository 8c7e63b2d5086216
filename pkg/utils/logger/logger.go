// Package logger wraps go.uber.org/zap with the call shape the rest of
// this module expects: a package-level default logger plus a
// constructor for rotated file output, following the contract
// pkg/utils/config originally wrote against (log.New,
// log.NewProductionRotateByTime, log.ReplaceDefault, log.SetLevel,
// log.Sync, and the Debug/Info/Warn/Error/Fatalf family).
package logger

import (
	"fmt"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level aliases zapcore.Level so callers never import zapcore directly.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger is a thin handle around a zap.SugaredLogger, letting callers
// hold a named logger while the package-level functions below still
// work against a swappable default.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var std = newDefault()

func newDefault() *Logger {
	level := zap.NewAtomicLevelAt(InfoLevel)
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stdWriter{})), level)
	return &Logger{sugar: zap.New(core).Sugar(), level: level}
}

// stdWriter routes zap's byte-oriented WriteSyncer to fmt.Print so no
// direct os.Stdout coupling is needed at package init.
type stdWriter struct{}

func (stdWriter) Write(p []byte) (int, error) {
	fmt.Print(string(p))
	return len(p), nil
}

func (stdWriter) Sync() error { return nil }

// New builds a Logger writing through out at the given level, console-
// encoded like the default, for use with New(out, level) +
// ReplaceDefault(logger).
func New(out zapcore.WriteSyncer, level Level) *Logger {
	al := zap.NewAtomicLevelAt(level)
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, out, al)
	return &Logger{sugar: zap.New(core).Sugar(), level: al}
}

// NewProductionRotateByTime builds a WriteSyncer that rotates path
// hourly via file-rotatelogs, keeping 7 days of history. Used for
// long-lived daemon logs where the rotation boundary should be wall-
// clock time rather than file size.
func NewProductionRotateByTime(path string) zapcore.WriteSyncer {
	w, err := rotatelogs.New(
		path+".%Y%m%d%H",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return zapcore.AddSync(stdWriter{})
	}
	return zapcore.AddSync(w)
}

// NewSizeRotated builds a WriteSyncer that rotates path once it exceeds
// maxSizeMB, keeping maxBackups old files compressed. Used where disk
// pressure, not log age, is the rotation trigger.
func NewSizeRotated(path string, maxSizeMB, maxBackups int) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

// ReplaceDefault swaps the package-level logger used by Info/Debug/...
func ReplaceDefault(l *Logger) {
	std = l
}

// SetLevel adjusts the default logger's minimum level in place.
func SetLevel(level Level) {
	std.level.SetLevel(level)
}

// Sync flushes the default logger's underlying writer.
func Sync() error {
	return std.sugar.Sync()
}

// GetError normalizes a possibly-nil error into a loggable zap field
// value, matching the discovery package's log.Error("msg:", log.GetError(err))
// call shape.
func GetError(err error) error {
	return err
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

func (l *Logger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.sugar.Error(args...) }

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }
func Printf(format string, args ...interface{}) { std.Infof(format, args...) }

func Debug(args ...interface{}) { std.Debug(args...) }
func Info(args ...interface{})  { std.Info(args...) }
func Warn(args ...interface{})  { std.Warn(args...) }
func Error(args ...interface{}) { std.Error(args...) }
