package logs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger logger interface
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

// LogLevel log level
type LogLevel int

const (
	//Debug enable debug or above log output
	Debug LogLevel = 0
	//Info enable info or above log output
	Info LogLevel = 1
	//Warn enable warn or above log output
	Warn LogLevel = 2
	//Error enable error or above log output
	Error LogLevel = 3
)

func (ll LogLevel) String() string {
	if ll == Debug {
		return "DEBUG"
	} else if ll == Info {
		return "INFO"
	} else if ll == Warn {
		return "WARN"
	} else if ll == Error {
		return "ERROR"
	}
	return ""
}

func (ll LogLevel) zapLevel() zapcore.Level {
	switch ll {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

//ParseLevel parse a level name such as "info", case insensitive
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return Debug, nil
	case "", "INFO":
		return Info, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	}
	return Info, fmt.Errorf("unknown log level:%v", level)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newZapLogger(encoder zapcore.Encoder, writer io.Writer, logLevel LogLevel) *zapLogger {
	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), logLevel.zapLevel())
	return NewZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

//NewLogger init Logger instance writing plain text lines to writer
func NewLogger(writer io.Writer, logLevel LogLevel) *zapLogger {
	return newZapLogger(zapcore.NewConsoleEncoder(encoderConfig()), writer, logLevel)
}

//NewJSONLogger init Logger instance writing one json object per line to writer
func NewJSONLogger(writer io.Writer, logLevel LogLevel) *zapLogger {
	return newZapLogger(zapcore.NewJSONEncoder(encoderConfig()), writer, logLevel)
}

//NewZapLogger adapt an existing zap logger
func NewZapLogger(l *zap.Logger) *zapLogger {
	return &zapLogger{sugar: l.Sugar()}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Debugf(msg, args...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Infof(msg, args...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Warnf(msg, args...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Errorf(msg, args...)
}

//Sync flush buffered log entries
func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}
