package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level       string
	Format      string
	ServiceName string
	// FilePath enables a rotating JSON log file in addition to stdout.
	FilePath       string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// New builds a zap logger. Level defaults to info, format to json.
func New(opts Options) (*zap.Logger, error) {
	level := ParseLevel(opts.Level)

	var encoder zapcore.Encoder
	if strings.EqualFold(opts.Format, "console") {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}
	if opts.FilePath != "" {
		cores = append(cores, zapcore.NewCore(
			fileEncoder(),
			zapcore.AddSync(newRotatingFile(opts)),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.ServiceName != "" {
		logger = logger.With(zap.String("service_name", opts.ServiceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level, falling back to info.
func ParseLevel(value string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fileEncoder() zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderCfg)
}

func newRotatingFile(opts Options) *lumberjack.Logger {
	maxSize := opts.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.FileMaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := opts.FileMaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}
	return &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
}
