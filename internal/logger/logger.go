package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select how the process logs
type Options struct {
	// Env "production" switches the console to JSON
	Env string
	// Level is a zap level name, debug when empty outside production
	Level string
	// File, when set, also receives every entry as JSON with size based rotation
	File string
	// MaxSizeMB and MaxBackups bound the rotated files
	MaxSizeMB  int
	MaxBackups int
}

// New builds the process logger. The console always gets the entries;
// the rotated file only when Options.File is set.
func New(opts Options) (*zap.Logger, error) {
	production := opts.Env == "production"

	level := zapcore.DebugLevel
	if production {
		level = zapcore.InfoLevel
	}
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig = encoderConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	zapOpts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.File != "" {
		file := fileCore(opts, level)
		zapOpts = append(zapOpts, zap.WrapCore(func(console zapcore.Core) zapcore.Core {
			return zapcore.NewTee(console, file)
		}))
	}

	return cfg.Build(zapOpts...)
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return enc
}

func fileCore(opts Options, level zapcore.LevelEnabler) zapcore.Core {
	size, backups := opts.MaxSizeMB, opts.MaxBackups
	if size <= 0 {
		size = 100
	}
	if backups <= 0 {
		backups = 5
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     28, // days
		Compress:   true,
	})
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, level)
}
