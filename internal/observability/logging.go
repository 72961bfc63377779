package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig holds configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	OutputPath  string `mapstructure:"output_path"` // empty or "stdout" logs to standard output
	ErrorPath   string `mapstructure:"error_path"`  // optional second sink for error level and above
	Development bool   `mapstructure:"development"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// NewLogger creates a new configured logger instance. File sinks are rotated
// with lumberjack.
func NewLogger(config LoggerConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, config.sink(config.OutputPath), level),
	}
	if config.ErrorPath != "" && !config.Development {
		cores = append(cores, zapcore.NewCore(encoder, config.sink(config.ErrorPath), zapcore.ErrorLevel))
	}

	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if config.Development {
		options = append(options, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), options...), nil
}

// sink returns stdout for an empty path and a rotating file otherwise.
func (c LoggerConfig) sink(path string) zapcore.WriteSyncer {
	if path == "" || path == "stdout" || c.Development {
		return zapcore.AddSync(os.Stdout)
	}
	if path == "stderr" {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	})
}

// SyncLogger flushes buffered logs before shutdown.
func SyncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}
