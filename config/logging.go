package config

import (
	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a *zap.Logger for the "logfile"/"dateformat" pool
// options. An empty logfile logs to stderr in zap's usual development
// encoding; a non-empty one is rotated through lumberjack, the Go
// analogue of the original's LogUtil file-based logging.
func NewLogger(logfile, dateFormat string) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = timeEncoder(dateFormat)

	if logfile == "" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = encoderCfg.EncodeTime
		logger, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, zapcore.InfoLevel)
	return zap.New(core)
}

// timeEncoder maps the original's free-form Java SimpleDateFormat
// "dateformat" option onto one of zap's built-in encodings. A
// byte-for-byte format-string translator is out of scope; callers
// wanting a specific on-disk representation can choose "iso8601" or
// leave it unset for zap's default RFC3339 encoding.
func timeEncoder(dateFormat string) zapcore.TimeEncoder {
	if dateFormat == "iso8601" {
		return zapcore.ISO8601TimeEncoder
	}
	return zapcore.RFC3339TimeEncoder
}
