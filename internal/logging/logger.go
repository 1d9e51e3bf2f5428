package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Path is the JSON log file. Empty disables file output.
	Path string
	// Level is a zap level name; empty means info.
	Level string
	// Component names the binary (chatd, chattui, chatctl).
	Component string
	// ClientID tags client-side logs with the participant id.
	ClientID string
	// Console also writes human-readable output to stderr.
	Console bool
}

// New creates a zap logger that writes JSON to opts.Path and, if requested,
// console output to stderr. Component, client id and PID are included as
// initial fields.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level))
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	fields := []zap.Field{zap.Int("pid", os.Getpid())}
	if opts.Component != "" {
		fields = append(fields, zap.String("component", opts.Component))
	}
	if opts.ClientID != "" {
		fields = append(fields, zap.String("client_id", opts.ClientID))
	}
	return zap.New(zapcore.NewTee(cores...), zap.Fields(fields...)), nil
}
