// Package logging builds the structured deployment log. Every attempt
// appends JSON lines to <base>/logs/deploy.log; verbose runs mirror them to
// stderr in console form.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogsDir is the log directory under the deployment base
	LogsDir = "logs"
	// FileName is the deployment log file
	FileName = "deploy.log"
)

// Path returns the deployment log path under base
func Path(base string) string {
	return filepath.Join(base, LogsDir, FileName)
}

// New opens the deployment log under base. The returned close function
// syncs and closes the file.
func New(base string, verbose bool) (*zap.Logger, func() error, error) {
	dir := filepath.Join(base, LogsDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(Path(base), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel),
	}
	if verbose {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		_ = logger.Sync()
		return f.Close()
	}
	return logger, closeFn, nil
}

// ForApp annotates logger with the application and attempt identity
func ForApp(logger *zap.Logger, app, attempt string) *zap.Logger {
	return logger.With(zap.String("app", app), zap.String("attempt", attempt))
}
