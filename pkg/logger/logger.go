package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu          sync.Mutex
	globalSugar *zap.SugaredLogger
	globalBase  *zap.Logger
)

// FileOptions configures the optional rotated log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes a global zap logger. The env can be "production" or "development" (default).
// It also redirects the stdlib log output to zap so existing log.Printf calls are captured.
func Init(env string) (*zap.SugaredLogger, error) {
	return InitWithFile(env, FileOptions{Path: os.Getenv("LOG_FILE")})
}

// InitWithFile is Init with an additional rotated file sink. An empty Path disables the file.
func InitWithFile(env string, file FileOptions) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalSugar != nil && globalBase != nil {
		return globalSugar, nil
	}

	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	if file.Path != "" {
		base = base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, newFileCore(cfg, file))
		}))
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base) // route log.Printf to zap

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

// newFileCore builds a JSON core writing to a lumberjack-rotated file.
func newFileCore(cfg zap.Config, file FileOptions) zapcore.Core {
	maxSize := file.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := file.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}

	writer := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    maxSize, // megabytes
		MaxBackups: maxBackups,
		MaxAge:     file.MaxAgeDays,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), cfg.Level)
}

// Base returns the base *zap.Logger (non-sugared).
func Base() *zap.Logger {
	if globalBase == nil {
		env := os.Getenv("LOG_ENV")
		if _, err := Init(env); err != nil {
			mu.Lock()
			base, _ := zap.NewDevelopment()
			globalBase = base
			globalSugar = base.Sugar()
			mu.Unlock()
		}
	}
	return globalBase
}

// SetForTest swaps the global logger, returning a restore func.
func SetForTest(l *zap.Logger) func() {
	mu.Lock()
	prevBase, prevSugar := globalBase, globalSugar
	globalBase = l
	globalSugar = l.Sugar()
	mu.Unlock()

	return func() {
		mu.Lock()
		globalBase, globalSugar = prevBase, prevSugar
		mu.Unlock()
	}
}

// GORMWriter routes gorm's logger output into zap. Slow queries and gorm warnings are
// logged at warn level, everything else at error.
type GORMWriter struct{}

// Printf implements gorm.io/gorm/logger.Writer.
func (GORMWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\r\n")
	if strings.Contains(msg, "SLOW SQL") || strings.Contains(msg, "[warn]") {
		Base().Warn(msg, zap.String("component", "gorm"))
		return
	}
	Base().Error(msg, zap.String("component", "gorm"))
}

func NewGORMWriter() GORMWriter {
	return GORMWriter{}
}

// Sync flushes any buffered log entries.
func Sync() {
	if globalSugar != nil {
		_ = globalSugar.Sync()
	}
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}
