package logger

import (
	"io"
	"os"
	"time"

	"bilipub/internal/config"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var base = zerolog.New(os.Stderr).With().Timestamp().Logger()

// splitLevelWriter 按级别分别写入 infoWriter 或 errWriter
type splitLevelWriter struct {
	infoWriter io.Writer
	errWriter  io.Writer
}

func (w splitLevelWriter) Write(p []byte) (n int, err error) {
	// 默认按 info 处理
	return w.infoWriter.Write(p)
}

func (w splitLevelWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	switch level {
	case zerolog.DebugLevel, zerolog.InfoLevel:
		return w.infoWriter.Write(p)
	default:
		return w.errWriter.Write(p)
	}
}

func newFileWriter(path string, rot config.RotateConfig) io.Writer {
	if path == "" {
		return nil
	}
	maxSize := rot.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := rot.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 7
	}
	maxAge := rot.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   rot.Compress,
	}
}

// Init 使用配置初始化全局日志（支持控制台 + 文件，带滚动）
func Init(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	stdoutConsole := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	stderrConsole := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// 支持单文件（file_path）或分别的 stdout_path / stderr_path
	var outFile, errFile io.Writer
	if cfg.FilePath != "" {
		f := newFileWriter(cfg.FilePath, cfg.Rotate)
		outFile = f
		errFile = f
	} else {
		outFile = newFileWriter(cfg.StdoutPath, cfg.Rotate)
		errFile = newFileWriter(cfg.StderrPath, cfg.Rotate)
	}

	infoWriters := []io.Writer{stdoutConsole}
	errWriters := []io.Writer{stderrConsole}
	if outFile != nil {
		infoWriters = append(infoWriters, outFile)
	}
	if errFile != nil {
		errWriters = append(errWriters, errFile)
	}

	base = zerolog.New(splitLevelWriter{
		infoWriter: io.MultiWriter(infoWriters...),
		errWriter:  io.MultiWriter(errWriters...),
	}).With().Timestamp().Logger()
}

func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func Info() *zerolog.Event  { return base.Info() }
func Error() *zerolog.Event { return base.Error() }
func Warn() *zerolog.Event  { return base.Warn() }
func Debug() *zerolog.Event { return base.Debug() }
func Fatal() *zerolog.Event { return base.Fatal() }
func Logger() zerolog.Logger {
	return base
}

// With 返回带 component 字段的子 logger
func With(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
