package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits used when the config leaves them at zero.
const (
	defaultMaxSizeMB = 100
	defaultMaxFiles  = 5
)

// FileConfig describes a rotating log file.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
}

// NewFileWriter opens a size-rotated log file. Rotated files are gzipped.
func NewFileWriter(cfg FileConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxFiles, defaultMaxFiles),
		Compress:   true,
	}
}

func orDefault(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}
