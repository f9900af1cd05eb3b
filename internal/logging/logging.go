// Package logging constructs the process loggers: stderr always, plus a
// size-rotated log file when one is configured.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/placedex/placedex/internal/config"
)

// New returns a logger with the given tag prefix, e.g. "[serve] ".
func New(tag string, cfg config.LogConfig) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return log.New(w, "["+tag+"] ", log.LstdFlags)
}
