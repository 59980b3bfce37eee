// Package logging configures the process-wide logger. Every subsystem
// logs through github.com/containerd/log's context-carried logger
// (log.G(ctx)), backed by logrus, matching the teacher's bootstrap
// convention in cmd/containerd.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
)

// Config controls where and how verbosely the daemon logs.
type Config struct {
	Level string `toml:"level"`
	// KmsgFallback makes Init write to /dev/kmsg when that device can be
	// opened, and to stderr otherwise. Init does not check whether the
	// process is PID 1.
	KmsgFallback bool `toml:"kmsg_fallback"`
}

// Init installs the process-wide logrus formatter/level and returns the
// writer actually selected, so the PID 1 core can report it before any
// unit output mixes into stdio.
func Init(cfg Config) (io.Writer, error) {
	lvl := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		lvl = parsed
	}

	var out io.Writer = os.Stderr
	if cfg.KmsgFallback {
		if kmsg, err := os.OpenFile("/dev/kmsg", os.O_WRONLY, 0); err == nil {
			out = kmsg
		}
	}

	logrus.SetLevel(lvl)
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: log.RFC3339NanoFixed,
		FullTimestamp:   true,
	})

	log.L = log.L.WithField("subsystem", "sysd")
	return out, nil
}

// WithUnit returns a logger entry scoped to one unit name, the pattern
// every supervisor/job-engine log line goes through.
func WithUnit(name string) *logrus.Entry {
	return log.L.WithField("unit", name)
}
