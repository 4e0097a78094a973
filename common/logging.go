// Package common holds the small set of ambient helpers shared across
// xronox's internal packages: structured logging and a handful of
// generic utility functions. None of it is domain-specific.
package common

import (
	"bytes"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted lines to stderr when they carry
// level=error (or higher) and to stdout otherwise, so operators can tail
// error output separately without a second log pipeline.
type OutputSplitter struct {
	mu sync.Mutex
}

// Write implements io.Writer. logrus always calls Write once per
// formatted entry, so a cheap substring check is enough to route it.
func (s *OutputSplitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) || bytes.Contains(p, []byte("level=panic")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func baseLogger() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(&OutputSplitter{})
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if lvl := strings.ToLower(os.Getenv("XRONOX_LOG_LEVEL")); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				base.SetLevel(parsed)
			}
		}
	})
	return base
}

// NewLogger returns a component-scoped entry. Every internal package logs
// through one of these rather than through the package-level logrus
// singleton directly, so log lines are always attributable.
func NewLogger(component string) *logrus.Entry {
	return baseLogger().WithField("component", component)
}
