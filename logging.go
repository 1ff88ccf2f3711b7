package hotswap

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// NewLogger returns the dedicated "scripts.hotswap" logging channel.
// Level semantics: trace per-event, info lifecycle milestones, warn
// recoverable anomalies, error failed operations.
// Output is a human-readable formatter when stderr is a terminal, JSON
// otherwise, following pkg/log's development/production split.
func NewLogger() *logrus.Entry {
	log := logrus.New()
	log.Out = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{}
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("HOTSWAP_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log.WithField("channel", "scripts.hotswap")
}
