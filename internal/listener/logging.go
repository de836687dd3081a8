package listener

import (
	"github.com/pion/logging"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// loggerFactory adapts our [model.Logger] to the factory the DTLS
// library expects, so handshake diagnostics land in the server log.
type loggerFactory struct {
	logger model.Logger
}

var _ logging.LoggerFactory = &loggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{logger: f.logger, scope: scope}
}

type leveledLogger struct {
	logger model.Logger
	scope  string
}

var _ logging.LeveledLogger = &leveledLogger{}

func (l *leveledLogger) Trace(msg string) {
	l.logger.Debugf("%s: %s", l.scope, msg)
}

func (l *leveledLogger) Tracef(format string, args ...interface{}) {
	l.logger.Debugf(l.scope+": "+format, args...)
}

func (l *leveledLogger) Debug(msg string) {
	l.logger.Debugf("%s: %s", l.scope, msg)
}

func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(l.scope+": "+format, args...)
}

func (l *leveledLogger) Info(msg string) {
	l.logger.Infof("%s: %s", l.scope, msg)
}

func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(l.scope+": "+format, args...)
}

func (l *leveledLogger) Warn(msg string) {
	l.logger.Warnf("%s: %s", l.scope, msg)
}

func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(l.scope+": "+format, args...)
}

func (l *leveledLogger) Error(msg string) {
	l.logger.Errorf("%s: %s", l.scope, msg)
}

func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(l.scope+": "+format, args...)
}
