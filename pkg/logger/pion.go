package logger

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionLoggerFactory routes pion's internal logs (ice, dtls, srtp) through zap.
type PionLoggerFactory struct {
	logger *zap.SugaredLogger
}

func NewPionLoggerFactory(logger *zap.SugaredLogger) *PionLoggerFactory {
	return &PionLoggerFactory{logger: logger}
}

func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{logger: f.logger.With("scope", scope)}
}

// pionLogger maps trace to debug; zap has no finer level.
type pionLogger struct {
	logger *zap.SugaredLogger
}

func (l *pionLogger) Trace(msg string)                          { l.logger.Debug(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *pionLogger) Debug(msg string)                          { l.logger.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.logger.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.logger.Infof(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.logger.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.logger.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.logger.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }
