package logging

// DiscardLogger is a no-op logger that discards all log messages.
//
// Note: Fatalf on DiscardLogger does nothing. In production, use a real
// logger with a FatalHandler to catch fatal conditions.
type DiscardLogger struct{}

// Discard is the singleton discard logger.
var Discard Logger = &DiscardLogger{}

func (l *DiscardLogger) Errorf(format string, args ...any) {}
func (l *DiscardLogger) Warnf(format string, args ...any)  {}
func (l *DiscardLogger) Infof(format string, args ...any)  {}
func (l *DiscardLogger) Debugf(format string, args ...any) {}
func (l *DiscardLogger) Fatalf(format string, args ...any) {}
