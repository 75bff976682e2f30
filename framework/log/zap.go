package log

import "go.uber.org/zap/zapcore"

// zapCore adapts Logger into the zapcore.Core interface so Zap() can
// hand out a real *zap.Logger backed by the same Output.
type zapCore struct {
	l Logger
}

func (c zapCore) Enabled(level zapcore.Level) bool {
	if c.l.Debug {
		return true
	}
	return level > zapcore.DebugLevel
}

func (c zapCore) With(fields []zapcore.Field) zapcore.Core {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	merged := make(map[string]interface{}, len(c.l.Fields)+len(enc.Fields))
	for k, v := range c.l.Fields {
		merged[k] = v
	}
	for k, v := range enc.Fields {
		merged[k] = v
	}
	c.l.Fields = merged
	return c
}

func (c zapCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c zapCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	if entry.LoggerName != "" {
		c.l.Name += "/" + entry.LoggerName
	}
	c.l.log(entry.Level == zapcore.DebugLevel, c.l.formatMsg(entry.Message, enc.Fields))
	return nil
}

func (zapCore) Sync() error { return nil }
