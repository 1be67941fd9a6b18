package training

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// ipcCore is a zap core turning entries into Log messages, so a worker's
// logs end up in the queue's logger.
type ipcCore struct {
	zapcore.LevelEnabler
	send   func(LogEntry)
	fields []zapcore.Field
}

func newIPCCore(level zapcore.LevelEnabler, send func(LogEntry)) *ipcCore {
	return &ipcCore{LevelEnabler: level, send: send}
}

func (c *ipcCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *ipcCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *ipcCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}
	c.send(fromZapEntry(entry, append(append([]zapcore.Field{}, c.fields...), fields...)))
	return nil
}

func (c *ipcCore) Sync() error { return nil }

func fromZapEntry(entry zapcore.Entry, fields []zapcore.Field) LogEntry {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	out := LogEntry{
		Level:   entry.Level.String(),
		Logger:  entry.LoggerName,
		Message: entry.Message,
	}
	if len(enc.Fields) > 0 {
		out.Fields = make(map[string]any, len(enc.Fields))
		for k, v := range enc.Fields {
			switch x := v.(type) {
			case time.Duration:
				out.Fields[k] = x.String()
			case time.Time:
				out.Fields[k] = x.Format(time.RFC3339)
			case error:
				out.Fields[k] = x.Error()
			default:
				out.Fields[k] = v
			}
		}
	}
	return out
}
