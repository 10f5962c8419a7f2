package events

import "castbot/pkg/logx"

// Multi delivers each event to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, x := range m {
		if x != nil {
			x.Emit(e)
		}
	}
}

// LogTo mirrors log lines into a structured logger at their level.
// State and run-finished events are logged at debug.
func LogTo(log logx.Logger) Emitter {
	return EmitterFunc(func(e Event) {
		switch e.Kind {
		case KindLog:
			fields := []logx.Field{logx.String("run_id", e.RunID)}
			switch e.Level {
			case LevelError:
				log.Error(e.Text, fields...)
			case LevelWarn:
				log.Warn(e.Text, fields...)
			default:
				log.Info(e.Text, fields...)
			}
		default:
			log.Debug("run "+string(e.Kind), logx.String("run_id", e.RunID), logx.String("state", e.State))
		}
	})
}
