package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Logger writes notifications to a zerolog logger.
type Logger struct {
	Log zerolog.Logger
}

func (l Logger) Notify(_ context.Context, n Notification) {
	var ev *zerolog.Event
	switch n.Severity {
	case SeverityError:
		ev = l.Log.Warn()
	case SeveritySuccess, SeverityInfo:
		ev = l.Log.Info()
	default:
		ev = l.Log.Debug()
	}
	ev.Str("severity", string(n.Severity)).
		Str("scope", n.Scope).
		Str("description", n.Description).
		Msg(n.Message)
}
