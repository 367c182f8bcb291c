package dispatch

import (
	"context"

	logx "friendwatch/pkg/logx"
)

// LogSink writes intents to the log. It is the sink used when no chat
// transport is configured.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Show(_ context.Context, in NotificationIntent) error {
	s.Log.Info(in.Title,
		logx.String("intent", in.ID),
		logx.String("contact", in.ContactID),
		logx.String("kind", in.Kind.String()),
		logx.String("body", in.Body),
	)
	return nil
}
