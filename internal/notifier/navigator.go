package notifier

import (
	"context"
	"errors"
	"html"

	"friendwatch/internal/dispatch"
	kit "friendwatch/internal/transport"
	logx "friendwatch/pkg/logx"
)

var ErrNoLink = errors.New("notifier: contact has no link for this action")

// ChatNavigator carries out click actions in the chat the click came from.
// Chat clients cannot be driven remotely, so navigation is a reply carrying
// the DM or profile link.
type ChatNavigator struct {
	Adapter kit.Adapter
	Target  kit.ChatTarget
	Log     logx.Logger
}

// For returns a navigator that replies into to.
func (n ChatNavigator) For(to kit.ChatTarget) ChatNavigator {
	n.Target = to
	return n
}

func (n ChatNavigator) OpenDM(ctx context.Context, in dispatch.NotificationIntent) error {
	return n.reply(ctx, "Open DM", in.Title, in.DMLink)
}

func (n ChatNavigator) OpenProfile(ctx context.Context, in dispatch.NotificationIntent) error {
	return n.reply(ctx, "Open profile", in.Title, in.ProfileLink)
}

// Focus has nothing to refocus in a chat client.
func (n ChatNavigator) Focus(context.Context) error {
	n.Log.Trace("focus requested", logx.Int64("chat", n.Target.ChatID))
	return nil
}

func (n ChatNavigator) reply(ctx context.Context, label, title, link string) error {
	if link == "" {
		return ErrNoLink
	}
	if n.Adapter == nil || n.Target.ChatID == 0 {
		return errors.New("notifier: navigator has no chat")
	}
	text := html.EscapeString(title)
	_, err := n.Adapter.SendText(ctx, n.Target, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        []kit.Button{{Text: label, URL: link}},
	})
	return err
}
