package notifier

import (
	"strings"

	"friendwatch/internal/dispatch"
	kit "friendwatch/internal/transport"
	"friendwatch/pkg/tgui"
)

// Render formats an intent as an HTML chat message with inline buttons.
func Render(in dispatch.NotificationIntent) (string, *kit.SendOptions) {
	text := tgui.JoinH("\n", tgui.B(in.Title), tgui.Esc(strings.TrimSpace(in.Body)))

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	label := "Open DM"
	switch in.Action {
	case dispatch.ActionDismiss:
		label = "Dismiss"
	case dispatch.ActionOpenProfile:
		label = "Open profile"
	}
	// uuid ids always fit the callback limit; anything else gets no action button.
	if data, err := tgui.Data(CallbackNamespace, in.ID); err == nil {
		opt.Buttons = append(opt.Buttons, kit.Button{Text: label, Data: data})
	}
	if in.DMLink != "" {
		opt.Buttons = append(opt.Buttons, kit.Button{Text: "DM", URL: in.DMLink})
	}
	if in.ProfileLink != "" {
		opt.Buttons = append(opt.Buttons, kit.Button{Text: "Profile", URL: in.ProfileLink})
	}
	return text.String(), opt
}

// IntentFromCallback extracts the intent id from button data.
func IntentFromCallback(data string) (string, bool) {
	return tgui.Payload(CallbackNamespace, data)
}
