package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"friendwatch/internal/dispatch"
	"friendwatch/internal/notifier"
	"friendwatch/internal/presence"
	kit "friendwatch/internal/transport"
	"friendwatch/pkg/tgui"
)

const trackedPageSize = 25

// QueueStats is the notifier view /status reports.
type QueueStats interface {
	QueueLen() int
	Snapshot() []notifier.HistoryItem
}

// Tracking returns the commands that inspect and edit the tracked set.
func Tracking(engine *presence.Engine, dir dispatch.Directory, queue QueueStats) []Command {
	name := func(id presence.ContactID) string {
		if dir != nil {
			if c, ok := dir.Lookup(id); ok && c.DisplayName() != "" {
				return c.DisplayName() + " (" + id + ")"
			}
		}
		return id
	}
	oneID := func(req *Request) (presence.ContactID, error) {
		if len(req.Args) != 1 || strings.TrimSpace(req.Args[0]) == "" {
			return "", errors.New("usage: /" + req.Command + " <contact id>")
		}
		return strings.TrimSpace(req.Args[0]), nil
	}

	return []Command{
		{
			Name:        "tracked",
			Aliases:     []string{"ls"},
			Description: "list tracked contacts",
			Usage:       "/tracked [page]",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				snap := engine.Tracker().Snapshot()
				if len(snap) == 0 {
					return req.Reply(ctx, "no contacts tracked")
				}
				index := 0
				if len(req.Args) > 0 {
					n, err := strconv.Atoi(req.Args[0])
					if err != nil || n < 1 {
						return req.Reply(ctx, "usage: /tracked [page]")
					}
					index = n - 1
				}
				page := tgui.Paginate(snap, index, trackedPageSize)
				var b strings.Builder
				fmt.Fprintf(&b, "tracking %d contact(s):", page.Total)
				for _, c := range page.Items {
					fmt.Fprintf(&b, "\n- %s: %s", name(c.ID), c.LastStatus)
					if c.LastCustomStatus != nil && c.LastCustomStatus.State != "" {
						fmt.Fprintf(&b, " %q", presence.Truncate(c.LastCustomStatus.State, presence.StatusTextMaxLen))
					}
				}
				if page.Pages > 1 {
					b.WriteString("\n" + page.Label())
				}
				return req.Reply(ctx, b.String())
			},
		},
		{
			Name:        "track",
			Description: "start tracking a contact",
			Usage:       "/track <contact id>",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				id, err := oneID(req)
				if err != nil {
					return req.Reply(ctx, err.Error())
				}
				added, err := engine.Track(ctx, id)
				if err != nil {
					return err
				}
				if !added {
					return req.Reply(ctx, name(id)+" is already tracked")
				}
				return req.Reply(ctx, "now tracking "+name(id))
			},
		},
		{
			Name:        "untrack",
			Description: "stop tracking a contact",
			Usage:       "/untrack <contact id>",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				id, err := oneID(req)
				if err != nil {
					return req.Reply(ctx, err.Error())
				}
				removed, err := engine.Untrack(ctx, id)
				if err != nil {
					return err
				}
				if !removed {
					return req.Reply(ctx, name(id)+" was not tracked")
				}
				return req.Reply(ctx, "stopped tracking "+name(id))
			},
		},
		{
			Name:        "status",
			Description: "show engine state, or one contact",
			Usage:       "/status [contact id]",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) > 0 {
					id := strings.TrimSpace(req.Args[0])
					c, ok := engine.Tracker().Get(id)
					if !ok {
						return req.Reply(ctx, name(id)+" is not tracked")
					}
					text := fmt.Sprintf("%s\nstatus: %s", name(id), c.LastStatus)
					if c.LastCustomStatus != nil {
						text += fmt.Sprintf("\ncustom status: %q", c.LastCustomStatus.State)
					}
					return req.Reply(ctx, text)
				}
				text := fmt.Sprintf("tracked: %d", engine.Tracker().Len())
				if queue != nil {
					hist := queue.Snapshot()
					text += fmt.Sprintf("\nqueued: %d\nsent: %d", queue.QueueLen(), len(hist))
					if n := len(hist); n > 0 {
						last := hist[n-1]
						text += fmt.Sprintf("\nlast: %s (%s)", last.Text, last.At.Format("15:04:05"))
					}
				}
				return req.Reply(ctx, text)
			},
		},
	}
}

// ClickHandler resolves notification buttons through the dispatcher. The
// navigator replies into the chat the click came from.
func ClickHandler(d *dispatch.Dispatcher, nav notifier.ChatNavigator) CallbackFunc {
	return func(ctx context.Context, cb kit.Callback) (string, error) {
		id, ok := notifier.IntentFromCallback(cb.Data)
		if !ok {
			return "", nil
		}
		in, err := d.HandleClickVia(ctx, id, nav.For(kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}))
		if errors.Is(err, dispatch.ErrUnknownIntent) {
			return "this notification has expired", nil
		}
		if err != nil {
			return "", err
		}
		if in.Action == dispatch.ActionDismiss && cb.MessageID != 0 && nav.Adapter != nil {
			_ = nav.Adapter.Delete(ctx, kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID})
		}
		return "", nil
	}
}
