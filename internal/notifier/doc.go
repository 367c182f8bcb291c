// Package notifier delivers notification intents to operator chats.
//
// Intents are queued and sent by a small worker pool through a
// transport.Adapter. Sends are rate limited, retried with jittered
// exponential backoff, and identical intents inside the dedup window are
// suppressed. Dedup marks can optionally be persisted so a restart does not
// repeat a notification.
//
// Each intent becomes one chat message: the title in bold, the body below,
// and inline buttons for the click action and the contact's links.
package notifier
