// Package dispatch turns presence events into notification intents.
//
// The Dispatcher checks the notification toggles, names the contact through
// a Directory, hands the intent to a Sink and remembers it so a later click
// can be resolved to its action.
package dispatch
