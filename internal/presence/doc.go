// Package presence decides when a watched contact's presence change is worth
// a notification.
//
// The Tracker holds the last observed coarse status and custom status of
// every tracked contact. For each update, the Engine runs the transition
// classifier first. Only when that reports NoTransition does it run the
// custom-status differ. Tracking state is updated whether or not a
// notification is dispatched.
package presence
