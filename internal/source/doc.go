// Package source feeds presence data into the engine.
//
// A snapshot file gives the startup view: the contact roster, every
// contact's sessions and activities, and the directory used to name
// contacts. After startup, batches arrive through a Feed. The host either
// pushes them in-process or appends them, one JSON object per line, to a
// spool file that Spool tails.
package source
