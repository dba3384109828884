// Package watcher defines the watcher record, the tagged kind union and its
// persisted JSON form, the fired event, and the error taxonomy shared by the
// store, checkers, sinks and supervisor.
package watcher
