// Package engine is the composition root. It turns a Config into model
// clients, tool servers and driver sessions, and publishes driver activity
// on an EventBus. Commands in cmd/ talk to Engine and Session only.
package engine
