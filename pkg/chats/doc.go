// Package chats provides the transcript data model shared by the drivers.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/stepwise/pkg/chats/role]: transcript roles (system, user, assistant)
//   - [github.com/germanamz/stepwise/pkg/chats/message]: immutable text fragments tagged with a role
//   - [github.com/germanamz/stepwise/pkg/chats/chat]: append-only container rendered into a single prompt
//
// No provider or transport code is included; chats is a foundation layer the
// driver builds on.
package chats
