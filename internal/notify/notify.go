package notify

import (
	"context"
)

// PostMode controls update-vs-repost semantics for redelivered events.
type PostMode string

const (
	// PostAlways posts a new notification.
	PostAlways PostMode = "always"
	// PostUpdateOnly updates the notification already posted for the same
	// identity instead of posting a duplicate.
	PostUpdateOnly PostMode = "update_only"
)

// Action is an interactive element attached to a notification, one per
// available issue transition.
type Action struct {
	Name  string
	Value string
}

// Message is one outbound notification. Identity is stable per
// (event, issue, timestamp) so at-least-once webhook delivery results in at
// most one visible notification per channel.
type Message struct {
	Identity string
	Post     PostMode
	Channels []string
	Text     string
	Actions  []Action
}

// Notifier hands a composed message to the chat-delivery collaborator.
type Notifier interface {
	Send(ctx context.Context, message *Message) error
}
