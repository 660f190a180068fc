package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"sigs.k8s.io/prow/pkg/slack"
)

// SlackNotifier delivers notifications through the Slack chat API.
type SlackNotifier struct {
	client *slack.Client
	log    *logrus.Entry
}

// NewSlackNotifier creates a notifier using the given token generator, so a
// rotated token is picked up without a restart.
func NewSlackNotifier(tokenGenerator func() []byte) *SlackNotifier {
	return &SlackNotifier{
		client: slack.NewClient(tokenGenerator),
		log:    logrus.WithField("component", "slack"),
	}
}

// Send posts the message to every addressed channel. The plain chat API
// cannot update an existing post, so an update_only message for an identity
// already delivered is dropped: the original post stands.
func (n *SlackNotifier) Send(ctx context.Context, message *Message) error {
	if message.Post == PostUpdateOnly {
		n.log.WithField("identity", message.Identity).Debug("suppressing redelivered notification")
		return nil
	}

	text := message.Text
	if len(message.Actions) > 0 {
		var names []string
		for _, action := range message.Actions {
			names = append(names, action.Name)
		}
		text += "\nAvailable transitions: " + strings.Join(names, ", ")
	}

	for _, channel := range message.Channels {
		if err := n.client.WriteMessage(text, channel); err != nil {
			return fmt.Errorf("cannot deliver notification to %s: %w", channel, err)
		}
		n.log.WithField("identity", message.Identity).WithField("channel", channel).Info("delivered notification")
	}

	return nil
}
