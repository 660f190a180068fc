package route

import (
	"context"
	"fmt"
	"strings"

	"github.com/petr-muller/herald/internal/notify"
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/tracker"
)

// Identity derives the stable identity of a notification. Redelivery of the
// same webhook produces the same identity, so a duplicate updates the
// existing notification instead of posting a second one.
func Identity(event *tracker.Event) string {
	name := strings.TrimPrefix(event.WebhookEvent, "jira:")
	return fmt.Sprintf("jira/%s/%s/%d", name, event.Issue.Key, event.Timestamp)
}

func issueRef(event *tracker.Event) string {
	if event.Issue.Self != "" {
		return event.Issue.Self
	}
	return event.Issue.Key
}

// Compose builds the notification for a classified event. Issue detail and
// available transitions come through the cached fetcher; deleted issues are
// rendered from the payload alone since their detail is no longer
// fetchable.
func (r *Router) Compose(ctx context.Context, event *tracker.Event, category prefs.Category, channels []string, newEvent bool) (*notify.Message, error) {
	message := &notify.Message{
		Identity: Identity(event),
		Post:     notify.PostAlways,
		Channels: channels,
	}
	if !newEvent {
		message.Post = notify.PostUpdateOnly
	}

	key := event.Issue.Key

	if category == prefs.IssueDeleted {
		summary := ""
		if event.Issue.Fields != nil {
			summary = event.Issue.Fields.Summary
		}
		message.Text = strings.TrimSpace(fmt.Sprintf("%s deleted: %s", key, summary))
		return message, nil
	}

	issue, err := r.fetcher.Issue(ctx, issueRef(event))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	switch category {
	case prefs.IssueCreated:
		fmt.Fprintf(&b, "%s created: %s", key, issue.Fields.Summary)
	case prefs.IssueComment:
		fmt.Fprintf(&b, "%s commented: %s", key, issue.Fields.Summary)
		if event.Comment != nil {
			fmt.Fprintf(&b, "\n> %s", event.Comment.Body)
		}
	case prefs.IssueStatus:
		fmt.Fprintf(&b, "%s status changed: %s", key, issue.Fields.Summary)
		if event.Changelog != nil {
			for _, item := range event.Changelog.Items {
				if item.Field == "status" {
					fmt.Fprintf(&b, "\nstatus: %s -> %s", item.FromString, item.ToString)
				}
			}
		}
	case prefs.IssueState:
		fmt.Fprintf(&b, "%s updated: %s", key, issue.Fields.Summary)
		if event.Changelog != nil {
			for _, item := range event.Changelog.Items {
				fmt.Fprintf(&b, "\n%s: %s -> %s", item.Field, item.FromString, item.ToString)
			}
		}
	}

	if issue.Fields.Status != nil {
		fmt.Fprintf(&b, "\nstatus: %s", issue.Fields.Status.Name)
	}
	if issue.Fields.Assignee != nil {
		fmt.Fprintf(&b, "\nassignee: %s", issue.Fields.Assignee.DisplayName)
	}
	message.Text = b.String()

	// Comments do not move issues, so the action list is only built where a
	// transition is a plausible next step.
	if category != prefs.IssueComment {
		transitions, err := r.fetcher.Transitions(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, transition := range transitions {
			message.Actions = append(message.Actions, notify.Action{
				Name:  transition.Name,
				Value: transition.ID,
			})
		}
	}

	return message, nil
}
