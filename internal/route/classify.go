package route

import (
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/tracker"
)

// rule maps one (webhookEvent, issue_event_type_name) pair to a notification
// category. An empty eventType matches any sub-classification.
type rule struct {
	webhookEvent string
	eventType    string
	category     prefs.Category
}

// categoryRules is the complete classification table. Pairs not listed here
// yield no category: the event is logged and dropped, not an error.
var categoryRules = []rule{
	{webhookEvent: tracker.WebhookIssueCreated, eventType: tracker.EventTypeIssueCreated, category: prefs.IssueCreated},
	{webhookEvent: tracker.WebhookIssueDeleted, category: prefs.IssueDeleted},
	{webhookEvent: tracker.WebhookCommentCreated, category: prefs.IssueComment},
	{webhookEvent: tracker.WebhookIssueUpdated, eventType: tracker.EventTypeIssueGeneric, category: prefs.IssueStatus},
	{webhookEvent: tracker.WebhookIssueUpdated, eventType: tracker.EventTypeIssueUpdated, category: prefs.IssueState},
	{webhookEvent: tracker.WebhookIssueUpdated, eventType: tracker.EventTypeIssueAssigned, category: prefs.IssueState},
}

// Classify determines the notification category of an event. The second
// return value is false when no rule matches. An update whose changelog
// includes a status change is a status notification even when the tracker
// tagged it with a generic update sub-classification.
func Classify(event *tracker.Event) (prefs.Category, bool) {
	for _, r := range categoryRules {
		if r.webhookEvent != event.WebhookEvent {
			continue
		}
		if r.eventType != "" && r.eventType != event.IssueEventTypeName {
			continue
		}

		if r.category == prefs.IssueState && event.Changelog.Changed("status") {
			return prefs.IssueStatus, true
		}
		return r.category, true
	}

	return "", false
}
