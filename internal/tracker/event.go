package tracker

import (
	"strings"

	"github.com/andygrunwald/go-jira"
)

// Webhook event names sent by Jira.
const (
	WebhookIssueCreated   = "jira:issue_created"
	WebhookIssueUpdated   = "jira:issue_updated"
	WebhookIssueDeleted   = "jira:issue_deleted"
	WebhookCommentCreated = "comment_created"
)

// Sub-classifications carried in issue_event_type_name.
const (
	EventTypeIssueCreated  = "issue_created"
	EventTypeIssueGeneric  = "issue_generic"
	EventTypeIssueUpdated  = "issue_updated"
	EventTypeIssueAssigned = "issue_assigned"
)

// Event is one inbound issue webhook payload. It is immutable once received
// and lives for a single routing pass.
type Event struct {
	WebhookEvent       string        `json:"webhookEvent"`
	IssueEventTypeName string        `json:"issue_event_type_name,omitempty"`
	Issue              *EventIssue   `json:"issue,omitempty"`
	Comment            *jira.Comment `json:"comment,omitempty"`
	Changelog          *Changelog    `json:"changelog,omitempty"`
	Timestamp          int64         `json:"timestamp"`
}

// EventIssue is the issue reference embedded in a webhook payload. Fields may
// be partial; the full record is fetched through the detail fetcher.
type EventIssue struct {
	ID     string            `json:"id"`
	Key    string            `json:"key"`
	Self   string            `json:"self"`
	Fields *jira.IssueFields `json:"fields,omitempty"`
}

// Changelog carries the field-level changes of an issue_updated event. The
// webhook format differs from the REST changelog (no histories nesting).
type Changelog struct {
	ID    string       `json:"id"`
	Items []ChangeItem `json:"items"`
}

// ChangeItem is a single changed field.
type ChangeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// Changed reports whether the changelog contains a change to the named field.
func (c *Changelog) Changed(field string) bool {
	if c == nil {
		return false
	}
	for _, item := range c.Items {
		if item.Field == field {
			return true
		}
	}
	return false
}

// ProjectKey derives the project key from the issue key (PROJ-1 -> PROJ).
func (e *Event) ProjectKey() string {
	if e.Issue == nil {
		return ""
	}
	key, _, _ := strings.Cut(e.Issue.Key, "-")
	return key
}

// Component returns the first component of the issue, empty when none is set.
func (e *Event) Component() string {
	if e.Issue == nil || e.Issue.Fields == nil || len(e.Issue.Fields.Components) == 0 {
		return ""
	}
	return e.Issue.Fields.Components[0].Name
}

// IssueType returns the normalized issue type name (bug, task, epic, story,
// subtask), empty when the payload does not carry one.
func (e *Event) IssueType() string {
	if e.Issue == nil || e.Issue.Fields == nil {
		return ""
	}
	name := strings.ToLower(e.Issue.Fields.Type.Name)
	return strings.ReplaceAll(name, "-", "")
}
