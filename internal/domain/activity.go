package domain

import "time"

// ActivityKind describes a persisted activity-log record type.
type ActivityKind string

// ActivityKind values used by the audit log.
const (
	ActivityCreated         ActivityKind = "created"
	ActivityUpdated         ActivityKind = "updated"
	ActivityArchived        ActivityKind = "archived"
	ActivityRestored        ActivityKind = "restored"
	ActivityCommented       ActivityKind = "commented"
	ActivityAssigneeChanged ActivityKind = "assignee_changed"
)

// ActivityRecord is one immutable audit-log entry. Records are owned solely
// by the audit logger; nothing updates or deletes them after the fact.
type ActivityRecord struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	ActorID    string       `json:"actor_id"`
	Kind       ActivityKind `json:"kind"`
	WorkItemID string       `json:"work_item_id"`
	ProjectID  string       `json:"project_id"`
	Message    string       `json:"message"`
	Link       string       `json:"link"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NotificationKind describes a persisted notification record type.
type NotificationKind string

// NotificationKind values.
const (
	NotificationAssigned NotificationKind = "assigned"
)

// NotificationRecord is one inbox entry. Immutable once written except for
// the recipient-owned Read flag. Never created with recipient == actor.
type NotificationRecord struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	RecipientID string           `json:"recipient_id"`
	ActorID     string           `json:"actor_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Link        string           `json:"link"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}
