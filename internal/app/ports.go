package app

import (
	"context"

	"github.com/hylla/traq/internal/audit"
	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/notify"
	"github.com/hylla/traq/internal/storage"
)

// Allocator mints per-project sequential keys against a shared transaction
// handle, so key and entity commit atomically.
type Allocator interface {
	NextInTx(ctx context.Context, tx storage.Tx, tenantID, projectID string) (int64, string, error)
}

// Auditor persists one activity record per change description.
type Auditor interface {
	Record(ctx context.Context, in audit.RecordInput) error
}

// Notifier owns the notification inbox and the assignment trigger rule.
type Notifier interface {
	MaybeNotify(ctx context.Context, in notify.Input) (bool, error)
	Inbox(ctx context.Context, tenantID, recipientID string, unreadOnly bool) ([]domain.NotificationRecord, error)
	MarkRead(ctx context.Context, tenantID, recipientID, notificationID string) error
}
