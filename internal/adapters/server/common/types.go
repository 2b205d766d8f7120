// Package common defines the service surface shared by the HTTP and MCP
// adapters, plus the error-code mapping both transports use.
package common

import (
	"context"
	"errors"

	"github.com/hylla/traq/internal/app"
	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/storage"
)

// TrackerService is the application surface exposed over both transports.
// *app.Service satisfies it.
type TrackerService interface {
	CreateProject(ctx context.Context, in app.CreateProjectInput) (domain.Project, error)
	GetProject(ctx context.Context, tenantID, projectID string) (domain.Project, error)
	ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]domain.Project, error)

	CreateWorkItem(ctx context.Context, in app.CreateWorkItemInput) (domain.WorkItem, error)
	UpdateWorkItem(ctx context.Context, in app.UpdateWorkItemInput) (domain.WorkItem, error)
	ArchiveWorkItem(ctx context.Context, tenantID, actorID, workItemID string) (domain.WorkItem, error)
	RestoreWorkItem(ctx context.Context, tenantID, actorID, workItemID string) (domain.WorkItem, error)
	CommentWorkItem(ctx context.Context, tenantID, actorID, workItemID, body string) error
	GetWorkItem(ctx context.Context, tenantID, workItemID string) (domain.WorkItem, error)
	SearchWorkItems(ctx context.Context, in app.SearchWorkItemsInput) ([]domain.WorkItem, error)

	ListActivity(ctx context.Context, tenantID, projectID, workItemID string, limit int) ([]domain.ActivityRecord, error)
	ListNotifications(ctx context.Context, tenantID, recipientID string, unreadOnly bool) ([]domain.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, tenantID, recipientID, notificationID string) error
}

// Stable machine-readable error codes shared by both transports.
const (
	CodeNotFound       = "not_found"
	CodeContention     = "contention"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal_error"
)

// ErrorCode maps a service failure onto a transport-agnostic code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeInternal
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, app.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrContention):
		return CodeContention
	case isValidation(err):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// isValidation reports whether err is one of the domain or app validation
// sentinels.
func isValidation(err error) bool {
	for _, sentinel := range []error{
		domain.ErrInvalidID,
		domain.ErrInvalidTenant,
		domain.ErrInvalidName,
		domain.ErrInvalidTitle,
		domain.ErrInvalidStatus,
		domain.ErrInvalidPriority,
		domain.ErrInvalidDate,
		domain.ErrInvalidKeyPrefix,
		domain.ErrTooManyLabels,
		app.ErrInvalidActor,
		app.ErrInvalidComment,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
