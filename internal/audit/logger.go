// Package audit persists the immutable change-audit log. One activity record
// is written per change description, all carrying the same causal metadata
// back to the mutation that produced them. Writes are pure puts against
// independent documents, so audit persistence never contends with the
// sequence allocator or with audits of other entities.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/storage"
)

// IDGenerator returns unique identifiers for new records.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// RecordInput carries the causal metadata shared by every record of one
// mutation, plus the change descriptions produced by the diff.
type RecordInput struct {
	TenantID   string
	ActorID    string
	WorkItemID string
	ProjectID  string
	Kind       domain.ActivityKind
	Changes    []domain.FieldChange
}

// Logger writes activity records to the document store.
type Logger struct {
	gw    storage.Gateway
	idGen IDGenerator
	clock Clock
}

// NewLogger constructs a logger over the given gateway.
func NewLogger(gw storage.Gateway, idGen IDGenerator, clock Clock) *Logger {
	if clock == nil {
		clock = time.Now
	}
	return &Logger{gw: gw, idGen: idGen, clock: clock}
}

// Record persists one activity record per change description. The caller's
// primary mutation has already committed by the time Record runs, so a
// persistence failure here is surfaced for logging but must not roll the
// mutation back: the previous snapshot is gone and the diff cannot be
// re-derived later. A failure mid-list leaves earlier records in place.
func (l *Logger) Record(ctx context.Context, in RecordInput) error {
	now := l.clock().UTC()
	for _, change := range in.Changes {
		kind := in.Kind
		if kind == domain.ActivityUpdated && change.Field == "assignee" {
			kind = domain.ActivityAssigneeChanged
		}
		record := domain.ActivityRecord{
			ID:         l.idGen(),
			TenantID:   in.TenantID,
			ActorID:    in.ActorID,
			Kind:       kind,
			WorkItemID: in.WorkItemID,
			ProjectID:  in.ProjectID,
			Message:    change.Message,
			Link:       ItemLink(in.WorkItemID),
			CreatedAt:  now,
		}
		data, err := storage.Encode(record)
		if err != nil {
			return err
		}
		ref := storage.Ref{Collection: storage.CollectionActivity, ID: record.ID}
		if err := l.gw.Put(ctx, ref, data); err != nil {
			return fmt.Errorf("persist activity record: %w", err)
		}
	}
	return nil
}

// ItemLink renders the navigation link stored on records about a work item.
func ItemLink(workItemID string) string {
	return "/items/" + workItemID
}
