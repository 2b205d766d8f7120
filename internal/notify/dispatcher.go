// Package notify writes assignment notifications derived from work item
// state transitions. Delivery is fire-and-forget relative to the triggering
// mutation: at-least-once, with duplicate suppression left to the consumer.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/traq/internal/audit"
	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/query"
	"github.com/hylla/traq/internal/storage"
)

// IDGenerator returns unique identifiers for new records.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Input describes one assignee transition on a work item.
type Input struct {
	TenantID     string
	ActorID      string
	PrevAssignee string
	NextAssignee string
	Title        string
	WorkItemID   string
	ProjectID    string
}

// Dispatcher writes notification records to the document store.
type Dispatcher struct {
	gw     storage.Gateway
	reader *query.Reader
	idGen  IDGenerator
	clock  Clock
}

// NewDispatcher constructs a dispatcher over the given gateway.
func NewDispatcher(gw storage.Gateway, idGen IDGenerator, clock Clock) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{gw: gw, reader: query.NewReader(gw), idGen: idGen, clock: clock}
}

// MaybeNotify fires exactly one notification iff the next assignee is set,
// differs from the previous assignee, and is not the acting party. No
// notification on unassignment, no-op reassignment, or self-assignment.
// Returns whether a record was written.
func (d *Dispatcher) MaybeNotify(ctx context.Context, in Input) (bool, error) {
	next := strings.TrimSpace(in.NextAssignee)
	if next == "" || next == strings.TrimSpace(in.PrevAssignee) || next == strings.TrimSpace(in.ActorID) {
		return false, nil
	}

	record := domain.NotificationRecord{
		ID:          d.idGen(),
		TenantID:    in.TenantID,
		RecipientID: next,
		ActorID:     in.ActorID,
		Kind:        domain.NotificationAssigned,
		Title:       fmt.Sprintf("Assigned: %s", in.Title),
		Body:        fmt.Sprintf("%s assigned %q to you", in.ActorID, in.Title),
		Link:        audit.ItemLink(in.WorkItemID),
		CreatedAt:   d.clock().UTC(),
	}
	data, err := storage.Encode(record)
	if err != nil {
		return false, err
	}
	ref := storage.Ref{Collection: storage.CollectionNotifications, ID: record.ID}
	if err := d.gw.Put(ctx, ref, data); err != nil {
		return false, fmt.Errorf("persist notification: %w", err)
	}
	return true, nil
}

// Inbox lists a recipient's notifications, newest first.
func (d *Dispatcher) Inbox(ctx context.Context, tenantID, recipientID string, unreadOnly bool) ([]domain.NotificationRecord, error) {
	predicates := []query.Predicate{
		{Field: "recipient_id", Op: query.OpEqual, Value: recipientID},
	}
	if unreadOnly {
		predicates = append(predicates, query.Predicate{Field: "read", Op: query.OpEqual, Value: false})
	}
	docs, err := d.reader.Fetch(ctx, query.Input{
		Collection: storage.CollectionNotifications,
		Scans:      []query.Scan{{Field: "tenant_id", Value: tenantID}},
		Predicates: predicates,
		Sort:       []query.Sort{{Field: "created_at", Descending: true}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.NotificationRecord, 0, len(docs))
	for _, doc := range docs {
		var record domain.NotificationRecord
		if err := storage.Decode(doc, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// MarkRead flips the recipient-owned read flag. Only the recipient may mark
// their own notifications; anything else reports not found.
func (d *Dispatcher) MarkRead(ctx context.Context, tenantID, recipientID, notificationID string) error {
	ref := storage.Ref{Collection: storage.CollectionNotifications, ID: notificationID}
	return d.gw.RunTransaction(ctx, func(tx storage.Tx) error {
		doc, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		var record domain.NotificationRecord
		if err := storage.Decode(doc, &record); err != nil {
			return err
		}
		if record.TenantID != tenantID || record.RecipientID != recipientID {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
		}
		if record.Read {
			return nil
		}
		record.Read = true
		data, err := storage.Encode(record)
		if err != nil {
			return err
		}
		return tx.Put(ctx, ref, data)
	})
}
