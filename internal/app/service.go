package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/hylla/traq/internal/audit"
	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/notify"
	"github.com/hylla/traq/internal/query"
	"github.com/hylla/traq/internal/storage"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	// LegacyTenantField names a fallback scope field carried by records
	// written before tenant_id existed. When set, searches scan it as a
	// second source and union the results.
	LegacyTenantField string
	DefaultPageSize   int
	MaxPageSize       int
}

// Service orchestrates the create/update/query flows: allocator inside the
// entity transaction, then diff, audit, and notification in that order.
// Every entry point takes explicit tenant and actor parameters; there is no
// ambient session state.
type Service struct {
	gw       storage.Gateway
	reader   *query.Reader
	alloc    Allocator
	auditor  Auditor
	notifier Notifier
	idGen    IDGenerator
	clock    Clock
	log      *charmLog.Logger
	cfg      ServiceConfig
}

// NewService constructs a new value for this package.
func NewService(gw storage.Gateway, alloc Allocator, auditor Auditor, notifier Notifier, idGen IDGenerator, clock Clock, logger *charmLog.Logger, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.New(io.Discard)
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	return &Service{
		gw:       gw,
		reader:   query.NewReader(gw),
		alloc:    alloc,
		auditor:  auditor,
		notifier: notifier,
		idGen:    idGen,
		clock:    clock,
		log:      logger,
		cfg:      cfg,
	}
}

// CreateProjectInput holds input values for create project operations.
type CreateProjectInput struct {
	TenantID    string
	Name        string
	Description string
	KeyPrefix   string
}

// CreateProject creates project.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	project, err := domain.NewProject(s.idGen(), in.TenantID, in.Name, in.Description, in.KeyPrefix, s.clock())
	if err != nil {
		return domain.Project{}, err
	}
	data, err := storage.Encode(project)
	if err != nil {
		return domain.Project{}, err
	}
	ref := storage.Ref{Collection: storage.CollectionProjects, ID: project.ID}
	if err := s.gw.Put(ctx, ref, data); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// GetProject returns project.
func (s *Service) GetProject(ctx context.Context, tenantID, projectID string) (domain.Project, error) {
	ref := storage.Ref{Collection: storage.CollectionProjects, ID: projectID}
	doc, err := s.gw.Get(ctx, ref)
	if err != nil {
		return domain.Project{}, err
	}
	var project domain.Project
	if err := storage.Decode(doc, &project); err != nil {
		return domain.Project{}, err
	}
	if project.TenantID != tenantID {
		return domain.Project{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	return project, nil
}

// ListProjects lists projects for a tenant, oldest first.
func (s *Service) ListProjects(ctx context.Context, tenantID string, includeArchived bool) ([]domain.Project, error) {
	predicates := []query.Predicate{}
	if !includeArchived {
		predicates = append(predicates, query.Predicate{Field: "archived_at", Op: query.OpEqual, Value: nil})
	}
	docs, err := s.reader.Fetch(ctx, query.Input{
		Collection: storage.CollectionProjects,
		Scans:      s.tenantScans(tenantID),
		Predicates: predicates,
		Sort:       []query.Sort{{Field: "created_at"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(docs))
	for _, doc := range docs {
		var project domain.Project
		if err := storage.Decode(doc, &project); err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, nil
}

// CreateWorkItemInput holds input values for create work item operations.
type CreateWorkItemInput struct {
	TenantID            string
	ActorID             string
	ProjectID           string
	Title               string
	Description         string
	Status              domain.Status
	Priority            domain.Priority
	AssigneeID          string
	SecondaryAssigneeID string
	StartDate           string
	DueDate             string
	Labels              []string
}

// CreateWorkItem mints the key and persists the item inside one storage
// transaction, then records the "created" audit entry and fires the
// assignment notification. Validation and missing-project failures abort
// before any write; allocator contention aborts the create entirely, so no
// entity is ever left without a unique key.
func (s *Service) CreateWorkItem(ctx context.Context, in CreateWorkItemInput) (domain.WorkItem, error) {
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		return domain.WorkItem{}, ErrInvalidActor
	}
	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:                  s.idGen(),
		TenantID:            in.TenantID,
		ProjectID:           in.ProjectID,
		Title:               in.Title,
		Description:         in.Description,
		Status:              in.Status,
		Priority:            in.Priority,
		AssigneeID:          in.AssigneeID,
		SecondaryAssigneeID: in.SecondaryAssigneeID,
		StartDate:           in.StartDate,
		DueDate:             in.DueDate,
		Labels:              in.Labels,
	}, s.clock())
	if err != nil {
		return domain.WorkItem{}, err
	}

	err = s.gw.RunTransaction(ctx, func(tx storage.Tx) error {
		_, key, txErr := s.alloc.NextInTx(ctx, tx, in.TenantID, in.ProjectID)
		if txErr != nil {
			return txErr
		}
		item.Key = key
		data, txErr := storage.Encode(item)
		if txErr != nil {
			return txErr
		}
		return tx.Put(ctx, storage.Ref{Collection: storage.CollectionWorkItems, ID: item.ID}, data)
	})
	if err != nil {
		return domain.WorkItem{}, err
	}

	s.recordAudit(ctx, audit.RecordInput{
		TenantID:   in.TenantID,
		ActorID:    actor,
		WorkItemID: item.ID,
		ProjectID:  item.ProjectID,
		Kind:       domain.ActivityCreated,
		Changes:    domain.Diff(domain.WorkItem{}, item),
	})
	s.maybeNotify(ctx, notify.Input{
		TenantID:     in.TenantID,
		ActorID:      actor,
		PrevAssignee: "",
		NextAssignee: item.AssigneeID,
		Title:        item.Title,
		WorkItemID:   item.ID,
		ProjectID:    item.ProjectID,
	})
	return item, nil
}

// UpdateWorkItemInput holds input values for update work item operations.
// The input is a full next snapshot of the mutable fields.
type UpdateWorkItemInput struct {
	TenantID            string
	ActorID             string
	WorkItemID          string
	Title               string
	Description         string
	Status              domain.Status
	Priority            domain.Priority
	AssigneeID          string
	SecondaryAssigneeID string
	StartDate           string
	DueDate             string
	Labels              []string
}

// UpdateWorkItem applies the next snapshot inside one storage transaction so
// the diff is computed against the exact previous state the write replaced,
// never against a separate possibly-stale read. Audit records and the
// assignment notification follow after commit.
func (s *Service) UpdateWorkItem(ctx context.Context, in UpdateWorkItemInput) (domain.WorkItem, error) {
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		return domain.WorkItem{}, ErrInvalidActor
	}

	var previous, next domain.WorkItem
	err := s.gw.RunTransaction(ctx, func(tx storage.Tx) error {
		item, txErr := s.getItemInTx(ctx, tx, in.TenantID, in.WorkItemID)
		if txErr != nil {
			return txErr
		}
		previous = item
		next = item
		if txErr := next.UpdateDetails(domain.WorkItemInput{
			Title:               in.Title,
			Description:         in.Description,
			Status:              in.Status,
			Priority:            in.Priority,
			AssigneeID:          in.AssigneeID,
			SecondaryAssigneeID: in.SecondaryAssigneeID,
			StartDate:           in.StartDate,
			DueDate:             in.DueDate,
			Labels:              in.Labels,
		}, s.clock()); txErr != nil {
			return txErr
		}
		data, txErr := storage.Encode(next)
		if txErr != nil {
			return txErr
		}
		return tx.Put(ctx, storage.Ref{Collection: storage.CollectionWorkItems, ID: next.ID}, data)
	})
	if err != nil {
		return domain.WorkItem{}, err
	}

	changes := domain.Diff(previous, next)
	if len(changes) > 0 {
		s.recordAudit(ctx, audit.RecordInput{
			TenantID:   in.TenantID,
			ActorID:    actor,
			WorkItemID: next.ID,
			ProjectID:  next.ProjectID,
			Kind:       domain.ActivityUpdated,
			Changes:    changes,
		})
	}
	if previous.AssigneeID != next.AssigneeID {
		s.maybeNotify(ctx, notify.Input{
			TenantID:     in.TenantID,
			ActorID:      actor,
			PrevAssignee: previous.AssigneeID,
			NextAssignee: next.AssigneeID,
			Title:        next.Title,
			WorkItemID:   next.ID,
			ProjectID:    next.ProjectID,
		})
	}
	return next, nil
}

// ArchiveWorkItem soft-deletes the item and records the transition.
func (s *Service) ArchiveWorkItem(ctx context.Context, tenantID, actorID, workItemID string) (domain.WorkItem, error) {
	return s.setArchived(ctx, tenantID, actorID, workItemID, true)
}

// RestoreWorkItem clears the archival timestamp and records the transition.
func (s *Service) RestoreWorkItem(ctx context.Context, tenantID, actorID, workItemID string) (domain.WorkItem, error) {
	return s.setArchived(ctx, tenantID, actorID, workItemID, false)
}

// setArchived handles the shared archive/restore flow.
func (s *Service) setArchived(ctx context.Context, tenantID, actorID, workItemID string, archived bool) (domain.WorkItem, error) {
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		return domain.WorkItem{}, ErrInvalidActor
	}
	var item domain.WorkItem
	err := s.gw.RunTransaction(ctx, func(tx storage.Tx) error {
		found, txErr := s.getItemInTx(ctx, tx, tenantID, workItemID)
		if txErr != nil {
			return txErr
		}
		item = found
		if archived {
			item.Archive(s.clock())
		} else {
			item.Restore(s.clock())
		}
		data, txErr := storage.Encode(item)
		if txErr != nil {
			return txErr
		}
		return tx.Put(ctx, storage.Ref{Collection: storage.CollectionWorkItems, ID: item.ID}, data)
	})
	if err != nil {
		return domain.WorkItem{}, err
	}

	kind := domain.ActivityArchived
	verb := "archived"
	if !archived {
		kind = domain.ActivityRestored
		verb = "restored"
	}
	s.recordAudit(ctx, audit.RecordInput{
		TenantID:   tenantID,
		ActorID:    actor,
		WorkItemID: item.ID,
		ProjectID:  item.ProjectID,
		Kind:       kind,
		Changes: []domain.FieldChange{{
			Field:   verb,
			Message: fmt.Sprintf("%s %s", verb, item.Key),
		}},
	})
	return item, nil
}

// CommentWorkItem appends a "commented" activity record against the item.
func (s *Service) CommentWorkItem(ctx context.Context, tenantID, actorID, workItemID, body string) error {
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		return ErrInvalidActor
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrInvalidComment
	}
	item, err := s.GetWorkItem(ctx, tenantID, workItemID)
	if err != nil {
		return err
	}
	return s.auditor.Record(ctx, audit.RecordInput{
		TenantID:   tenantID,
		ActorID:    actor,
		WorkItemID: item.ID,
		ProjectID:  item.ProjectID,
		Kind:       domain.ActivityCommented,
		Changes: []domain.FieldChange{{
			Field:   "comment",
			Message: fmt.Sprintf("commented on %s: %s", item.Key, body),
		}},
	})
}

// GetWorkItem returns one work item scoped to the tenant.
func (s *Service) GetWorkItem(ctx context.Context, tenantID, workItemID string) (domain.WorkItem, error) {
	ref := storage.Ref{Collection: storage.CollectionWorkItems, ID: workItemID}
	doc, err := s.gw.Get(ctx, ref)
	if err != nil {
		return domain.WorkItem{}, err
	}
	var item domain.WorkItem
	if err := storage.Decode(doc, &item); err != nil {
		return domain.WorkItem{}, err
	}
	if item.TenantID != tenantID {
		return domain.WorkItem{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	return item, nil
}

// SearchWorkItemsInput defines filtering criteria for queries. Every filter
// is conjunctive; zero values mean "no constraint".
type SearchWorkItemsInput struct {
	TenantID        string
	ProjectID       string
	Status          domain.Status
	NotStatus       domain.Status
	AssigneeID      string
	Label           string
	IncludeArchived bool
	SortField       string
	Descending      bool
	Offset          int
	Limit           int
}

// SearchWorkItems decomposes the conjunctive filter into tenant-scope scans
// and runs the fan-in: scan a superset server-side, then filter, sort, and
// page in memory.
func (s *Service) SearchWorkItems(ctx context.Context, in SearchWorkItemsInput) ([]domain.WorkItem, error) {
	predicates := []query.Predicate{}
	if in.ProjectID != "" {
		predicates = append(predicates, query.Predicate{Field: "project_id", Op: query.OpEqual, Value: in.ProjectID})
	}
	if in.Status != "" {
		predicates = append(predicates, query.Predicate{Field: "status", Op: query.OpEqual, Value: string(in.Status)})
	}
	if in.NotStatus != "" {
		predicates = append(predicates, query.Predicate{Field: "status", Op: query.OpNotEqual, Value: string(in.NotStatus)})
	}
	if in.AssigneeID != "" {
		predicates = append(predicates, query.Predicate{Field: "assignee_id", Op: query.OpEqual, Value: in.AssigneeID})
	}
	if in.Label != "" {
		predicates = append(predicates, query.Predicate{Field: "labels", Op: query.OpContains, Value: strings.ToLower(strings.TrimSpace(in.Label))})
	}
	if !in.IncludeArchived {
		predicates = append(predicates, query.Predicate{Field: "archived_at", Op: query.OpEqual, Value: nil})
	}

	sortField := strings.TrimSpace(in.SortField)
	if sortField == "" {
		sortField = "created_at"
	}
	limit := in.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	docs, err := s.reader.Fetch(ctx, query.Input{
		Collection: storage.CollectionWorkItems,
		Scans:      s.tenantScans(in.TenantID),
		Predicates: predicates,
		Sort:       []query.Sort{{Field: sortField, Descending: in.Descending}},
		Page:       query.Page{Offset: in.Offset, Limit: limit},
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkItem, 0, len(docs))
	for _, doc := range docs {
		var item domain.WorkItem
		if err := storage.Decode(doc, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ListActivity lists audit records for a project or item, newest first.
func (s *Service) ListActivity(ctx context.Context, tenantID, projectID, workItemID string, limit int) ([]domain.ActivityRecord, error) {
	predicates := []query.Predicate{}
	if projectID != "" {
		predicates = append(predicates, query.Predicate{Field: "project_id", Op: query.OpEqual, Value: projectID})
	}
	if workItemID != "" {
		predicates = append(predicates, query.Predicate{Field: "work_item_id", Op: query.OpEqual, Value: workItemID})
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	docs, err := s.reader.Fetch(ctx, query.Input{
		Collection: storage.CollectionActivity,
		Scans:      s.tenantScans(tenantID),
		Predicates: predicates,
		Sort:       []query.Sort{{Field: "created_at", Descending: true}},
		Page:       query.Page{Limit: limit},
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActivityRecord, 0, len(docs))
	for _, doc := range docs {
		var record domain.ActivityRecord
		if err := storage.Decode(doc, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// ListNotifications lists the recipient's inbox.
func (s *Service) ListNotifications(ctx context.Context, tenantID, recipientID string, unreadOnly bool) ([]domain.NotificationRecord, error) {
	return s.notifier.Inbox(ctx, tenantID, recipientID, unreadOnly)
}

// MarkNotificationRead flips the recipient-owned read flag.
func (s *Service) MarkNotificationRead(ctx context.Context, tenantID, recipientID, notificationID string) error {
	return s.notifier.MarkRead(ctx, tenantID, recipientID, notificationID)
}

// getItemInTx reads and tenant-checks one work item against a transaction.
func (s *Service) getItemInTx(ctx context.Context, tx storage.Tx, tenantID, workItemID string) (domain.WorkItem, error) {
	ref := storage.Ref{Collection: storage.CollectionWorkItems, ID: workItemID}
	doc, err := tx.Get(ctx, ref)
	if err != nil {
		return domain.WorkItem{}, err
	}
	var item domain.WorkItem
	if err := storage.Decode(doc, &item); err != nil {
		return domain.WorkItem{}, err
	}
	if item.TenantID != tenantID {
		return domain.WorkItem{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	return item, nil
}

// tenantScans returns the server-side scans for a tenant: the primary scope
// plus the legacy fallback source when configured. A record matching either
// source is retained once.
func (s *Service) tenantScans(tenantID string) []query.Scan {
	scans := []query.Scan{{Field: "tenant_id", Value: tenantID}}
	if s.cfg.LegacyTenantField != "" {
		scans = append(scans, query.Scan{Field: s.cfg.LegacyTenantField, Value: tenantID})
	}
	return scans
}

// recordAudit logs and swallows audit persistence failures: the primary
// mutation is already durable and must not fail for a lost audit record.
func (s *Service) recordAudit(ctx context.Context, in audit.RecordInput) {
	if err := s.auditor.Record(ctx, in); err != nil {
		s.log.Warn("audit record lost", "work_item", in.WorkItemID, "kind", in.Kind, "err", err)
	}
}

// maybeNotify logs and swallows notification persistence failures.
func (s *Service) maybeNotify(ctx context.Context, in notify.Input) {
	if _, err := s.notifier.MaybeNotify(ctx, in); err != nil {
		s.log.Warn("notification lost", "work_item", in.WorkItemID, "recipient", in.NextAssignee, "err", err)
	}
}

// IsNotFound reports whether err denotes a missing entity at any layer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, storage.ErrNotFound)
}
