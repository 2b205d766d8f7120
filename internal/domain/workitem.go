package domain

import (
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusTodo     Status = "todo"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
)

var validStatuses = []Status{StatusTodo, StatusProgress, StatusDone}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var validPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// maxLabels bounds the label set per item.
const maxLabels = 20

// dateLayout is the calendar-date format for start and due dates.
const dateLayout = "2006-01-02"

// WorkItem is the mutable entity under audit. Key is minted by the sequence
// allocator at creation and immutable afterwards, as are ID, TenantID and
// ProjectID. Archival is a soft delete: archived items drop out of default
// listings but stay mutable at the storage layer.
type WorkItem struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	ProjectID           string     `json:"project_id"`
	Key                 string     `json:"key"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Status              Status     `json:"status"`
	Priority            Priority   `json:"priority"`
	AssigneeID          string     `json:"assignee_id"`
	SecondaryAssigneeID string     `json:"secondary_assignee_id"`
	StartDate           string     `json:"start_date"`
	DueDate             string     `json:"due_date"`
	Labels              []string   `json:"labels"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ArchivedAt          *time.Time `json:"archived_at"`
}

type WorkItemInput struct {
	ID                  string
	TenantID            string
	ProjectID           string
	Title               string
	Description         string
	Status              Status
	Priority            Priority
	AssigneeID          string
	SecondaryAssigneeID string
	StartDate           string
	DueDate             string
	Labels              []string
}

func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)

	if in.ID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return WorkItem{}, ErrInvalidTenant
	}
	if in.ProjectID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}

	if in.Status == "" {
		in.Status = StatusTodo
	}
	if !slices.Contains(validStatuses, in.Status) {
		return WorkItem{}, ErrInvalidStatus
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !slices.Contains(validPriorities, in.Priority) {
		return WorkItem{}, ErrInvalidPriority
	}

	startDate, err := normalizeDate(in.StartDate)
	if err != nil {
		return WorkItem{}, err
	}
	dueDate, err := normalizeDate(in.DueDate)
	if err != nil {
		return WorkItem{}, err
	}
	labels, err := normalizeLabels(in.Labels)
	if err != nil {
		return WorkItem{}, err
	}

	return WorkItem{
		ID:                  in.ID,
		TenantID:            in.TenantID,
		ProjectID:           in.ProjectID,
		Title:               in.Title,
		Description:         in.Description,
		Status:              in.Status,
		Priority:            in.Priority,
		AssigneeID:          strings.TrimSpace(in.AssigneeID),
		SecondaryAssigneeID: strings.TrimSpace(in.SecondaryAssigneeID),
		StartDate:           startDate,
		DueDate:             dueDate,
		Labels:              labels,
		CreatedAt:           now.UTC(),
		UpdatedAt:           now.UTC(),
	}, nil
}

// UpdateDetails replaces every mutable field from a full next snapshot.
func (w *WorkItem) UpdateDetails(in WorkItemInput, now time.Time) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return ErrInvalidTitle
	}
	if !slices.Contains(validStatuses, in.Status) {
		return ErrInvalidStatus
	}
	if !slices.Contains(validPriorities, in.Priority) {
		return ErrInvalidPriority
	}
	startDate, err := normalizeDate(in.StartDate)
	if err != nil {
		return err
	}
	dueDate, err := normalizeDate(in.DueDate)
	if err != nil {
		return err
	}
	labels, err := normalizeLabels(in.Labels)
	if err != nil {
		return err
	}

	w.Title = title
	w.Description = strings.TrimSpace(in.Description)
	w.Status = in.Status
	w.Priority = in.Priority
	w.AssigneeID = strings.TrimSpace(in.AssigneeID)
	w.SecondaryAssigneeID = strings.TrimSpace(in.SecondaryAssigneeID)
	w.StartDate = startDate
	w.DueDate = dueDate
	w.Labels = labels
	w.UpdatedAt = now.UTC()
	return nil
}

func (w *WorkItem) Archive(now time.Time) {
	ts := now.UTC()
	w.ArchivedAt = &ts
	w.UpdatedAt = ts
}

func (w *WorkItem) Restore(now time.Time) {
	w.ArchivedAt = nil
	w.UpdatedAt = now.UTC()
}

// normalizeDate validates a calendar date, empty meaning unset.
func normalizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return "", nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", ErrInvalidDate
	}
	return date, nil
}

// normalizeLabels lowercases, trims, deduplicates, and sorts labels.
func normalizeLabels(labels []string) ([]string, error) {
	out := make([]string, 0, len(labels))
	seen := map[string]struct{}{}
	for _, raw := range labels {
		label := strings.ToLower(strings.TrimSpace(raw))
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	if len(out) > maxLabels {
		return nil, ErrTooManyLabels
	}
	slices.Sort(out)
	return out, nil
}
