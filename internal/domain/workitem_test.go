package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func validItemInput() WorkItemInput {
	return WorkItemInput{
		ID:        "w1",
		TenantID:  "t1",
		ProjectID: "p1",
		Title:     "Fix login",
	}
}

func TestNewWorkItemDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item, err := NewWorkItem(validItemInput(), now)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	if item.Status != StatusTodo {
		t.Fatalf("Status = %q, want %q", item.Status, StatusTodo)
	}
	if item.Priority != PriorityMedium {
		t.Fatalf("Priority = %q, want %q", item.Priority, PriorityMedium)
	}
	if item.Key != "" {
		t.Fatalf("Key = %q, want empty before allocation", item.Key)
	}
}

func TestNewWorkItemValidation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		mutate  func(*WorkItemInput)
		wantErr error
	}{
		{"missing id", func(in *WorkItemInput) { in.ID = "" }, ErrInvalidID},
		{"missing tenant", func(in *WorkItemInput) { in.TenantID = "" }, ErrInvalidTenant},
		{"missing project", func(in *WorkItemInput) { in.ProjectID = "" }, ErrInvalidID},
		{"missing title", func(in *WorkItemInput) { in.Title = "   " }, ErrInvalidTitle},
		{"bad status", func(in *WorkItemInput) { in.Status = "blocked" }, ErrInvalidStatus},
		{"bad priority", func(in *WorkItemInput) { in.Priority = "urgent" }, ErrInvalidPriority},
		{"bad start date", func(in *WorkItemInput) { in.StartDate = "03/01/2026" }, ErrInvalidDate},
		{"bad due date", func(in *WorkItemInput) { in.DueDate = "2026-13-40" }, ErrInvalidDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validItemInput()
			tc.mutate(&in)
			if _, err := NewWorkItem(in, now); !errors.Is(err, tc.wantErr) {
				t.Fatalf("NewWorkItem() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLabelNormalization(t *testing.T) {
	now := time.Now()
	in := validItemInput()
	in.Labels = []string{" Backend ", "urgent", "backend", "", "API"}
	item, err := NewWorkItem(in, now)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	want := []string{"api", "backend", "urgent"}
	if !slices.Equal(item.Labels, want) {
		t.Fatalf("Labels = %v, want %v", item.Labels, want)
	}
}

func TestLabelCap(t *testing.T) {
	now := time.Now()
	in := validItemInput()
	for i := 0; i < maxLabels+1; i++ {
		in.Labels = append(in.Labels, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	if _, err := NewWorkItem(in, now); !errors.Is(err, ErrTooManyLabels) {
		t.Fatalf("NewWorkItem() error = %v, want %v", err, ErrTooManyLabels)
	}
}

func TestUpdateDetailsReplacesSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item, err := NewWorkItem(validItemInput(), now)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	item.Key = "PAY-1"

	later := now.Add(time.Hour)
	err = item.UpdateDetails(WorkItemInput{
		Title:      "Fix login redirect",
		Status:     StatusProgress,
		Priority:   PriorityHigh,
		AssigneeID: "alice",
		DueDate:    "2026-04-01",
	}, later)
	if err != nil {
		t.Fatalf("UpdateDetails() error = %v", err)
	}
	if item.Title != "Fix login redirect" || item.Status != StatusProgress || item.AssigneeID != "alice" {
		t.Fatalf("snapshot not applied: %+v", item)
	}
	if item.Description != "" {
		t.Fatalf("Description = %q, want cleared by full-snapshot replace", item.Description)
	}
	if item.Key != "PAY-1" {
		t.Fatalf("Key changed on update: %q", item.Key)
	}
	if !item.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt = %v, want %v", item.UpdatedAt, later)
	}
}

func TestUpdateDetailsRejectsInvalidSnapshot(t *testing.T) {
	now := time.Now()
	item, err := NewWorkItem(validItemInput(), now)
	if err != nil {
		t.Fatalf("NewWorkItem() error = %v", err)
	}
	before := item
	err = item.UpdateDetails(WorkItemInput{Title: "", Status: StatusTodo, Priority: PriorityLow}, now)
	if !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("UpdateDetails() error = %v, want %v", err, ErrInvalidTitle)
	}
	if item.Title != before.Title {
		t.Fatal("item mutated despite validation failure")
	}
}
