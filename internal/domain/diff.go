package domain

import (
	"fmt"
	"slices"
	"strings"
)

// unsetSentinel renders missing or empty values in change messages.
const unsetSentinel = "unset"

// createdField marks the synthetic change emitted for the creation case.
const createdField = "created"

// FieldChange is one human-readable change description for a tracked field.
// From and To are already rendered for humans; Message is the persisted
// audit-log text.
type FieldChange struct {
	Field   string
	From    string
	To      string
	Message string
}

// IsCreation reports whether the change is the synthetic "created" entry.
func (c FieldChange) IsCreation() bool {
	return c.Field == createdField
}

// Diff compares two snapshots of the same work item and emits one change
// description per tracked field that differs. The tracked-field order is
// fixed (title, description, status, priority, assignee, secondary assignee,
// start date, due date, labels) so audit trails are deterministic and
// diffable themselves. Identical snapshots produce no output.
//
// When previous is the zero value (creation), the result is exactly one
// "created" description, never per-field diffs.
func Diff(previous, next WorkItem) []FieldChange {
	if previous.ID == "" {
		return []FieldChange{{
			Field:   createdField,
			To:      next.Key,
			Message: fmt.Sprintf("created %s %q", next.Key, next.Title),
		}}
	}

	out := []FieldChange{}
	emit := func(field, from, to string) {
		out = append(out, FieldChange{
			Field:   field,
			From:    from,
			To:      to,
			Message: fmt.Sprintf("changed %s from %s to %s", field, from, to),
		})
	}

	if previous.Title != next.Title {
		emit("title", renderText(previous.Title), renderText(next.Title))
	}
	if previous.Description != next.Description {
		emit("description", renderText(previous.Description), renderText(next.Description))
	}
	if previous.Status != next.Status {
		emit("status", renderValue(string(previous.Status)), renderValue(string(next.Status)))
	}
	if previous.Priority != next.Priority {
		emit("priority", renderValue(string(previous.Priority)), renderValue(string(next.Priority)))
	}
	if previous.AssigneeID != next.AssigneeID {
		emit("assignee", renderValue(previous.AssigneeID), renderValue(next.AssigneeID))
	}
	if previous.SecondaryAssigneeID != next.SecondaryAssigneeID {
		emit("secondary assignee", renderValue(previous.SecondaryAssigneeID), renderValue(next.SecondaryAssigneeID))
	}
	if previous.StartDate != next.StartDate {
		emit("start date", renderValue(previous.StartDate), renderValue(next.StartDate))
	}
	if previous.DueDate != next.DueDate {
		emit("due date", renderValue(previous.DueDate), renderValue(next.DueDate))
	}
	if !slices.Equal(previous.Labels, next.Labels) {
		emit("labels", renderLabels(previous.Labels), renderLabels(next.Labels))
	}
	return out
}

// renderText renders free-text values quoted, empty as the unset sentinel.
func renderText(v string) string {
	if v == "" {
		return unsetSentinel
	}
	return fmt.Sprintf("%q", v)
}

// renderValue renders enum-like values plain, empty as the unset sentinel.
func renderValue(v string) string {
	if v == "" {
		return unsetSentinel
	}
	return v
}

// renderLabels renders a normalized label set. Labels are stored sorted, so
// the rendering is stable for equal sets.
func renderLabels(labels []string) string {
	if len(labels) == 0 {
		return unsetSentinel
	}
	return strings.Join(labels, ", ")
}
