// Package board holds the client-side story state shared by the kanban,
// backlog table and calendar views: a normalized store, per-view projections,
// and the optimistic drag reconciler that persists drops through the API.
package board

import (
	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// Story is the normalized per-view record for one story. Dates collapse to
// day keys ("2006-01-02") because the views only ever bucket by day.
type Story struct {
	ID          string
	Title       string
	Description *string
	Status      *story.Status
	Priority    int
	Effort      *int
	Position    int
	ParentID    *string
	DueDateKey  *string
}

func normalize(src story.Serialized, parentID *string) Story {
	return Story{
		ID:          src.ID,
		Title:       src.Title,
		Description: src.Description,
		Status:      src.Status,
		Priority:    src.Priority,
		Effort:      src.Effort,
		Position:    src.Position,
		ParentID:    parentID,
		DueDateKey:  dueDateKey(src.DueDate),
	}
}

func dueDateKey(iso *string) *string {
	if iso == nil || len(*iso) < 10 {
		return nil
	}
	key := (*iso)[:10]
	return &key
}
