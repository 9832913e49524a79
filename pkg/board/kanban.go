package board

import "github.com/BeeDoubleYouKay/tido/internal/story"

// Column is one kanban lane. The set is fixed; BLOCKED and ARCHIVED stories
// are reachable through the backlog table but have no lane of their own.
type Column struct {
	ID          string
	Label       string
	Description string
}

// Columns lists the kanban lanes in display order.
var Columns = []Column{
	{ID: story.NoStatusKey, Label: "No Status", Description: "This item hasn't been started"},
	{ID: string(story.StatusBacklog), Label: "Backlog", Description: "This item hasn't been started"},
	{ID: string(story.StatusReady), Label: "Ready", Description: "This is ready to be picked up"},
	{ID: string(story.StatusInProgress), Label: "In progress", Description: "This is actively being worked on"},
	{ID: string(story.StatusReview), Label: "In review", Description: "This item is in review"},
	{ID: string(story.StatusDone), Label: "Done", Description: "This has been completed"},
}

// ResolveColumnStatus maps a droppable column id onto the status it assigns.
// NO_STATUS clears the status; unknown ids do not resolve.
func ResolveColumnStatus(columnID string) (*story.Status, bool) {
	if columnID == story.NoStatusKey {
		return nil, true
	}
	status, ok := story.ParseStatus(columnID)
	if !ok {
		return nil, false
	}
	return &status, true
}

// ColumnStories projects the top-level stories belonging to one lane,
// preserving store order.
func (s *Store) ColumnStories(columnID string) []Story {
	var out []Story
	for _, st := range s.rootStories() {
		if story.StatusKey(st.Status) == columnID {
			out = append(out, st)
		}
	}
	return out
}
