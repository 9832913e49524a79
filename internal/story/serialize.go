package story

import "time"

// Serialized is the transport form of a story: pure data, every date a
// RFC 3339 string or null, children serialized recursively.
type Serialized struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description"`
	Status      *Status      `json:"status"`
	Priority    int          `json:"priority"`
	Effort      *int         `json:"effort"`
	Position    int          `json:"position"`
	OwnerID     string       `json:"ownerId"`
	ParentID    *string      `json:"parentId"`
	AssigneeID  *string      `json:"assigneeId"`
	Assignee    *Assignee    `json:"assignee"`
	Assignees   []Assignee   `json:"assignees"`
	Tags        []Tag        `json:"tags"`
	StartDate   *string      `json:"startDate"`
	DueDate     *string      `json:"dueDate"`
	CreatedAt   string       `json:"createdAt"`
	UpdatedAt   string       `json:"updatedAt"`
	Children    []Serialized `json:"children"`
}

// Serialize converts a story node into its transport form. It is
// deterministic, has no side effects, and descends the whole subtree.
func Serialize(n *Node) Serialized {
	children := make([]Serialized, 0, len(n.Children))
	for _, child := range n.Children {
		children = append(children, Serialize(child))
	}

	assignees := n.Assignees
	if assignees == nil {
		assignees = []Assignee{}
	}
	tags := n.Tags
	if tags == nil {
		tags = []Tag{}
	}

	return Serialized{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		Effort:      n.Effort,
		Position:    n.Position,
		OwnerID:     n.OwnerID,
		ParentID:    n.ParentID,
		AssigneeID:  n.AssigneeID,
		Assignee:    n.Assignee,
		Assignees:   assignees,
		Tags:        tags,
		StartDate:   formatTime(n.StartDate),
		DueDate:     formatTime(n.DueDate),
		CreatedAt:   n.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   n.UpdatedAt.UTC().Format(time.RFC3339),
		Children:    children,
	}
}

// SerializeForest serializes a slice of roots, preserving order.
func SerializeForest(roots []*Node) []Serialized {
	out := make([]Serialized, 0, len(roots))
	for _, n := range roots {
		out = append(out, Serialize(n))
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
