// Package story holds the story domain model: the typed story tree, the
// status enumeration, request validation, and the transport serializer.
package story

import (
	"fmt"
	"time"
)

// Assignee is the subset of a user exposed on a story.
type Assignee struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// Tag is a colored label attached to a story.
type Tag struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// Node is a story with its resolved relations. Nodes form a tree via
// Children; the tree is built and validated by BuildTree at the storage
// boundary so malformed shapes are rejected before they reach a view.
type Node struct {
	ID          string
	Title       string
	Description *string
	Status      *Status
	Priority    int
	Effort      *int
	Position    int
	OwnerID     string
	ParentID    *string
	// AssigneeID is the legacy single-assignee column. The Assignees
	// relation is authoritative when present.
	AssigneeID *string
	Assignee   *Assignee
	Assignees  []Assignee
	Tags       []Tag
	StartDate  *time.Time
	DueDate    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Children   []*Node
}

// BuildTree links flat nodes into a forest using ParentID. Input order is
// preserved both for roots and within each child list, so callers control
// ordering by ordering the flat slice. It rejects duplicate ids and parent
// references that do not resolve within the slice.
func BuildTree(flat []*Node) ([]*Node, error) {
	byID := make(map[string]*Node, len(flat))
	for _, n := range flat {
		if n.ID == "" {
			return nil, fmt.Errorf("story with empty id")
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate story id %s", n.ID)
		}
		n.Children = nil
		byID[n.ID] = n
	}

	var roots []*Node
	for _, n := range flat {
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			return nil, fmt.Errorf("story %s references unknown parent %s", n.ID, *n.ParentID)
		}
		if parent.ID == n.ID {
			return nil, fmt.Errorf("story %s is its own parent", n.ID)
		}
		parent.Children = append(parent.Children, n)
	}
	return roots, nil
}

// FindNode locates a story in a forest by id.
func FindNode(roots []*Node, id string) *Node {
	for _, n := range roots {
		if n.ID == id {
			return n
		}
		if found := FindNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}
