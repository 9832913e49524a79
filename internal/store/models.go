package store

import "time"

type User struct {
	ID           string
	Email        string
	Name         *string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoryRecord is the flat row shape of a story. Tree linkage, assignees, and
// tags are resolved by the store before handing the result to the story
// package's tree constructor.
type StoryRecord struct {
	ID          string
	Title       string
	Description *string
	Status      *string
	Priority    int
	Effort      *int
	Position    int
	OwnerID     string
	ParentID    *string
	AssigneeID  *string
	StartDate   *time.Time
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type StoryTag struct {
	ID      string
	StoryID string
	Label   string
	Color   string
}

// BoardPrefs are the per-user view settings (replaces the original
// client-side ambient cache with a persisted value).
type BoardPrefs struct {
	UserID    string
	GroupBy   string
	SortBy    string
	WeekStart int
	UpdatedAt time.Time
}

// Attachment is a file stored in the object bucket and linked to a story.
type Attachment struct {
	ID          string
	StoryID     string
	Filename    string
	ContentType string
	Size        int64
	ObjectKey   string
	CreatedAt   time.Time
}
