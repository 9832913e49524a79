package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/BeeDoubleYouKay/tido/internal/authpw"
	"github.com/BeeDoubleYouKay/tido/internal/config"
	"github.com/BeeDoubleYouKay/tido/internal/store"
	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// fakeStore is an in-memory dataStore plus sessionStore used across the app
// tests. Story ordering mirrors the SQL: due date ascending with nulls last,
// then position, then creation time.
type fakeStore struct {
	users       map[string]store.User
	stories     map[string]store.StoryRecord
	assignees   map[string][]string
	prefs       map[string]store.BoardPrefs
	attachments map[string]store.Attachment
	sessions    map[string]fakeSession
	revoked     map[string]bool

	pingErr error
	seq     int
}

type fakeSession struct {
	user      store.User
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		stories:     make(map[string]store.StoryRecord),
		assignees:   make(map[string][]string),
		prefs:       make(map[string]store.BoardPrefs),
		attachments: make(map[string]store.Attachment),
		sessions:    make(map[string]fakeSession),
		revoked:     make(map[string]bool),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

// ── Users ──

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return fmt.Errorf("duplicate key value violates unique constraint (SQLSTATE 23505)")
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) ListUsers(_ context.Context) ([]store.User, error) {
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// ── Sessions and revocation ──

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.sessions[tokenHash] = fakeSession{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	sess, ok := f.sessions[tokenHash]
	if !ok || time.Now().After(sess.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return sess.user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

// ── Stories ──

func (f *fakeStore) ListStoryTree(_ context.Context, ownerID string) ([]*story.Node, error) {
	recs := make([]store.StoryRecord, 0)
	for _, rec := range f.stories {
		if rec.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	flat := make([]*story.Node, 0, len(recs))
	for _, rec := range recs {
		node := &story.Node{
			ID:          rec.ID,
			Title:       rec.Title,
			Description: rec.Description,
			Priority:    rec.Priority,
			Effort:      rec.Effort,
			Position:    rec.Position,
			OwnerID:     rec.OwnerID,
			ParentID:    rec.ParentID,
			AssigneeID:  rec.AssigneeID,
			StartDate:   rec.StartDate,
			DueDate:     rec.DueDate,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		}
		if rec.Status != nil {
			if status, ok := story.ParseStatus(*rec.Status); ok {
				node.Status = &status
			}
		}
		for _, userID := range f.assignees[rec.ID] {
			if user, ok := f.users[userID]; ok {
				node.Assignees = append(node.Assignees, story.Assignee{ID: user.ID, Email: user.Email, Name: user.Name})
			}
		}
		flat = append(flat, node)
	}
	return story.BuildTree(flat)
}

func (f *fakeStore) GetStoryTree(ctx context.Context, ownerID, storyID string) (*story.Node, error) {
	roots, err := f.ListStoryTree(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	node := story.FindNode(roots, storyID)
	if node == nil {
		return nil, sql.ErrNoRows
	}
	return node, nil
}

func (f *fakeStore) StoryOwned(_ context.Context, storyID, ownerID string) (bool, error) {
	rec, ok := f.stories[storyID]
	return ok && rec.OwnerID == ownerID, nil
}

func (f *fakeStore) MaxPosition(_ context.Context, ownerID string, status *string) (int, error) {
	max := 0
	for _, rec := range f.stories {
		if rec.OwnerID != ownerID {
			continue
		}
		if status != nil && (rec.Status == nil || *rec.Status != *status) {
			continue
		}
		if rec.Position > max {
			max = rec.Position
		}
	}
	return max, nil
}

func (f *fakeStore) InsertStory(_ context.Context, rec store.StoryRecord) error {
	f.seq++
	now := time.Now().Add(time.Duration(f.seq) * time.Microsecond)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	f.stories[rec.ID] = rec
	return nil
}

func (f *fakeStore) UpdateStory(_ context.Context, storyID string, patch story.Patch) error {
	rec, ok := f.stories[storyID]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.DescriptionSet {
		rec.Description = patch.Description
	}
	if patch.StatusSet {
		if patch.Status == nil {
			rec.Status = nil
		} else {
			s := string(*patch.Status)
			rec.Status = &s
		}
	}
	if patch.Priority != nil {
		rec.Priority = *patch.Priority
	}
	if patch.ParentIDSet {
		rec.ParentID = patch.ParentID
	}
	if patch.DueDateSet {
		rec.DueDate = patch.DueDate
	}
	if patch.StartDateSet {
		rec.StartDate = patch.StartDate
	}
	if patch.EffortSet {
		rec.Effort = patch.Effort
	}
	if patch.Position != nil {
		rec.Position = *patch.Position
	}
	rec.UpdatedAt = time.Now()
	f.stories[storyID] = rec
	return nil
}

func (f *fakeStore) DeleteStory(_ context.Context, storyID string) error {
	delete(f.stories, storyID)
	delete(f.assignees, storyID)
	// Cascade, as the parent_id foreign key would.
	for id, rec := range f.stories {
		if rec.ParentID != nil && *rec.ParentID == storyID {
			_ = f.DeleteStory(context.Background(), id)
		}
	}
	return nil
}

func (f *fakeStore) ReplaceStoryAssignees(_ context.Context, storyID string, userIDs []string) error {
	seen := make(map[string]bool)
	deduped := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			deduped = append(deduped, id)
		}
	}
	f.assignees[storyID] = deduped
	return nil
}

// ── Prefs ──

func (f *fakeStore) GetBoardPrefs(_ context.Context, userID string) (store.BoardPrefs, error) {
	prefs, ok := f.prefs[userID]
	if !ok {
		return store.BoardPrefs{UserID: userID, GroupBy: "priority", SortBy: "priority", WeekStart: 1}, nil
	}
	return prefs, nil
}

func (f *fakeStore) UpsertBoardPrefs(_ context.Context, prefs store.BoardPrefs) error {
	f.prefs[prefs.UserID] = prefs
	return nil
}

// ── Attachments ──

func (f *fakeStore) InsertAttachment(_ context.Context, att store.Attachment) error {
	att.CreatedAt = time.Now()
	f.attachments[att.ID] = att
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, storyID string) ([]store.Attachment, error) {
	items := make([]store.Attachment, 0)
	for _, att := range f.attachments {
		if att.StoryID == storyID {
			items = append(items, att)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, id string) (store.Attachment, error) {
	att, ok := f.attachments[id]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return att, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, id string) error {
	delete(f.attachments, id)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:    "test-secret",
			AccessTTL:    time.Hour,
			RefreshTTL:   24 * time.Hour,
			AuthProvider: "local",
		},
		store:    fs,
		sessions: fs,
		passwd:   authpw.NewService(fs),
	}
}
