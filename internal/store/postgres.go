package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BeeDoubleYouKay/tido/internal/story"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.Name, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, created_at, updated_at
		FROM users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// ── Refresh sessions / revoked tokens (Postgres fallback when Redis is off) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.name
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Stories ──

// ListStoryTree loads every story owned by ownerID, resolves assignees and
// tags, and returns the validated tree. Roots and sibling lists are ordered
// by (due_date asc nulls last, position asc).
func (s *PostgresStore) ListStoryTree(ctx context.Context, ownerID string) ([]*story.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, effort, position,
			owner_id, parent_id, assignee_id, start_date, due_date, created_at, updated_at
		FROM stories
		WHERE owner_id = $1
		ORDER BY due_date ASC NULLS LAST, position ASC, created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var flat []*story.Node
	byID := make(map[string]*story.Node)
	for rows.Next() {
		var rec StoryRecord
		if err := rows.Scan(
			&rec.ID, &rec.Title, &rec.Description, &rec.Status, &rec.Priority, &rec.Effort,
			&rec.Position, &rec.OwnerID, &rec.ParentID, &rec.AssigneeID,
			&rec.StartDate, &rec.DueDate, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		node := recordToNode(rec)
		flat = append(flat, node)
		byID[node.ID] = node
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}

	if err := s.attachAssignees(ctx, ownerID, byID); err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, ownerID, byID); err != nil {
		return nil, err
	}

	roots, err := story.BuildTree(flat)
	if err != nil {
		return nil, fmt.Errorf("build story tree: %w", err)
	}
	return roots, nil
}

// GetStoryTree returns the owned story with its full subtree, or
// sql.ErrNoRows when the id does not exist for this owner.
func (s *PostgresStore) GetStoryTree(ctx context.Context, ownerID, storyID string) (*story.Node, error) {
	roots, err := s.ListStoryTree(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	node := story.FindNode(roots, storyID)
	if node == nil {
		return nil, sql.ErrNoRows
	}
	return node, nil
}

// StoryOwned reports whether the story exists and belongs to ownerID.
func (s *PostgresStore) StoryOwned(ctx context.Context, storyID, ownerID string) (bool, error) {
	var owned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM stories WHERE id=$1 AND owner_id=$2)
	`, storyID, ownerID).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check story owner: %w", err)
	}
	return owned, nil
}

// MaxPosition returns the highest position within the owner's status scope.
// A nil status matches the original behavior of scoping owner-wide instead
// of to the null-status bucket.
func (s *PostgresStore) MaxPosition(ctx context.Context, ownerID string, status *string) (int, error) {
	var max sql.NullInt64
	var err error
	if status == nil {
		err = s.db.QueryRowContext(ctx, `
			SELECT MAX(position) FROM stories WHERE owner_id=$1
		`, ownerID).Scan(&max)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT MAX(position) FROM stories WHERE owner_id=$1 AND status=$2
		`, ownerID, *status).Scan(&max)
	}
	if err != nil {
		return 0, fmt.Errorf("max position: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (s *PostgresStore) InsertStory(ctx context.Context, rec StoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, title, description, status, priority, effort, position,
			owner_id, parent_id, assignee_id, start_date, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.Title, rec.Description, rec.Status, rec.Priority, rec.Effort,
		rec.Position, rec.OwnerID, rec.ParentID, rec.AssigneeID, rec.StartDate, rec.DueDate)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// UpdateStory applies a partial patch. Only fields carried by the patch make
// it into the SET clause; updated_at always advances.
func (s *PostgresStore) UpdateStory(ctx context.Context, storyID string, patch story.Patch) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{storyID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Title != nil {
		sets = append(sets, "title="+arg(*patch.Title))
	}
	if patch.DescriptionSet {
		sets = append(sets, "description="+arg(patch.Description))
	}
	if patch.StatusSet {
		sets = append(sets, "status="+arg(statusArg(patch.Status)))
	}
	if patch.Priority != nil {
		sets = append(sets, "priority="+arg(*patch.Priority))
	}
	if patch.ParentIDSet {
		sets = append(sets, "parent_id="+arg(patch.ParentID))
	}
	if patch.DueDateSet {
		sets = append(sets, "due_date="+arg(patch.DueDate))
	}
	if patch.StartDateSet {
		sets = append(sets, "start_date="+arg(patch.StartDate))
	}
	if patch.EffortSet {
		sets = append(sets, "effort="+arg(patch.Effort))
	}
	if patch.Position != nil {
		sets = append(sets, "position="+arg(*patch.Position))
	}

	query := "UPDATE stories SET " + strings.Join(sets, ", ") + " WHERE id=$1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	return nil
}

// DeleteStory removes the story; the parent_id foreign key cascades so the
// whole subtree goes with it.
func (s *PostgresStore) DeleteStory(ctx context.Context, storyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id=$1`, storyID); err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	return nil
}

// ReplaceStoryAssignees deletes all assignee links and recreates them. The
// two steps are intentionally separate statements to match the observed
// all-or-nothing replacement contract; a crash between them leaves the story
// unassigned.
func (s *PostgresStore) ReplaceStoryAssignees(ctx context.Context, storyID string, userIDs []string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM story_assignees WHERE story_id=$1`, storyID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO story_assignees (story_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (story_id, user_id) DO NOTHING
		`, storyID, userID); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) attachAssignees(ctx context.Context, ownerID string, byID map[string]*story.Node) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sa.story_id, u.id, u.email, u.name
		FROM story_assignees sa
		JOIN stories st ON st.id = sa.story_id
		JOIN users u ON u.id = sa.user_id
		WHERE st.owner_id = $1
		ORDER BY u.email ASC
	`, ownerID)
	if err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var storyID string
		var a story.Assignee
		if err := rows.Scan(&storyID, &a.ID, &a.Email, &a.Name); err != nil {
			return fmt.Errorf("scan assignee: %w", err)
		}
		if node, ok := byID[storyID]; ok {
			node.Assignees = append(node.Assignees, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assignees: %w", err)
	}

	// Legacy single-assignee column, resolved separately. The join relation
	// stays authoritative; this only fills the assignee field for callers
	// that still read it.
	legacyRows, err := s.db.QueryContext(ctx, `
		SELECT st.id, u.id, u.email, u.name
		FROM stories st
		JOIN users u ON u.id = st.assignee_id
		WHERE st.owner_id = $1 AND st.assignee_id IS NOT NULL
	`, ownerID)
	if err != nil {
		return fmt.Errorf("load legacy assignees: %w", err)
	}
	defer legacyRows.Close()

	for legacyRows.Next() {
		var storyID string
		var a story.Assignee
		if err := legacyRows.Scan(&storyID, &a.ID, &a.Email, &a.Name); err != nil {
			return fmt.Errorf("scan legacy assignee: %w", err)
		}
		if node, ok := byID[storyID]; ok {
			assignee := a
			node.Assignee = &assignee
		}
	}
	return legacyRows.Err()
}

func (s *PostgresStore) attachTags(ctx context.Context, ownerID string, byID map[string]*story.Node) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.story_id, t.label, t.color
		FROM story_tags t
		JOIN stories st ON st.id = t.story_id
		WHERE st.owner_id = $1
		ORDER BY t.label ASC
	`, ownerID)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var storyID string
		var tag story.Tag
		if err := rows.Scan(&storyID, &tag.Label, &tag.Color); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if node, ok := byID[storyID]; ok {
			node.Tags = append(node.Tags, tag)
		}
	}
	return rows.Err()
}

// ── Board prefs ──

func (s *PostgresStore) GetBoardPrefs(ctx context.Context, userID string) (BoardPrefs, error) {
	var prefs BoardPrefs
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, group_by, sort_by, week_start, updated_at
		FROM board_prefs
		WHERE user_id = $1
	`, userID).Scan(&prefs.UserID, &prefs.GroupBy, &prefs.SortBy, &prefs.WeekStart, &prefs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BoardPrefs{UserID: userID, GroupBy: "priority", SortBy: "priority", WeekStart: 1}, nil
	}
	if err != nil {
		return BoardPrefs{}, fmt.Errorf("get board prefs: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) UpsertBoardPrefs(ctx context.Context, prefs BoardPrefs) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_prefs (user_id, group_by, sort_by, week_start)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			group_by=EXCLUDED.group_by, sort_by=EXCLUDED.sort_by,
			week_start=EXCLUDED.week_start, updated_at=NOW()
	`, prefs.UserID, prefs.GroupBy, prefs.SortBy, prefs.WeekStart)
	if err != nil {
		return fmt.Errorf("upsert board prefs: %w", err)
	}
	return nil
}

// ── Attachments ──

func (s *PostgresStore) InsertAttachment(ctx context.Context, att Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, story_id, filename, content_type, size, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, att.ID, att.StoryID, att.Filename, att.ContentType, att.Size, att.ObjectKey)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, storyID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, filename, content_type, size, object_key, created_at
		FROM attachments
		WHERE story_id = $1
		ORDER BY created_at ASC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var att Attachment
		if err := rows.Scan(&att.ID, &att.StoryID, &att.Filename, &att.ContentType, &att.Size, &att.ObjectKey, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, att)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var att Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, story_id, filename, content_type, size, object_key, created_at
		FROM attachments
		WHERE id = $1
	`, attachmentID).Scan(&att.ID, &att.StoryID, &att.Filename, &att.ContentType, &att.Size, &att.ObjectKey, &att.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return att, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

func recordToNode(rec StoryRecord) *story.Node {
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
	return node
}

func statusArg(status *story.Status) any {
	if status == nil {
		return nil
	}
	return string(*status)
}
