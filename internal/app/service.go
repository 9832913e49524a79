package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BeeDoubleYouKay/tido/internal/auth"
	"github.com/BeeDoubleYouKay/tido/internal/authpw"
	"github.com/BeeDoubleYouKay/tido/internal/config"
	"github.com/BeeDoubleYouKay/tido/internal/media"
	"github.com/BeeDoubleYouKay/tido/internal/metrics"
	"github.com/BeeDoubleYouKay/tido/internal/search"
	"github.com/BeeDoubleYouKay/tido/internal/store"
	"github.com/BeeDoubleYouKay/tido/internal/story"
	"github.com/BeeDoubleYouKay/tido/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         *string
	JTI          string
	ExpiresAt    time.Time
}

// PublicUser is the user shape exposed to assignee pickers.
type PublicUser struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// BoardSettings is the persisted per-user view configuration.
type BoardSettings struct {
	GroupBy   string `json:"groupBy"`
	SortBy    string `json:"sortBy"`
	WeekStart int    `json:"weekStart"`
}

// AttachmentMeta is the attachment shape returned by the API.
type AttachmentMeta struct {
	ID          string `json:"id"`
	StoryID     string `json:"storyId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"createdAt"`
}

var (
	validGroupBy = map[string]struct{}{"none": {}, "status": {}, "priority": {}}
	validSortBy  = map[string]struct{}{"priority": {}, "position": {}, "effort": {}, "status": {}}
)

// dataStore is the storage surface the service depends on.
type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListStoryTree(context.Context, string) ([]*story.Node, error)
	GetStoryTree(context.Context, string, string) (*story.Node, error)
	StoryOwned(context.Context, string, string) (bool, error)
	MaxPosition(context.Context, string, *string) (int, error)
	InsertStory(context.Context, store.StoryRecord) error
	UpdateStory(context.Context, string, story.Patch) error
	DeleteStory(context.Context, string) error
	ReplaceStoryAssignees(context.Context, string, []string) error

	GetBoardPrefs(context.Context, string) (store.BoardPrefs, error)
	UpsertBoardPrefs(context.Context, store.BoardPrefs) error

	InsertAttachment(context.Context, store.Attachment) error
	ListAttachments(context.Context, string) ([]store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)
	DeleteAttachment(context.Context, string) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, otherwise the
// refresh_sessions table.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	passwd   *authpw.Service
	search   *search.Service
	media    *media.Service
	metrics  *metrics.Metrics
}

type Options struct {
	Sessions sessionStore
	Passwd   *authpw.Service
	Search   *search.Service
	Media    *media.Service
	Metrics  *metrics.Metrics
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: opts.Sessions,
		passwd:   opts.Passwd,
		search:   opts.Search,
		media:    opts.Media,
		metrics:  opts.Metrics,
	}
	if svc.sessions == nil {
		svc.sessions = dataStore
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap warms dependent systems; currently that is the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// ── Auth and sessions ──

// Register creates a local account. Disabled when an external auth provider
// owns the user directory.
func (s *Service) Register(ctx context.Context, email, password string, name *string) error {
	if s.cfg.AuthProvider != "local" || s.passwd == nil {
		return domainError(http.StatusBadRequest, "EXTERNAL_AUTH", "Registration is managed by the external auth provider", nil)
	}
	_, err := s.passwd.Register(ctx, authpw.RegisterRequest{Email: email, Password: password, Name: name})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return domainError(http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
	}
	if err != nil {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if s.passwd == nil {
		return Session{}, domainError(http.StatusBadRequest, "EXTERNAL_AUTH", "Login is managed by the external auth provider", nil)
	}
	user, err := s.passwd.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  name,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	sess := Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}
	if claims.Name != "" {
		name := claims.Name
		sess.Name = &name
	}
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Stories ──

// ListStories returns the owner's full story forest in transport form.
// Roots and each child list follow the stored (dueDate asc, position asc)
// ordering.
func (s *Service) ListStories(ctx context.Context, ownerID string) ([]story.Serialized, error) {
	roots, err := s.store.ListStoryTree(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return story.SerializeForest(roots), nil
}

// CreateStory validates the payload, assigns a position, and persists the
// story. Children start at position 0; top-level stories get one past the
// highest position in their status scope (owner-wide when status is null).
func (s *Service) CreateStory(ctx context.Context, ownerID string, raw []byte) (story.Serialized, error) {
	input, err := story.ParseCreate(raw)
	if err != nil {
		return story.Serialized{}, validationDomainError(err)
	}

	if input.ParentID != nil {
		owned, err := s.store.StoryOwned(ctx, *input.ParentID, ownerID)
		if err != nil {
			return story.Serialized{}, err
		}
		if !owned {
			return story.Serialized{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
				map[string]string{"parentId": "parent story not found"})
		}
	}

	position := 0
	if input.ParentID == nil {
		max, err := s.store.MaxPosition(ctx, ownerID, statusString(input.Status))
		if err != nil {
			return story.Serialized{}, err
		}
		position = max + 1
	}

	rec := store.StoryRecord{
		ID:          util.NewID("sty"),
		Title:       input.Title,
		Description: input.Description,
		Status:      statusString(input.Status),
		Priority:    input.Priority,
		Position:    position,
		OwnerID:     ownerID,
		ParentID:    input.ParentID,
		StartDate:   input.StartDate,
		DueDate:     input.DueDate,
	}
	if err := s.store.InsertStory(ctx, rec); err != nil {
		return story.Serialized{}, err
	}

	node, err := s.store.GetStoryTree(ctx, ownerID, rec.ID)
	if err != nil {
		return story.Serialized{}, err
	}

	s.indexStory(node)
	if s.metrics != nil {
		s.metrics.StoryCreated()
	}
	return story.Serialize(node), nil
}

// PatchStory applies a partial update to an owned story. Assignee lists are
// replaced wholesale. Re-parenting onto the story itself or into its own
// subtree is rejected.
func (s *Service) PatchStory(ctx context.Context, ownerID, storyID string, raw []byte) (story.Serialized, error) {
	patch, err := story.ParsePatch(raw)
	if err != nil {
		return story.Serialized{}, validationDomainError(err)
	}

	owned, err := s.store.StoryOwned(ctx, storyID, ownerID)
	if err != nil {
		return story.Serialized{}, err
	}
	if !owned {
		return story.Serialized{}, domainError(http.StatusNotFound, "NOT_FOUND", "Story not found", nil)
	}

	if patch.ParentIDSet && patch.ParentID != nil {
		if err := s.checkReparent(ctx, ownerID, storyID, *patch.ParentID); err != nil {
			return story.Serialized{}, err
		}
	}

	if patch.AssigneesSet {
		if err := s.store.ReplaceStoryAssignees(ctx, storyID, patch.Assignees); err != nil {
			return story.Serialized{}, err
		}
	}

	if !patch.Empty() {
		if err := s.store.UpdateStory(ctx, storyID, patch); err != nil {
			return story.Serialized{}, err
		}
	}

	node, err := s.store.GetStoryTree(ctx, ownerID, storyID)
	if err != nil {
		return story.Serialized{}, err
	}

	s.indexStory(node)
	return story.Serialize(node), nil
}

func (s *Service) checkReparent(ctx context.Context, ownerID, storyID, parentID string) error {
	if parentID == storyID {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
			map[string]string{"parentId": "a story cannot be its own parent"})
	}
	owned, err := s.store.StoryOwned(ctx, parentID, ownerID)
	if err != nil {
		return err
	}
	if !owned {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
			map[string]string{"parentId": "parent story not found"})
	}
	node, err := s.store.GetStoryTree(ctx, ownerID, storyID)
	if err != nil {
		return err
	}
	if story.FindNode(node.Children, parentID) != nil {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
			map[string]string{"parentId": "cannot move a story under its own descendant"})
	}
	return nil
}

// DeleteStory removes an owned story and, via the cascading foreign key, its
// whole subtree.
func (s *Service) DeleteStory(ctx context.Context, ownerID, storyID string) error {
	owned, err := s.store.StoryOwned(ctx, storyID, ownerID)
	if err != nil {
		return err
	}
	if !owned {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Story not found", nil)
	}

	var subtreeIDs []string
	if node, err := s.store.GetStoryTree(ctx, ownerID, storyID); err == nil {
		subtreeIDs = collectIDs(node)
	}

	if err := s.store.DeleteStory(ctx, storyID); err != nil {
		return err
	}

	if s.search != nil {
		for _, id := range subtreeIDs {
			s.search.DeleteStory(id)
		}
	}
	if s.metrics != nil {
		s.metrics.StoryDeleted()
	}
	return nil
}

func collectIDs(node *story.Node) []string {
	ids := []string{node.ID}
	for _, child := range node.Children {
		ids = append(ids, collectIDs(child)...)
	}
	return ids
}

func (s *Service) indexStory(node *story.Node) {
	if s.search == nil {
		return
	}
	description := ""
	if node.Description != nil {
		description = *node.Description
	}
	s.search.IndexStory(search.StoryRecord{
		ID:          node.ID,
		Title:       node.Title,
		Description: description,
		Status:      statusString(node.Status),
		Priority:    node.Priority,
		OwnerID:     node.OwnerID,
	})
}

// ── Users ──

func (s *Service) ListUsers(ctx context.Context) ([]PublicUser, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, PublicUser{ID: u.ID, Email: u.Email, Name: u.Name})
	}
	return out, nil
}

// ── Settings ──

func (s *Service) GetSettings(ctx context.Context, userID string) (BoardSettings, error) {
	prefs, err := s.store.GetBoardPrefs(ctx, userID)
	if err != nil {
		return BoardSettings{}, err
	}
	return BoardSettings{GroupBy: prefs.GroupBy, SortBy: prefs.SortBy, WeekStart: prefs.WeekStart}, nil
}

func (s *Service) PutSettings(ctx context.Context, userID string, settings BoardSettings) (BoardSettings, error) {
	fields := map[string]string{}
	if _, ok := validGroupBy[settings.GroupBy]; !ok {
		fields["groupBy"] = "groupBy must be one of none, status, priority"
	}
	if _, ok := validSortBy[settings.SortBy]; !ok {
		fields["sortBy"] = "sortBy must be one of priority, position, effort, status"
	}
	if settings.WeekStart != 0 && settings.WeekStart != 1 {
		fields["weekStart"] = "weekStart must be 0 (Sunday) or 1 (Monday)"
	}
	if len(fields) > 0 {
		return BoardSettings{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid settings", fields)
	}

	err := s.store.UpsertBoardPrefs(ctx, store.BoardPrefs{
		UserID:    userID,
		GroupBy:   settings.GroupBy,
		SortBy:    settings.SortBy,
		WeekStart: settings.WeekStart,
	})
	if err != nil {
		return BoardSettings{}, err
	}
	return settings, nil
}

// ── Search ──

func (s *Service) Search(ctx context.Context, ownerID, text, status string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if status != "" {
		if _, ok := story.ParseStatus(status); !ok {
			return search.Response{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
				map[string]string{"status": "unknown status"})
		}
	}
	return s.search.Search(search.Query{
		Text:         text,
		OwnerID:      ownerID,
		FilterStatus: status,
		Limit:        limit,
		Offset:       offset,
	}), nil
}

// ── Attachments ──

// UploadAttachment streams the body into the bucket and records metadata.
func (s *Service) UploadAttachment(ctx context.Context, ownerID, storyID, filename, contentType string, size int64, body io.Reader) (AttachmentMeta, error) {
	if s.media == nil {
		return AttachmentMeta{}, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	owned, err := s.store.StoryOwned(ctx, storyID, ownerID)
	if err != nil {
		return AttachmentMeta{}, err
	}
	if !owned {
		return AttachmentMeta{}, domainError(http.StatusNotFound, "NOT_FOUND", "Story not found", nil)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return AttachmentMeta{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request",
			map[string]string{"filename": "filename is required"})
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := store.Attachment{
		ID:          util.NewID("att"),
		StoryID:     storyID,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	}
	att.ObjectKey = fmt.Sprintf("stories/%s/%s", storyID, att.ID)

	if err := s.media.Put(ctx, att.ObjectKey, body, size, contentType); err != nil {
		return AttachmentMeta{}, err
	}
	if err := s.store.InsertAttachment(ctx, att); err != nil {
		_ = s.media.Delete(ctx, att.ObjectKey)
		return AttachmentMeta{}, err
	}
	return attachmentMeta(att), nil
}

func (s *Service) ListStoryAttachments(ctx context.Context, ownerID, storyID string) ([]AttachmentMeta, error) {
	owned, err := s.store.StoryOwned(ctx, storyID, ownerID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Story not found", nil)
	}
	items, err := s.store.ListAttachments(ctx, storyID)
	if err != nil {
		return nil, err
	}
	out := make([]AttachmentMeta, 0, len(items))
	for _, att := range items {
		out = append(out, attachmentMeta(att))
	}
	return out, nil
}

// OpenAttachment returns the metadata and a reader over the stored bytes.
// The caller must close the reader.
func (s *Service) OpenAttachment(ctx context.Context, ownerID, attachmentID string) (AttachmentMeta, io.ReadCloser, error) {
	if s.media == nil {
		return AttachmentMeta{}, nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	att, err := s.getOwnedAttachment(ctx, ownerID, attachmentID)
	if err != nil {
		return AttachmentMeta{}, nil, err
	}
	body, err := s.media.Get(ctx, att.ObjectKey)
	if err != nil {
		return AttachmentMeta{}, nil, err
	}
	return attachmentMeta(att), body, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, ownerID, attachmentID string) error {
	att, err := s.getOwnedAttachment(ctx, ownerID, attachmentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, att.ID); err != nil {
		return err
	}
	if s.media != nil {
		_ = s.media.Delete(ctx, att.ObjectKey)
	}
	return nil
}

func (s *Service) getOwnedAttachment(ctx context.Context, ownerID, attachmentID string) (store.Attachment, error) {
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Attachment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
	}
	if err != nil {
		return store.Attachment{}, err
	}
	owned, err := s.store.StoryOwned(ctx, att.StoryID, ownerID)
	if err != nil {
		return store.Attachment{}, err
	}
	if !owned {
		return store.Attachment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
	}
	return att, nil
}

func attachmentMeta(att store.Attachment) AttachmentMeta {
	return AttachmentMeta{
		ID:          att.ID,
		StoryID:     att.StoryID,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		Size:        att.Size,
		CreatedAt:   att.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func statusString(status *story.Status) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func validationDomainError(err error) error {
	var vErr *story.ValidationError
	if errors.As(err, &vErr) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", vErr.Fields)
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", nil)
}
