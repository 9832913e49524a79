package board

import (
	"context"
	"sync"

	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// StoryAPI persists story patches. *client.Client satisfies it.
type StoryAPI interface {
	PatchStory(ctx context.Context, id string, fields map[string]any) (story.Serialized, error)
}

// Reconciler applies drops optimistically and persists them in the
// background. Every drop follows the same protocol: resolve the target to a
// concrete field change, skip drops that resolve to nothing or to the current
// value, apply locally, then patch the server. A failed patch rolls back
// exactly the fields the drop changed and raises the store's failure flag; a
// successful one merges the canonical server story. Completions may land out
// of order — a late success can overwrite a newer local value, which is an
// accepted race.
type Reconciler struct {
	store *Store
	api   StoryAPI
	wg    sync.WaitGroup
}

// NewReconciler wires a store to its persistence API.
func NewReconciler(store *Store, api StoryAPI) *Reconciler {
	return &Reconciler{store: store, api: api}
}

// Wait blocks until every in-flight persistence call has completed.
func (r *Reconciler) Wait() { r.wg.Wait() }

// DropOnDay handles a calendar drop: the story's due and start dates move to
// the target day, or clear when the target is the backlog sidebar.
func (r *Reconciler) DropOnDay(ctx context.Context, storyID, targetID string) {
	dayKey, ok := ResolveDayTarget(targetID)
	if !ok {
		return
	}
	current, ok := r.store.Get(storyID)
	if !ok || equalStr(current.DueDateKey, dayKey) {
		return
	}

	prev := current.DueDateKey
	r.store.Apply(storyID, func(st *Story) { st.DueDateKey = dayKey })

	fields := map[string]any{
		"dueDate":   dayTimestamp(dayKey),
		"startDate": dayTimestamp(dayKey),
	}
	r.persist(ctx, storyID, fields, func() {
		r.store.Apply(storyID, func(st *Story) { st.DueDateKey = prev })
	})
}

// DropOnColumn handles a kanban drop: the story takes the column's status,
// or loses it on the NO_STATUS lane.
func (r *Reconciler) DropOnColumn(ctx context.Context, storyID, columnID string) {
	status, ok := ResolveColumnStatus(columnID)
	if !ok {
		return
	}
	current, ok := r.store.Get(storyID)
	if !ok || story.StatusKey(current.Status) == story.StatusKey(status) {
		return
	}

	prev := current.Status
	r.store.Apply(storyID, func(st *Story) { st.Status = status })

	fields := map[string]any{"status": statusValue(status)}
	r.persist(ctx, storyID, fields, func() {
		r.store.Apply(storyID, func(st *Story) { st.Status = prev })
	})
}

// MoveInBacklog handles a backlog reorder: the active story moves to the
// slot of the story it was dropped over, root positions renumber to match,
// and only the moved story's new index is persisted.
func (r *Reconciler) MoveInBacklog(ctx context.Context, activeID, overID string) {
	if activeID == overID {
		return
	}
	prevOrder, prevPos, newIndex, ok := r.store.reorderRoots(activeID, overID)
	if !ok {
		return
	}

	fields := map[string]any{"position": newIndex}
	r.persist(ctx, activeID, fields, func() {
		r.store.restoreRoots(prevOrder, prevPos)
	})
}

// UpdateFields handles inline (non-drag) edits from the table and detail
// panel. The change applies optimistically and is not rolled back on
// failure; only the failure flag is raised.
func (r *Reconciler) UpdateFields(ctx context.Context, storyID string, fields map[string]any) {
	r.store.Apply(storyID, func(st *Story) { applyLocalFields(st, fields) })
	r.persist(ctx, storyID, fields, nil)
}

func (r *Reconciler) persist(ctx context.Context, storyID string, fields map[string]any, rollback func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		updated, err := r.api.PatchStory(ctx, storyID, fields)
		if err != nil {
			if rollback != nil {
				rollback()
			}
			r.store.setSaveFailed()
			return
		}
		r.store.Merge(updated)
	}()
}

// dayTimestamp expands a day key to the midnight timestamp the API expects,
// or an explicit null when the key is cleared.
func dayTimestamp(dayKey *string) any {
	if dayKey == nil {
		return nil
	}
	return *dayKey + "T00:00:00Z"
}

func statusValue(status *story.Status) any {
	if status == nil {
		return nil
	}
	return string(*status)
}

// applyLocalFields mirrors a patch body onto the normalized story so inline
// edits show immediately. Unknown keys are ignored; the canonical values
// arrive with the merge.
func applyLocalFields(st *Story, fields map[string]any) {
	for key, value := range fields {
		switch key {
		case "title":
			if s, ok := value.(string); ok {
				st.Title = s
			}
		case "description":
			if value == nil {
				st.Description = nil
			} else if s, ok := value.(string); ok {
				st.Description = &s
			}
		case "status":
			if value == nil {
				st.Status = nil
			} else if s, ok := value.(string); ok {
				if status, valid := story.ParseStatus(s); valid {
					st.Status = &status
				}
			}
		case "priority":
			if n, ok := intValue(value); ok {
				st.Priority = n
			}
		case "effort":
			if value == nil {
				st.Effort = nil
			} else if n, ok := intValue(value); ok {
				st.Effort = &n
			}
		case "position":
			if n, ok := intValue(value); ok {
				st.Position = n
			}
		case "dueDate":
			if value == nil {
				st.DueDateKey = nil
			} else if s, ok := value.(string); ok {
				st.DueDateKey = dueDateKey(&s)
			}
		}
	}
}

func intValue(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
