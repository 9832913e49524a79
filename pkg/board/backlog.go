package board

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// GroupBy selects how the backlog table buckets top-level stories.
type GroupBy string

// SortBy selects the backlog sort key applied before grouping.
type SortBy string

const (
	GroupNone     GroupBy = "none"
	GroupStatus   GroupBy = "status"
	GroupPriority GroupBy = "priority"

	SortPriority SortBy = "priority"
	SortPosition SortBy = "position"
	SortEffort   SortBy = "effort"
	SortStatus   SortBy = "status"
)

var statusLabels = map[string]string{
	story.NoStatusKey:             "No Status",
	string(story.StatusBacklog):   "Backlog",
	string(story.StatusReady):     "Ready",
	string(story.StatusInProgress): "In progress",
	string(story.StatusBlocked):   "Blocked",
	string(story.StatusReview):    "In review",
	string(story.StatusDone):      "Done",
	string(story.StatusArchived):  "Archived",
}

var priorityLabels = map[int]string{
	1: "High Priority",
	2: "Medium Priority",
	3: "Normal Priority",
	4: "Low Priority",
}

// Group is one backlog bucket after sorting and grouping.
type Group struct {
	Key      string
	Label    string
	Stories  []Story
	Estimate int
}

// BacklogGroups projects the top-level stories into the backlog table shape:
// sort by the given key, then bucket. Group order is canonical — status
// precedence with NO_STATUS last, priorities ascending — and empty buckets
// are dropped. Every root lands in exactly one group.
func (s *Store) BacklogGroups(groupBy GroupBy, sortBy SortBy) []Group {
	roots := s.rootStories()
	sortStories(roots, sortBy)

	if groupBy == GroupNone {
		return []Group{{
			Key:      "Ungrouped",
			Label:    "Ungrouped",
			Stories:  roots,
			Estimate: estimate(roots),
		}}
	}

	buckets := make(map[string][]Story)
	for _, st := range roots {
		key := groupKey(groupBy, st)
		buckets[key] = append(buckets[key], st)
	}

	var out []Group
	for _, key := range groupKeyOrder(groupBy) {
		stories, ok := buckets[key]
		if !ok {
			continue
		}
		out = append(out, Group{
			Key:      key,
			Label:    groupLabel(groupBy, key),
			Stories:  stories,
			Estimate: estimate(stories),
		})
	}
	return out
}

// TreeNode is one entry of the undated backlog tree.
type TreeNode struct {
	Story    Story
	Children []*TreeNode
}

// BacklogTree projects the stories without a due date into a nested tree,
// preserving child order. Dated stories are skipped along with their
// subtrees, mirroring how the calendar sidebar walks the state.
func (s *Store) BacklogTree() []*TreeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlogNodes(RootKey)
}

func (s *Store) backlogNodes(key string) []*TreeNode {
	var out []*TreeNode
	for _, id := range s.children[key] {
		st, ok := s.byID[id]
		if !ok || st.DueDateKey != nil {
			continue
		}
		out = append(out, &TreeNode{Story: st, Children: s.backlogNodes(id)})
	}
	return out
}

func sortStories(stories []Story, by SortBy) {
	sort.SliceStable(stories, func(i, j int) bool {
		a, b := stories[i], stories[j]
		switch by {
		case SortPosition:
			return a.Position < b.Position
		case SortEffort:
			return effortOrZero(a.Effort) < effortOrZero(b.Effort)
		case SortStatus:
			return story.StatusRank(a.Status) < story.StatusRank(b.Status)
		default:
			return a.Priority < b.Priority
		}
	})
}

func groupKey(by GroupBy, st Story) string {
	if by == GroupStatus {
		return story.StatusKey(st.Status)
	}
	return strconv.Itoa(st.Priority)
}

func groupKeyOrder(by GroupBy) []string {
	if by == GroupStatus {
		keys := make([]string, 0, len(story.Statuses)+1)
		for _, s := range story.Statuses {
			keys = append(keys, string(s))
		}
		return append(keys, story.NoStatusKey)
	}
	return []string{"1", "2", "3", "4", "5"}
}

func groupLabel(by GroupBy, key string) string {
	if by == GroupStatus {
		if label, ok := statusLabels[key]; ok {
			return label
		}
		return key
	}
	if p, err := strconv.Atoi(key); err == nil {
		if label, ok := priorityLabels[p]; ok {
			return label
		}
	}
	return fmt.Sprintf("Priority %s", key)
}

func estimate(stories []Story) int {
	total := 0
	for _, st := range stories {
		total += effortOrZero(st.Effort)
	}
	return total
}

func effortOrZero(effort *int) int {
	if effort == nil {
		return 0
	}
	return *effort
}
