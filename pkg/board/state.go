package board

import (
	"fmt"
	"sync"

	"github.com/BeeDoubleYouKay/tido/internal/story"
)

// RootKey is the sentinel child-list key for top-level stories.
const RootKey = "root"

// Store is the normalized story state: a byID map plus ordered child lists
// keyed by parent id, with RootKey holding the top level. Every linked id has
// a byID entry and appears in exactly one child list. The mutex matters
// because persistence completions land on other goroutines.
type Store struct {
	mu       sync.Mutex
	byID     map[string]Story
	children map[string][]string

	saveFailed bool
}

// NewStore normalizes a serialized story forest, preserving server order.
func NewStore(roots []story.Serialized) *Store {
	s := &Store{
		byID:     make(map[string]Story),
		children: map[string][]string{RootKey: {}},
	}
	s.register(roots, nil)
	return s
}

func (s *Store) register(stories []story.Serialized, parentID *string) {
	key := childKey(parentID)
	if _, ok := s.children[key]; !ok {
		s.children[key] = []string{}
	}
	for _, src := range stories {
		n := normalize(src, parentID)
		s.byID[n.ID] = n
		s.children[key] = append(s.children[key], n.ID)
		if _, ok := s.children[n.ID]; !ok {
			s.children[n.ID] = []string{}
		}
		if len(src.Children) > 0 {
			id := src.ID
			s.register(src.Children, &id)
		}
	}
}

// Get returns a story by id.
func (s *Store) Get(id string) (Story, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	return st, ok
}

// Len reports the number of stories in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// RootOrder returns a copy of the top-level ordering.
func (s *Store) RootOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.children[RootKey]...)
}

// ChildIDs returns a copy of a story's ordered child ids.
func (s *Store) ChildIDs(parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.children[parentID]...)
}

// All returns every story in depth-first tree order.
func (s *Store) All() []Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Story
	var walk func(key string)
	walk = func(key string) {
		for _, id := range s.children[key] {
			out = append(out, s.byID[id])
			walk(id)
		}
	}
	walk(RootKey)
	return out
}

// Apply mutates a single story in place. Parent changes are ignored here;
// re-parenting must go through Merge so the child lists stay consistent.
func (s *Store) Apply(id string, mutate func(*Story)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return false
	}
	parent := st.ParentID
	mutate(&st)
	st.ParentID = parent
	s.byID[id] = st
	return true
}

// Merge folds a canonical server story into the state. If the parent changed
// the id is removed from its old child list and appended once to the new one,
// so the one-list-per-id invariant holds across re-parenting. Child lists are
// otherwise left alone; descendants merge via their own responses.
func (s *Store) Merge(src story.Serialized) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := normalize(src, src.ParentID)
	if _, ok := s.children[n.ID]; !ok {
		s.children[n.ID] = []string{}
	}
	parentKey := childKey(n.ParentID)
	if _, ok := s.children[parentKey]; !ok {
		s.children[parentKey] = []string{}
	}

	existing, had := s.byID[n.ID]
	if had && !equalStr(existing.ParentID, n.ParentID) {
		oldKey := childKey(existing.ParentID)
		s.children[oldKey] = removeID(s.children[oldKey], n.ID)
	}
	if !containsID(s.children[parentKey], n.ID) {
		s.children[parentKey] = append(s.children[parentKey], n.ID)
	}
	s.byID[n.ID] = n
}

// Remove deletes a story and its whole subtree from the state.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return
	}
	parentKey := childKey(st.ParentID)
	s.children[parentKey] = removeID(s.children[parentKey], id)
	s.removeSubtree(id)
}

func (s *Store) removeSubtree(id string) {
	for _, child := range s.children[id] {
		s.removeSubtree(child)
	}
	delete(s.children, id)
	delete(s.byID, id)
}

// Check verifies the structural invariant: every linked id resolves in byID,
// every story is linked under exactly one parent, and every non-root child
// list belongs to a known story.
func (s *Store) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linkedUnder := make(map[string]string)
	for key, ids := range s.children {
		if key != RootKey {
			if _, ok := s.byID[key]; !ok {
				return fmt.Errorf("child list for unknown story %s", key)
			}
		}
		for _, id := range ids {
			if _, ok := s.byID[id]; !ok {
				return fmt.Errorf("linked story %s has no entry", id)
			}
			if prev, dup := linkedUnder[id]; dup {
				return fmt.Errorf("story %s linked under both %s and %s", id, prev, key)
			}
			linkedUnder[id] = key
		}
	}
	for id := range s.byID {
		if _, ok := linkedUnder[id]; !ok {
			return fmt.Errorf("story %s not linked under any parent", id)
		}
	}
	return nil
}

// SaveFailed reports whether a persistence attempt has failed since the flag
// was last cleared. Views surface it as a banner.
func (s *Store) SaveFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveFailed
}

// ClearSaveFailed resets the failure flag.
func (s *Store) ClearSaveFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveFailed = false
}

func (s *Store) setSaveFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveFailed = true
}

// reorderRoots moves activeID to overID's slot in the top-level list and
// renumbers root positions to match. It returns what is needed to undo the
// move exactly: the prior order and the prior position of every root.
func (s *Store) reorderRoots(activeID, overID string) (prevOrder []string, prevPos map[string]int, newIndex int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.children[RootKey]
	oldIdx := indexOf(order, activeID)
	newIdx := indexOf(order, overID)
	if oldIdx < 0 || newIdx < 0 || oldIdx == newIdx {
		return nil, nil, 0, false
	}

	prevOrder = append([]string(nil), order...)
	prevPos = make(map[string]int, len(order))
	for _, id := range order {
		prevPos[id] = s.byID[id].Position
	}

	moved := arrayMove(order, oldIdx, newIdx)
	s.children[RootKey] = moved
	for i, id := range moved {
		st := s.byID[id]
		st.Position = i
		s.byID[id] = st
	}
	return prevOrder, prevPos, newIdx, true
}

func (s *Store) restoreRoots(order []string, positions map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[RootKey] = append([]string(nil), order...)
	for id, pos := range positions {
		if st, ok := s.byID[id]; ok {
			st.Position = pos
			s.byID[id] = st
		}
	}
}

func (s *Store) rootStories() []Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Story, 0, len(s.children[RootKey]))
	for _, id := range s.children[RootKey] {
		out = append(out, s.byID[id])
	}
	return out
}

func childKey(parentID *string) string {
	if parentID == nil {
		return RootKey
	}
	return *parentID
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsID(ids []string, id string) bool {
	return indexOf(ids, id) >= 0
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

func arrayMove(ids []string, from, to int) []string {
	out := append([]string(nil), ids...)
	moved := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append([]string{moved}, out[to:]...)...)
	return out
}
