package board

import (
	"sort"
	"strings"
	"time"
)

// BacklogTargetID is the droppable id of the calendar's backlog sidebar.
// Dropping a story there clears its dates.
const BacklogTargetID = "backlog"

const dayTargetPrefix = "day-"

// DayKey formats a time as the calendar bucket key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DayTargetID builds the droppable id for a calendar day cell.
func DayTargetID(t time.Time) string {
	return dayTargetPrefix + DayKey(t)
}

// ResolveDayTarget maps a droppable id onto the due-date key it assigns:
// the backlog clears the date, a day cell sets it, and anything else does
// not resolve so the drop is a no-op.
func ResolveDayTarget(targetID string) (*string, bool) {
	if targetID == BacklogTargetID {
		return nil, true
	}
	if key, ok := strings.CutPrefix(targetID, dayTargetPrefix); ok {
		return &key, true
	}
	return nil, false
}

// CalendarAssignments buckets dated stories by day key, each bucket sorted
// by priority ascending.
func (s *Store) CalendarAssignments() map[string][]Story {
	assignments := make(map[string][]Story)
	for _, st := range s.All() {
		if st.DueDateKey != nil {
			assignments[*st.DueDateKey] = append(assignments[*st.DueDateKey], st)
		}
	}
	for key := range assignments {
		stories := assignments[key]
		sort.SliceStable(stories, func(i, j int) bool {
			return stories[i].Priority < stories[j].Priority
		})
		assignments[key] = stories
	}
	return assignments
}

// CalendarDays returns the 42-cell month grid starting from the first
// weekStart on or before the first of the month.
func CalendarDays(month time.Time, weekStart time.Weekday) []time.Time {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	start := startOfWeek(first, weekStart)
	days := make([]time.Time, 42)
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

func startOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(weekStart) + 7) % 7
	return t.AddDate(0, 0, -offset)
}
