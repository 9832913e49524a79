package story

// Status is the workflow state of a story. A story may also carry no status
// at all, which every view treats as a distinct "no status" bucket.
type Status string

const (
	StatusBacklog    Status = "BACKLOG"
	StatusReady      Status = "READY"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusReview     Status = "REVIEW"
	StatusDone       Status = "DONE"
	StatusArchived   Status = "ARCHIVED"
)

// NoStatusKey is the sentinel bucket key for stories without a status. It is
// distinct from every real status value.
const NoStatusKey = "NO_STATUS"

// Statuses lists all valid status values in precedence order.
var Statuses = []Status{
	StatusBacklog,
	StatusReady,
	StatusInProgress,
	StatusBlocked,
	StatusReview,
	StatusDone,
	StatusArchived,
}

var statusRank = map[Status]int{
	StatusBacklog:    0,
	StatusReady:      1,
	StatusInProgress: 2,
	StatusBlocked:    3,
	StatusReview:     4,
	StatusDone:       5,
	StatusArchived:   6,
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := statusRank[s]
	return s, ok
}

// StatusRank returns the fixed precedence of a status for sorting. A nil
// status ranks after every real status.
func StatusRank(s *Status) int {
	if s == nil {
		return len(statusRank)
	}
	rank, ok := statusRank[*s]
	if !ok {
		return len(statusRank)
	}
	return rank
}

// StatusKey returns the grouping key for a status, mapping nil to NoStatusKey.
func StatusKey(s *Status) string {
	if s == nil {
		return NoStatusKey
	}
	return string(*s)
}
