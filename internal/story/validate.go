package story

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	minPriority       = 1
	maxPriority       = 5
	defaultPriority   = 3
)

// ValidationError carries per-field messages for a rejected payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid story payload: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// Create is a validated story-creation payload with defaults applied.
type Create struct {
	Title       string
	Description *string
	Status      *Status
	Priority    int
	ParentID    *string
	DueDate     *time.Time
	StartDate   *time.Time
}

// ParseCreate validates a raw creation body. Status defaults to BACKLOG when
// the key is absent; an explicit null leaves the story without a status.
// Priority defaults to 3.
func ParseCreate(raw []byte) (Create, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Create{}, err
	}

	errs := fieldErrors{}
	out := Create{Priority: defaultPriority}

	title, ok := fields["title"]
	if !ok || isNull(title) {
		errs["title"] = "title is required"
	} else if s, err := decodeString(title); err != nil {
		errs["title"] = "title must be a string"
	} else if len(s) < 1 || len(s) > maxTitleLen {
		errs["title"] = fmt.Sprintf("title must be 1-%d characters", maxTitleLen)
	} else {
		out.Title = s
	}

	if raw, ok := fields["description"]; ok && !isNull(raw) {
		if s, err := decodeString(raw); err != nil {
			errs["description"] = "description must be a string"
		} else if len(s) > maxDescriptionLen {
			errs["description"] = fmt.Sprintf("description must be at most %d characters", maxDescriptionLen)
		} else {
			out.Description = &s
		}
	}

	if raw, ok := fields["status"]; !ok {
		status := StatusBacklog
		out.Status = &status
	} else if !isNull(raw) {
		if status, err := decodeStatus(raw); err != nil {
			errs["status"] = err.Error()
		} else {
			out.Status = status
		}
	}

	if raw, ok := fields["priority"]; ok && !isNull(raw) {
		if p, err := decodeInt(raw); err != nil {
			errs["priority"] = "priority must be an integer"
		} else if p < minPriority || p > maxPriority {
			errs["priority"] = fmt.Sprintf("priority must be between %d and %d", minPriority, maxPriority)
		} else {
			out.Priority = p
		}
	}

	if raw, ok := fields["parentId"]; ok && !isNull(raw) {
		if s, err := decodeString(raw); err != nil || s == "" {
			errs["parentId"] = "parentId must be a story id or null"
		} else {
			out.ParentID = &s
		}
	}

	out.DueDate = parseOptionalDate(fields, "dueDate", errs)
	out.StartDate = parseOptionalDate(fields, "startDate", errs)

	return out, errs.err()
}

// Patch is a validated partial update. For nullable fields a true *Set flag
// with a nil value means "clear to null"; an unset flag leaves the field
// untouched.
type Patch struct {
	Title *string

	Description    *string
	DescriptionSet bool

	Status    *Status
	StatusSet bool

	Priority *int

	ParentID    *string
	ParentIDSet bool

	DueDate    *time.Time
	DueDateSet bool

	StartDate    *time.Time
	StartDateSet bool

	Effort    *int
	EffortSet bool

	Position *int

	// Assignees, when set, replaces the full assignee link set.
	Assignees    []string
	AssigneesSet bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && !p.DescriptionSet && !p.StatusSet && p.Priority == nil &&
		!p.ParentIDSet && !p.DueDateSet && !p.StartDateSet && !p.EffortSet &&
		p.Position == nil && !p.AssigneesSet
}

// ParsePatch validates a raw partial-update body. Absent keys stay untouched;
// explicit nulls clear nullable fields.
func ParsePatch(raw []byte) (Patch, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Patch{}, err
	}

	errs := fieldErrors{}
	out := Patch{}

	if raw, ok := fields["title"]; ok {
		if isNull(raw) {
			errs["title"] = "title cannot be null"
		} else if s, err := decodeString(raw); err != nil {
			errs["title"] = "title must be a string"
		} else if len(s) < 1 || len(s) > maxTitleLen {
			errs["title"] = fmt.Sprintf("title must be 1-%d characters", maxTitleLen)
		} else {
			out.Title = &s
		}
	}

	if raw, ok := fields["description"]; ok {
		out.DescriptionSet = true
		if !isNull(raw) {
			if s, err := decodeString(raw); err != nil {
				errs["description"] = "description must be a string"
			} else if len(s) > maxDescriptionLen {
				errs["description"] = fmt.Sprintf("description must be at most %d characters", maxDescriptionLen)
			} else {
				out.Description = &s
			}
		}
	}

	if raw, ok := fields["status"]; ok {
		out.StatusSet = true
		if !isNull(raw) {
			if status, err := decodeStatus(raw); err != nil {
				errs["status"] = err.Error()
			} else {
				out.Status = status
			}
		}
	}

	if raw, ok := fields["priority"]; ok && !isNull(raw) {
		if p, err := decodeInt(raw); err != nil {
			errs["priority"] = "priority must be an integer"
		} else if p < minPriority || p > maxPriority {
			errs["priority"] = fmt.Sprintf("priority must be between %d and %d", minPriority, maxPriority)
		} else {
			out.Priority = &p
		}
	}

	if raw, ok := fields["parentId"]; ok {
		out.ParentIDSet = true
		if !isNull(raw) {
			if s, err := decodeString(raw); err != nil || s == "" {
				errs["parentId"] = "parentId must be a story id or null"
			} else {
				out.ParentID = &s
			}
		}
	}

	if raw, ok := fields["dueDate"]; ok {
		out.DueDateSet = true
		if !isNull(raw) {
			if t, err := decodeTime(raw); err != nil {
				errs["dueDate"] = "dueDate must be an RFC 3339 timestamp or null"
			} else {
				out.DueDate = &t
			}
		}
	}

	if raw, ok := fields["startDate"]; ok {
		out.StartDateSet = true
		if !isNull(raw) {
			if t, err := decodeTime(raw); err != nil {
				errs["startDate"] = "startDate must be an RFC 3339 timestamp or null"
			} else {
				out.StartDate = &t
			}
		}
	}

	if raw, ok := fields["effort"]; ok {
		out.EffortSet = true
		if !isNull(raw) {
			if e, err := decodeInt(raw); err != nil {
				errs["effort"] = "effort must be an integer or null"
			} else if e < 0 {
				errs["effort"] = "effort cannot be negative"
			} else {
				out.Effort = &e
			}
		}
	}

	if raw, ok := fields["position"]; ok {
		if isNull(raw) {
			errs["position"] = "position cannot be null"
		} else if p, err := decodeInt(raw); err != nil {
			errs["position"] = "position must be an integer"
		} else {
			out.Position = &p
		}
	}

	if raw, ok := fields["assignees"]; ok {
		out.AssigneesSet = true
		if !isNull(raw) {
			ids, err := decodeAssigneeIDs(raw)
			if err != nil {
				errs["assignees"] = err.Error()
			} else {
				out.Assignees = ids
			}
		} else {
			out.Assignees = []string{}
		}
	}

	return out, errs.err()
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "body must be a JSON object"}}
	}
	return fields, nil
}

func parseOptionalDate(fields map[string]json.RawMessage, key string, errs fieldErrors) *time.Time {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	t, err := decodeTime(raw)
	if err != nil {
		errs[key] = key + " must be an RFC 3339 timestamp or null"
		return nil
	}
	return &t
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

func decodeInt(raw json.RawMessage) (int, error) {
	var n int
	err := json.Unmarshal(raw, &n)
	return n, err
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	s, err := decodeString(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func decodeStatus(raw json.RawMessage) (*Status, error) {
	s, err := decodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("status must be a string or null")
	}
	status, ok := ParseStatus(s)
	if !ok {
		return nil, fmt.Errorf("status must be one of %v", Statuses)
	}
	return &status, nil
}

// decodeAssigneeIDs accepts either a list of user ids or a list of objects
// with an id field, which is what the views send.
func decodeAssigneeIDs(raw json.RawMessage) ([]string, error) {
	var objs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil {
		ids := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.ID == "" {
				return nil, fmt.Errorf("assignees entries must carry an id")
			}
			ids = append(ids, o.ID)
		}
		return ids, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("assignees must be a list of users")
	}
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("assignees entries must carry an id")
		}
	}
	return ids, nil
}
