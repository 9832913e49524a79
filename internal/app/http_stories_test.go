package app

import (
	"net/http"
	"testing"
)

func storyFromResponse(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	s, ok := payload["story"].(map[string]any)
	if !ok {
		t.Fatalf("expected story object, got %v", payload)
	}
	return s
}

func TestCreateStoryAppliesDefaults(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"Write release notes"}`, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	s := storyFromResponse(t, parseBody(t, rr))
	if s["status"] != "BACKLOG" {
		t.Errorf("expected default status BACKLOG, got %v", s["status"])
	}
	if s["priority"] != float64(3) {
		t.Errorf("expected default priority 3, got %v", s["priority"])
	}
	if s["position"] != float64(1) {
		t.Errorf("expected first position 1, got %v", s["position"])
	}
	if s["description"] != nil {
		t.Errorf("expected null description, got %v", s["description"])
	}
	if children, ok := s["children"].([]any); !ok || len(children) != 0 {
		t.Errorf("expected empty children list, got %v", s["children"])
	}
	if assignees, ok := s["assignees"].([]any); !ok || len(assignees) != 0 {
		t.Errorf("expected empty assignees list, got %v", s["assignees"])
	}
}

func TestCreateStoryExplicitNullStatus(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"Unsorted","status":null}`, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if s := storyFromResponse(t, parseBody(t, rr)); s["status"] != nil {
		t.Errorf("expected null status, got %v", s["status"])
	}
}

func TestCreateStoryValidation(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{}`},
		{"empty title", `{"title":""}`},
		{"priority too high", `{"title":"x","priority":6}`},
		{"priority too low", `{"title":"x","priority":0}`},
		{"bad status", `{"title":"x","status":"SHIPPED"}`},
		{"bad due date", `{"title":"x","dueDate":"tomorrow"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, server, http.MethodPost, "/api/stories", tc.body, token)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
			}
			if parseBody(t, rr)["code"] != "VALIDATION_ERROR" {
				t.Fatalf("expected code VALIDATION_ERROR, got %s", rr.Body.String())
			}
		})
	}
}

func TestCreateStoryPositionPerStatusScope(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	for i := 0; i < 2; i++ {
		rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"backlog item","status":"BACKLOG"}`, token)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create: got %d", rr.Code)
		}
	}
	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"third backlog","status":"BACKLOG"}`, token)
	if got := storyFromResponse(t, parseBody(t, rr))["position"]; got != float64(3) {
		t.Errorf("expected position 3 in BACKLOG scope, got %v", got)
	}

	// A different status starts its own sequence.
	rr = doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"first ready","status":"READY"}`, token)
	if got := storyFromResponse(t, parseBody(t, rr))["position"]; got != float64(1) {
		t.Errorf("expected position 1 in READY scope, got %v", got)
	}
}

func TestCreateChildStoryStartsAtPositionZero(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"parent"}`, token)
	parentID, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	rr = doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"child","parentId":"`+parentID+`"}`, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create child: got %d body=%s", rr.Code, rr.Body.String())
	}
	s := storyFromResponse(t, parseBody(t, rr))
	if s["position"] != float64(0) {
		t.Errorf("expected child position 0, got %v", s["position"])
	}
	if s["parentId"] != parentID {
		t.Errorf("expected parentId %s, got %v", parentID, s["parentId"])
	}
}

func TestCreateStoryUnknownParentRejected(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"orphan","parentId":"sty_missing"}`, token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListStoriesReturnsNestedTree(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"parent"}`, token)
	parentID, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)
	doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"child","parentId":"`+parentID+`"}`, token)

	rr = doJSON(t, server, http.MethodGet, "/api/stories", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	stories, ok := parseBody(t, rr)["stories"].([]any)
	if !ok || len(stories) != 1 {
		t.Fatalf("expected one root story, got %v", stories)
	}
	root := stories[0].(map[string]any)
	children, _ := root["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("expected one child, got %v", root["children"])
	}
	if children[0].(map[string]any)["title"] != "child" {
		t.Errorf("unexpected child payload: %v", children[0])
	}
}

func TestListStoriesScopedToOwner(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	averyToken := registerAndLogin(t, server, "avery@example.com")
	blakeToken := registerAndLogin(t, server, "blake@example.com")

	doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"avery's story"}`, averyToken)

	rr := doJSON(t, server, http.MethodGet, "/api/stories", "", blakeToken)
	stories, _ := parseBody(t, rr)["stories"].([]any)
	if len(stories) != 0 {
		t.Fatalf("expected no stories for other user, got %v", stories)
	}
}

func TestPatchStoryPartialUpdateAndNullClears(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories",
		`{"title":"story","description":"details","status":"READY","dueDate":"2026-09-01T00:00:00Z"}`, token)
	id, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	// Absent keys stay untouched; null clears.
	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id, `{"dueDate":null,"priority":5}`, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	s := storyFromResponse(t, parseBody(t, rr))
	if s["dueDate"] != nil {
		t.Errorf("expected dueDate cleared, got %v", s["dueDate"])
	}
	if s["priority"] != float64(5) {
		t.Errorf("expected priority 5, got %v", s["priority"])
	}
	if s["description"] != "details" {
		t.Errorf("expected description untouched, got %v", s["description"])
	}
	if s["status"] != "READY" {
		t.Errorf("expected status untouched, got %v", s["status"])
	}
}

func TestPatchStoryStatusNullMovesToNoStatus(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"story","status":"DONE"}`, token)
	id, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id, `{"status":null}`, token)
	if s := storyFromResponse(t, parseBody(t, rr)); s["status"] != nil {
		t.Errorf("expected status cleared, got %v", s["status"])
	}
}

func TestPatchStoryReplacesAssignees(t *testing.T) {
	fs := newFakeStore()
	server := NewHTTPServer(newTestService(fs), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")
	registerAndLogin(t, server, "blake@example.com")

	var averyID, blakeID string
	for id, u := range fs.users {
		switch u.Email {
		case "avery@example.com":
			averyID = id
		case "blake@example.com":
			blakeID = id
		}
	}

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"story"}`, token)
	id, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id,
		`{"assignees":[{"id":"`+averyID+`"},{"id":"`+blakeID+`"}]}`, token)
	s := storyFromResponse(t, parseBody(t, rr))
	if assignees, _ := s["assignees"].([]any); len(assignees) != 2 {
		t.Fatalf("expected 2 assignees, got %v", s["assignees"])
	}

	// Replacement, not accumulation.
	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id, `{"assignees":[{"id":"`+blakeID+`"}]}`, token)
	s = storyFromResponse(t, parseBody(t, rr))
	assignees, _ := s["assignees"].([]any)
	if len(assignees) != 1 {
		t.Fatalf("expected 1 assignee after replace, got %v", s["assignees"])
	}
	if assignees[0].(map[string]any)["id"] != blakeID {
		t.Errorf("expected remaining assignee %s, got %v", blakeID, assignees[0])
	}

	// Empty list clears.
	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id, `{"assignees":[]}`, token)
	s = storyFromResponse(t, parseBody(t, rr))
	if assignees, _ := s["assignees"].([]any); len(assignees) != 0 {
		t.Fatalf("expected no assignees, got %v", s["assignees"])
	}
}

func TestPatchStoryNotFoundAndForeignOwner(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	averyToken := registerAndLogin(t, server, "avery@example.com")
	blakeToken := registerAndLogin(t, server, "blake@example.com")

	rr := doJSON(t, server, http.MethodPatch, "/api/stories/sty_missing", `{"title":"x"}`, averyToken)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing story, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"avery's"}`, averyToken)
	id, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	// Another user's story looks like a missing one.
	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+id, `{"title":"stolen"}`, blakeToken)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign story, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPatchStoryRejectsCyclicReparent(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"parent"}`, token)
	parentID, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)
	rr = doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"child","parentId":"`+parentID+`"}`, token)
	childID, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)

	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+parentID, `{"parentId":"`+childID+`"}`, token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 moving under own descendant, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPatch, "/api/stories/"+parentID, `{"parentId":"`+parentID+`"}`, token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 self-parenting, got %d", rr.Code)
	}
}

func TestDeleteStoryCascades(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"parent"}`, token)
	parentID, _ := storyFromResponse(t, parseBody(t, rr))["id"].(string)
	doJSON(t, server, http.MethodPost, "/api/stories", `{"title":"child","parentId":"`+parentID+`"}`, token)

	rr = doJSON(t, server, http.MethodDelete, "/api/stories/"+parentID, "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/stories", "", token)
	if stories, _ := parseBody(t, rr)["stories"].([]any); len(stories) != 0 {
		t.Fatalf("expected empty board after cascade delete, got %v", stories)
	}
}

func TestDeleteStoryNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodDelete, "/api/stories/sty_missing", "", token)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSettingsRoundTripAndValidation(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")

	rr := doJSON(t, server, http.MethodGet, "/api/settings", "", token)
	settings, _ := parseBody(t, rr)["settings"].(map[string]any)
	if settings["groupBy"] != "priority" || settings["weekStart"] != float64(1) {
		t.Fatalf("unexpected default settings: %v", settings)
	}

	rr = doJSON(t, server, http.MethodPut, "/api/settings", `{"groupBy":"status","sortBy":"effort","weekStart":0}`, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("put settings: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/settings", "", token)
	settings, _ = parseBody(t, rr)["settings"].(map[string]any)
	if settings["groupBy"] != "status" || settings["sortBy"] != "effort" || settings["weekStart"] != float64(0) {
		t.Fatalf("settings did not persist: %v", settings)
	}

	rr = doJSON(t, server, http.MethodPut, "/api/settings", `{"groupBy":"color","sortBy":"priority","weekStart":1}`, token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad groupBy, got %d", rr.Code)
	}
}

func TestListUsersReturnsDirectory(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil)
	token := registerAndLogin(t, server, "avery@example.com")
	registerAndLogin(t, server, "blake@example.com")

	rr := doJSON(t, server, http.MethodGet, "/api/users", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	users, _ := parseBody(t, rr)["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %v", users)
	}
	if _, hasHash := users[0].(map[string]any)["passwordHash"]; hasHash {
		t.Fatalf("password hash must not be exposed")
	}
}
