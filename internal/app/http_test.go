package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"timelines/api/internal/store"
)

func doRequest(t *testing.T, env testEnv, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	NewHTTPServer(env.service, "*").Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return payload
}

func issueTestToken(t *testing.T, env testEnv, user store.User) string {
	t.Helper()
	session, err := env.service.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(&fakeStore{})
	rr := doRequest(t, env, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyEndpointDegrades(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	env := newTestEnv(fs)
	rr := doRequest(t, env, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(&fakeStore{})
	rr := doRequest(t, env, http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListTimelinesRequiresBearer(t *testing.T) {
	env := newTestEnv(&fakeStore{})
	rr := doRequest(t, env, http.MethodGet, "/api/timelines", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "AUTH_REQUIRED" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestListTimelinesWithToken(t *testing.T) {
	fs := &fakeStore{
		listByOwnerFn: func(_ context.Context, ownerID string) ([]store.Timeline, error) {
			if ownerID != "usr_owner" {
				return nil, errors.New("unexpected owner " + ownerID)
			}
			return []store.Timeline{storedTimeline()}, nil
		},
	}
	env := newTestEnv(fs)
	token := issueTestToken(t, env, store.User{ID: "usr_owner", Email: "owner@example.com"})

	rr := doRequest(t, env, http.MethodGet, "/api/timelines", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	timelines, ok := payload["timelines"].([]any)
	if !ok || len(timelines) != 1 {
		t.Fatalf("expected one timeline, got %v", payload)
	}
}

func TestGarbageTokenTreatedAsAnonymous(t *testing.T) {
	public := storedTimeline()
	public.IsPublic = true
	fs := &fakeStore{
		getTimelineFn: func(context.Context, string) (store.Timeline, error) {
			return public, nil
		},
	}
	env := newTestEnv(fs)

	rr := doRequest(t, env, http.MethodGet, "/api/timelines/tl_1", "not.a.token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("public read with a bad token should fall back to anonymous, got %d", rr.Code)
	}
}

func TestLoadPrivateTimelineStatusCodes(t *testing.T) {
	fs := &fakeStore{
		getTimelineFn: func(context.Context, string) (store.Timeline, error) {
			return storedTimeline(), nil
		},
	}
	env := newTestEnv(fs)

	rr := doRequest(t, env, http.MethodGet, "/api/timelines/tl_1", "", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for private timeline, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "PRIVATE_TIMELINE" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestCreateTimelineEndToEnd(t *testing.T) {
	var inserted store.Timeline
	fs := &fakeStore{
		insertTimelineFn: func(_ context.Context, tl store.Timeline, _ int) (bool, error) {
			inserted = tl
			return true, nil
		},
	}
	env := newTestEnv(fs)
	token := issueTestToken(t, env, store.User{ID: "usr_owner", Email: "owner@example.com", DisplayName: "Owner"})

	body := `{"title":"Voyages","events":[{"title":"Departure https://log.example.com"}]}`
	rr := doRequest(t, env, http.MethodPost, "/api/timelines", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if inserted.Title != "Voyages" || inserted.OwnerID != "usr_owner" {
		t.Fatalf("unexpected insert: %+v", inserted)
	}
	if !strings.Contains(inserted.Events[0].Title, "<a href=") {
		t.Fatalf("title not linkified on the way in: %q", inserted.Events[0].Title)
	}
}

func TestQuotaErrorStatusCode(t *testing.T) {
	fs := &fakeStore{
		insertTimelineFn: func(context.Context, store.Timeline, int) (bool, error) {
			return false, nil
		},
	}
	env := newTestEnv(fs)
	token := issueTestToken(t, env, store.User{ID: "usr_owner", Email: "owner@example.com"})

	rr := doRequest(t, env, http.MethodPost, "/api/timelines", token, `{"title":"one too many"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "QUOTA_EXCEEDED" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestCollaboratorRoutes(t *testing.T) {
	var savedRoles map[string]string
	fs := &fakeStore{
		getTimelineFn: func(context.Context, string) (store.Timeline, error) {
			return storedTimeline(), nil
		},
		updateCollaboratorsFn: func(_ context.Context, _ string, roles map[string]string) error {
			savedRoles = roles
			return nil
		},
	}
	env := newTestEnv(fs)
	token := issueTestToken(t, env, store.User{ID: "usr_owner", Email: "owner@example.com"})

	rr := doRequest(t, env, http.MethodPost, "/api/timelines/tl_1/collaborators", token,
		`{"email":"new@example.com","role":"editor"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if savedRoles["new@example.com"] != "editor" {
		t.Fatalf("role not saved: %v", savedRoles)
	}

	rr = doRequest(t, env, http.MethodPut, "/api/timelines/tl_1/collaborators/viewer@example.com", token,
		`{"role":"editor"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update role: expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, env, http.MethodDelete, "/api/timelines/tl_1/collaborators/viewer@example.com", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", rr.Code)
	}
}

func TestPrivacyRoute(t *testing.T) {
	var flipped *bool
	fs := &fakeStore{
		getTimelineFn: func(context.Context, string) (store.Timeline, error) {
			return storedTimeline(), nil
		},
		updatePrivacyFn: func(_ context.Context, _ string, isPublic bool) error {
			flipped = &isPublic
			return nil
		},
	}
	env := newTestEnv(fs)
	token := issueTestToken(t, env, store.User{ID: "usr_owner", Email: "owner@example.com"})

	rr := doRequest(t, env, http.MethodPut, "/api/timelines/tl_1/privacy", token, `{"isPublic":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if flipped == nil || !*flipped {
		t.Fatal("privacy flag not written")
	}
}

func TestSearchRouteAnonymous(t *testing.T) {
	env := newTestEnv(&fakeStore{})
	rr := doRequest(t, env, http.MethodGet, "/api/timelines/search?q=tea", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["query"] != "tea" {
		t.Fatalf("query not echoed: %v", payload)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	NewHTTPServer(env.service, "*").Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("request id not echoed, got %q", got)
	}
}
