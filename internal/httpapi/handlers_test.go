package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/rulesets"
	"switchboard.dev/internal/stream"
)

const (
	resellerToken = "reseller-token"
	adminToken    = "admin-token"
)

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	switch token {
	case resellerToken:
		return auth.Principal{ID: 10, Login: "res", Role: permission.RoleReseller, ResellerID: 2, IsMaster: true}, nil
	case adminToken:
		return auth.Principal{ID: 1, Login: "administrator", Role: permission.RoleAdmin, IsMaster: true}, nil
	}
	return auth.Principal{}, auth.ErrInvalidToken
}

type stubLogin struct{}

func (stubLogin) Login(_ context.Context, login, password string) (string, time.Time, auth.Principal, error) {
	if login != "administrator" || password != "secret" {
		return "", time.Time{}, auth.Principal{}, auth.ErrInvalidCredentials
	}
	return adminToken, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), auth.Principal{ID: 1, Login: login, Role: permission.RoleAdmin}, nil
}

type recordingJournal struct {
	writes  []int64
	queries []journal.Query
}

func (j *recordingJournal) Write(_ context.Context, id int64, _ any) (bool, error) {
	j.writes = append(j.writes, id)
	return true, nil
}

func (j *recordingJournal) List(_ context.Context, q journal.Query, _ permission.Filter) ([]journal.Entry, int, error) {
	j.queries = append(j.queries, q)
	id := int64(0)
	if q.ResourceID != nil {
		id = *q.ResourceID
	}
	return []journal.Entry{{ID: 7, ResourceName: q.ResourceName, ResourceID: id, Operation: journal.OpCreate}}, 1, nil
}

type ruleSetStore struct {
	rows map[int64]rulesets.RuleSet
	next int64
}

func (s *ruleSetStore) ReadWhereInIDs(_ context.Context, ids []int64, f permission.Filter) ([]rulesets.RuleSet, error) {
	var out []rulesets.RuleSet
	for _, id := range ids {
		if r, ok := s.rows[id]; ok && f.Visible(r.ResellerID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ruleSetStore) ReadCountOfIDs(ctx context.Context, ids []int64, f permission.Filter) (int, error) {
	rows, _ := s.ReadWhereInIDs(ctx, ids, f)
	return len(rows), nil
}

func (s *ruleSetStore) Update(_ context.Context, r rulesets.RuleSet, _ patch.Changes, _ permission.Filter) error {
	s.rows[r.ID] = r
	return nil
}

func (s *ruleSetStore) Delete(_ context.Context, ids []int64, _ permission.Filter) error {
	for _, id := range ids {
		delete(s.rows, id)
	}
	return nil
}

func (s *ruleSetStore) Create(_ context.Context, rs []rulesets.RuleSet, _ permission.Filter) ([]int64, error) {
	ids := make([]int64, len(rs))
	for i, r := range rs {
		s.next++
		r.ID = s.next
		s.rows[r.ID] = r
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *ruleSetStore) Read(_ context.Context, id int64, f permission.Filter) (rulesets.RuleSet, error) {
	r, ok := s.rows[id]
	if !ok || !f.Visible(r.ResellerID) {
		return rulesets.RuleSet{}, apperr.NotFound(apperr.CodeEntryNotFound, apperr.EntryNotFound([]int64{id})...)
	}
	return r, nil
}

func (s *ruleSetStore) ReadAll(_ context.Context, page paging.Page, f permission.Filter) ([]rulesets.RuleSet, int, error) {
	var out []rulesets.RuleSet
	for _, r := range s.rows {
		if f.Visible(r.ResellerID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *ruleSetStore) ListByReseller(ctx context.Context, rid int64) ([]rulesets.RuleSet, error) {
	all, _, _ := s.ReadAll(ctx, paging.Page{}, permission.Filter{ResellerID: &rid})
	return all, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *ruleSetStore
	journal *recordingJournal
	hub     *stream.Stream
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	store := &ruleSetStore{rows: map[int64]rulesets.RuleSet{}}
	jr := &recordingJournal{}
	hub := stream.New()
	api := New(Options{
		Version:    "test",
		Prefix:     "/v1",
		Auth:       stubAuth{},
		Login:      stubLogin{},
		Journal:    jr,
		Stream:     hub,
		RateBurst:  100,
		RatePerSec: 100,
		Done:       done,
	})
	MountRuleSets(api, rulesets.New(store, jr, nil, nil))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		journal: jr,
		hub:     hub,
		t:       t,
	}
}

func (c *apiClient) do(method, path, token, body string) *http.Response {
	c.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		body, _ := io.ReadAll(r.Body)
		t.Fatalf("expected %d, got %d: %s", want, r.StatusCode, bytes.TrimSpace(body))
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", "", "")
	expectStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health body %v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}

	resp = c.do(http.MethodGet, "/readyz", "", "")
	expectStatus(t, resp, http.StatusOK)

	resp = c.do(http.MethodGet, "/v1/info", "", "")
	expectStatus(t, resp, http.StatusOK)
	if info := decode[map[string]any](t, resp); info["name"] != serviceName {
		t.Fatalf("unexpected info body %v", info)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/header-rule-sets", "", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	body := decode[errorResponse](t, resp)
	if body.Code != apperr.CodeUnauthorized || body.RequestID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}

	resp = c.do(http.MethodGet, "/v1/header-rule-sets", "forged", "")
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestTokenEndpoint(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/auth/token", "", `{"login":"administrator","password":"secret"}`)
	expectStatus(t, resp, http.StatusOK)
	tok := decode[tokenResponse](t, resp)
	if tok.Token != adminToken || tok.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token response %+v", tok)
	}

	resp = c.do(http.MethodPost, "/v1/auth/token", "", `{"login":"administrator","password":"wrong"}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	if body := decode[errorResponse](t, resp); body.Code != apperr.CodeInvalidCredentials {
		t.Fatalf("unexpected code %q", body.Code)
	}

	resp = c.do(http.MethodPost, "/v1/auth/token", "", `{"login":"administrator","pass":"secret"}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestRuleSetLifecycle(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/header-rule-sets", resellerToken, `{"name":"strip","description":"strip P-Asserted"}`)
	expectStatus(t, resp, http.StatusCreated)
	if loc := resp.Header.Get("Location"); loc != "/v1/header-rule-sets/1" {
		t.Fatalf("unexpected Location %q", loc)
	}
	created := decode[rulesets.RuleSet](t, resp)
	if created.ID != 1 || created.ResellerID == nil || *created.ResellerID != 2 {
		t.Fatalf("expected rule set tagged with the caller's reseller, got %+v", created)
	}

	resp = c.do(http.MethodPost, "/v1/header-rule-sets", resellerToken,
		`[{"name":"a","description":"x"},{"name":"b","description":"y"}]`)
	expectStatus(t, resp, http.StatusCreated)
	if many := decode[[]rulesets.RuleSet](t, resp); len(many) != 2 || many[1].ID != 3 {
		t.Fatalf("unexpected batch create %+v", many)
	}

	resp = c.do(http.MethodPatch, "/v1/header-rule-sets/1", resellerToken,
		`[{"op":"replace","path":"/description","value":"rewritten"}]`)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[rulesets.RuleSet](t, resp); got.Description != "rewritten" || got.Name != "strip" {
		t.Fatalf("unexpected patch result %+v", got)
	}

	resp = c.do(http.MethodPut, "/v1/header-rule-sets", resellerToken,
		`{"2":{"name":"a2","description":"x2"},"3":{"name":"b2","description":"y2"}}`)
	expectStatus(t, resp, http.StatusOK)
	if c.store.rows[2].Name != "a2" || c.store.rows[3].Name != "b2" {
		t.Fatalf("keyed replace not applied: %+v", c.store.rows)
	}

	resp = c.do(http.MethodGet, "/v1/header-rule-sets", resellerToken, "")
	expectStatus(t, resp, http.StatusOK)
	if list := decode[listResponse](t, resp); list.TotalCount != 3 {
		t.Fatalf("expected 3 rule sets, got %d", list.TotalCount)
	}

	resp = c.do(http.MethodGet, "/v1/resellers/2/header-rule-sets", resellerToken, "")
	expectStatus(t, resp, http.StatusOK)

	resp = c.do(http.MethodGet, "/v1/resellers/3/header-rule-sets", resellerToken, "")
	expectStatus(t, resp, http.StatusForbidden)

	resp = c.do(http.MethodDelete, "/v1/header-rule-sets/1", resellerToken, "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = c.do(http.MethodDelete, "/v1/header-rule-sets", resellerToken, `[2,3]`)
	expectStatus(t, resp, http.StatusOK)
	if deleted := decode[[]int64](t, resp); len(deleted) != 2 {
		t.Fatalf("unexpected deleted ids %v", deleted)
	}
	if len(c.store.rows) != 0 {
		t.Fatalf("expected empty store, got %+v", c.store.rows)
	}
	if len(c.journal.writes) != 9 {
		t.Fatalf("expected one journal entry per mutated row, got %v", c.journal.writes)
	}
}

func TestRequestErrors(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/v1/header-rule-sets", `{"name":`, http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"empty body", http.MethodPost, "/v1/header-rule-sets", "", http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"unknown member", http.MethodPost, "/v1/header-rule-sets", `{"name":"a","description":"b","color":1}`, http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"empty array", http.MethodPost, "/v1/header-rule-sets", `[]`, http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"invalid id", http.MethodGet, "/v1/header-rule-sets/abc", "", http.StatusBadRequest, apperr.CodeInvalidID},
		{"invalid keyed id", http.MethodPatch, "/v1/header-rule-sets", `{"x":[]}`, http.StatusBadRequest, apperr.CodeInvalidID},
		{"missing entity", http.MethodGet, "/v1/header-rule-sets/99", "", http.StatusNotFound, apperr.CodeEntryNotFound},
		{"unknown route", http.MethodGet, "/v1/nothing", "", http.StatusNotFound, apperr.CodeEntryNotFound},
		{"bad method", http.MethodPost, "/v1/header-rule-sets/1", `{}`, http.StatusMethodNotAllowed, apperr.CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := c.do(tc.method, tc.path, resellerToken, tc.body)
			expectStatus(t, resp, tc.status)
			body := decode[errorResponse](t, resp)
			if body.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, body)
			}
			if body.Error == "" || body.RequestID == "" {
				t.Fatalf("expected message and request id, got %+v", body)
			}
		})
	}
}

func TestValidationFailureIsUnprocessable(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/header-rule-sets", resellerToken, `{"name":"","description":"x"}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[errorResponse](t, resp)
	if body.Code != apperr.CodeInvalidField || len(body.Details) == 0 {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestErrorMessagesAreLocalized(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/header-rule-sets/42?lang=de", resellerToken, "")
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[errorResponse](t, resp); body.Error != "Eintrag nicht gefunden" {
		t.Fatalf("unexpected message %q", body.Error)
	}

	resp = c.do(http.MethodGet, "/v1/header-rule-sets/42?lang=fr", resellerToken, "")
	if body := decode[errorResponse](t, resp); body.Error != apperr.Message("en", apperr.CodeEntryNotFound) {
		t.Fatalf("expected english fallback, got %q", body.Error)
	}
}

func TestJournalRoutes(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/header-rule-sets", adminToken, `{"name":"a","description":"b","reseller_id":4}`)
	expectStatus(t, resp, http.StatusCreated)

	resp = c.do(http.MethodGet, "/v1/header-rule-sets/1/journal?page=1&rows=5", adminToken, "")
	expectStatus(t, resp, http.StatusOK)
	if list := decode[listResponse](t, resp); list.TotalCount != 1 {
		t.Fatalf("unexpected journal listing %+v", list)
	}
	q := c.journal.queries[0]
	if q.ResourceName != "header-rule-sets" || q.ResourceID == nil || *q.ResourceID != 1 {
		t.Fatalf("unexpected per-entity query %+v", q)
	}

	resp = c.do(http.MethodGet, "/v1/header-rule-sets/9/journal", adminToken, "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = c.do(http.MethodGet, "/v1/journals?resource_name=admins&resource_id=3", adminToken, "")
	expectStatus(t, resp, http.StatusOK)
	q = c.journal.queries[len(c.journal.queries)-1]
	if q.ResourceName != "admins" || q.ResourceID == nil || *q.ResourceID != 3 {
		t.Fatalf("unexpected journal query %+v", q)
	}

	resp = c.do(http.MethodGet, "/v1/journals?resource_id=x", adminToken, "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestJournalStream(t *testing.T) {
	c := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/journals/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+resellerToken)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	if line, err := rd.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble %q (%v)", line, err)
	}

	deadline := time.Now().Add(time.Second)
	for c.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	other, own := int64(3), int64(2)
	_ = c.hub.Publish(ctx, "contacts:4", journal.Entry{ID: 4, ResellerID: &other, ResourceName: "contacts"})
	_ = c.hub.Publish(ctx, "contacts:5", journal.Entry{ID: 5, ResellerID: &own, ResourceName: "contacts"})

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e journal.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if e.ID != 5 {
			t.Fatalf("expected only the caller's reseller entry, got %+v", e)
		}
		return
	}
}
