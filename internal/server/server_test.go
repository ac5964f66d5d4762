package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("taskdesk")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitCompany(context.Background(), cfg.Company.ID, "Taskdesk", "tester"); err != nil {
		t.Fatalf("init company: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// addMember gives a user the member role and an active membership so they can
// act through the API.
func addMember(t *testing.T, srv *testServer, userID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := srv.Engine.UpsertMembership(ctx, "taskdesk", nil, userID, true); err != nil {
		t.Fatalf("membership %s: %v", userID, err)
	}
	if err := srv.Engine.GrantRole(ctx, "taskdesk", "tester", userID, "member"); err != nil {
		t.Fatalf("grant role %s: %v", userID, err)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	createRes, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "Ship feature",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != "todo" {
		t.Fatalf("new task should be todo, got %s", created.Status)
	}
	taskID := created.ID

	statusRes, statusBody := doJSON(t, client, http.MethodPatch, base+"/tasks/"+taskID+"/status", map[string]any{
		"status": "in_progress",
	}, nil)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status change %d: %s", statusRes.StatusCode, string(statusBody))
	}

	histRes, histBody := doJSON(t, client, http.MethodGet, base+"/tasks/"+taskID+"/history", nil, nil)
	if histRes.StatusCode != http.StatusOK {
		t.Fatalf("history %d: %s", histRes.StatusCode, string(histBody))
	}
	var hist []domain.TaskHistory
	if err := json.Unmarshal(histBody, &hist); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(hist) < 2 {
		t.Fatalf("expected created+status rows, got %d", len(hist))
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, base+"/tasks/"+taskID, nil, nil)
	if delRes.StatusCode != http.StatusNoContent && delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete %d: %s", delRes.StatusCode, string(delBody))
	}
	getRes, _ := doJSON(t, client, http.MethodGet, base+"/tasks/"+taskID, nil, nil)
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getRes.StatusCode)
	}
}

func TestClaimConflictOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addMember(t, srv, "alice")
	addMember(t, srv, "bob")
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title":     "Claim me",
		"type":      "company",
		"is_public": true,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	claim1, body1 := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/claim", nil, map[string]string{"X-User-Id": "alice"})
	if claim1.StatusCode != http.StatusOK {
		t.Fatalf("first claim: %d %s", claim1.StatusCode, string(body1))
	}
	claim2, body2 := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/claim", nil, map[string]string{"X-User-Id": "bob"})
	if claim2.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", claim2.StatusCode, string(body2))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body2, &envelope)
	if envelope.Error.Code != "conflict" {
		t.Fatalf("expected conflict code, got %q in %s", envelope.Error.Code, string(body2))
	}
}

func TestTimerConflictOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "Timed work",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	start1, body1 := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/timer/start", map[string]any{}, nil)
	if start1.StatusCode != http.StatusOK {
		t.Fatalf("first start: %d %s", start1.StatusCode, string(body1))
	}
	start2, body2 := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/timer/start", map[string]any{}, nil)
	if start2.StatusCode != http.StatusConflict {
		t.Fatalf("expected timer conflict, got %d %s", start2.StatusCode, string(body2))
	}

	stop, stopBody := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/timer/stop", map[string]any{}, nil)
	if stop.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d %s", stop.StatusCode, string(stopBody))
	}
	stopAgain, stopAgainBody := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/timer/stop", map[string]any{}, nil)
	if stopAgain.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 stopping an idle timer, got %d %s", stopAgain.StatusCode, string(stopAgainBody))
	}
}

func TestTransferFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addMember(t, srv, "bob")
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "Handoff",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	trRes, trBody := doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/transfers", map[string]any{
		"to_user_id":    "bob",
		"transfer_type": "transfer",
		"reason":        "rotation",
	}, nil)
	if trRes.StatusCode != http.StatusCreated {
		t.Fatalf("create transfer: %d %s", trRes.StatusCode, string(trBody))
	}
	var tr domain.TaskTransfer
	_ = json.Unmarshal(trBody, &tr)

	pendRes, pendBody := doJSON(t, client, http.MethodGet, base+"/transfers/pending", nil, map[string]string{"X-User-Id": "bob"})
	if pendRes.StatusCode != http.StatusOK {
		t.Fatalf("pending: %d %s", pendRes.StatusCode, string(pendBody))
	}
	var pending []domain.TaskTransfer
	_ = json.Unmarshal(pendBody, &pending)
	if len(pending) != 1 {
		t.Fatalf("expected one pending transfer, got %d", len(pending))
	}

	// rejecting without a reason is a validation error
	badRes, badBody := doJSON(t, client, http.MethodPost, base+"/transfers/"+tr.ID+"/respond", map[string]any{
		"accept": false,
	}, map[string]string{"X-User-Id": "bob"})
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for reject without reason, got %d %s", badRes.StatusCode, string(badBody))
	}

	okRes, okBody := doJSON(t, client, http.MethodPost, base+"/transfers/"+tr.ID+"/respond", map[string]any{
		"accept": true,
	}, map[string]string{"X-User-Id": "bob"})
	if okRes.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", okRes.StatusCode, string(okBody))
	}

	// terminal: a second response is rejected
	againRes, againBody := doJSON(t, client, http.MethodPost, base+"/transfers/"+tr.ID+"/respond", map[string]any{
		"accept":          false,
		"response_reason": "changed my mind",
	}, map[string]string{"X-User-Id": "bob"})
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for resolved transfer, got %d %s", againRes.StatusCode, string(againBody))
	}
}

func TestPermissionDeniedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	res, body := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "nope",
	}, map[string]string{"X-User-Id": "stranger"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q in %s", envelope.Error.Code, string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/companies/taskdesk/tasks", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	plain := "tdk_test_key"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		UserID:  "tester",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(plain),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/companies/taskdesk/tasks", nil)
	req.Header.Set("X-Api-Key", plain)
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("list with api key: %d %s", res.StatusCode, string(body))
	}

	badReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/companies/taskdesk/tasks", nil)
	badReq.Header.Set("X-Api-Key", "tdk_wrong")
	badRes, err := client.Do(badReq)
	if err != nil {
		t.Fatal(err)
	}
	defer badRes.Body.Close()
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", badRes.StatusCode)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login", bytes.NewReader([]byte(`{"user_id":"tester","permissions":["task.create","task.read","task.list"]}`)))
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("no token in %s", string(data))
	}

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/companies/taskdesk/tasks", nil)
	listReq.Header.Set("Authorization", "Bearer "+login.Token)
	listRes, err := client.Do(listReq)
	if err != nil {
		t.Fatal(err)
	}
	defer listRes.Body.Close()
	if listRes.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(listRes.Body)
		t.Fatalf("list with token: %d %s", listRes.StatusCode, string(body))
	}
}

func TestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/companies/taskdesk"

	for i := 0; i < 5; i++ {
		res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
			"title": "task",
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, base+"/tasks?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page struct {
		Items      []domain.Task `json:"items"`
		NextCursor string        `json:"next_cursor"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatalf("expected next cursor")
	}

	res2, data2 := doJSON(t, client, http.MethodGet, base+"/tasks?limit=10&cursor="+page.NextCursor, nil, nil)
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res2.StatusCode, string(data2))
	}
	var page2 struct {
		Items []domain.Task `json:"items"`
	}
	_ = json.Unmarshal(data2, &page2)
	if len(page2.Items) != 3 {
		t.Fatalf("expected remaining 3 items, got %d", len(page2.Items))
	}
}
