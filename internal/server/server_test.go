package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/derive"
	"complyline/internal/docusign"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/repo"
	"complyline/internal/schema"
)

const testJWTSecret = "test-secret"

type stubEnvelopes struct{}

func (stubEnvelopes) ListEnvelopes(ctx context.Context, token string, from time.Time) ([]docusign.Envelope, error) {
	return []docusign.Envelope{
		{EnvelopeID: "env-import", Status: "completed", EmailSubject: "Grant agreement",
			CompletedAt: "2024-05-01T00:00:00Z", SenderEmail: "dana@donor.org"},
	}, nil
}

func (stubEnvelopes) DownloadCombined(ctx context.Context, token, envelopeID string) ([]byte, error) {
	return []byte("%PDF-1.7 agreement"), nil
}

func (stubEnvelopes) SendEnvelope(ctx context.Context, token string, req docusign.SendRequest) (string, error) {
	return "sent-1", nil
}

type stubDeriver struct{}

func (stubDeriver) Derive(ctx context.Context, text string) (*derive.Result, error) {
	return &derive.Result{
		Fields: []schema.Field{
			{Name: "summary", Label: "Progress summary", Kind: schema.KindTextarea, Required: true},
		},
		Summary:      "Grant for water projects.",
		FundingCents: 100000,
	}, nil
}

type stubRenderer struct{}

func (stubRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	return []byte("%PDF-1.7 report"), nil
}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC) }
	e.Envelopes = stubEnvelopes{}
	e.Extract = func(doc []byte) (string, error) { return "AGREEMENT TEXT", nil }
	e.Deriver = stubDeriver{}
	e.Renderer = stubRenderer{}

	ctx := context.Background()
	now := "2024-06-11T09:00:00Z"
	if err := e.Repo.UpsertUser(ctx, domain.User{
		DocusignID: "user-1", Email: "officer@ngo.org", Name: "Officer",
		AccessToken: "at-1", RefreshToken: "rt-1", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.Repo.UpsertAccount(ctx, domain.Account{
		ID: "acc-1", Name: "Clean Water Trust", IncludeInLeaderboard: true, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.Repo.LinkUserAccount(ctx, "user-1", "acc-1"); err != nil {
		t.Fatal(err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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
	return testSrv, func() { testSrv.close() }
}

func sessionHeader(t *testing.T) map[string]string {
	t.Helper()
	token, err := issueSessionToken(testJWTSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code %q", envelope.Error.Code)
	}
}

func TestImportSweepSubmitDispatchOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := sessionHeader(t)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agreements/import", map[string]any{
		"account_id":     "acc-1",
		"frequency_days": 7,
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, data)
	}
	var imported engine.ImportResult
	json.Unmarshal(data, &imported)
	if imported.Imported != 1 {
		t.Fatalf("imported %d", imported.Imported)
	}

	// force the agreement due today so the sweep picks it up
	if err := srv.Engine.Repo.UpdateAgreement(context.Background(), "env-import", "2024-06-11T00:00:00Z", nil, nil); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/sweep", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, data)
	}
	var sweep engine.SweepResult
	json.Unmarshal(data, &sweep)
	if sweep.Created != 1 {
		t.Fatalf("sweep created %d: %s", sweep.Created, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms?envelope_id=env-import", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list forms status %d: %s", res.StatusCode, data)
	}
	var forms []FormResponse
	json.Unmarshal(data, &forms)
	if len(forms) != 1 {
		t.Fatalf("got %d forms", len(forms))
	}

	submitURL := srv.URL + "/v0/forms/" + itoa(forms[0].ID) + "/answers"
	res, data = doJSON(t, client, http.MethodPost, submitURL, map[string]any{
		"answers": map[string]any{"summary": "Wells completed on schedule."},
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, data)
	}
	var filled FormResponse
	json.Unmarshal(data, &filled)
	if filled.FilledAt == nil {
		t.Fatalf("form not filled: %s", data)
	}

	// second submit must conflict
	res, data = doJSON(t, client, http.MethodPost, submitURL, map[string]any{
		"answers": map[string]any{"summary": "Trying again."},
	}, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("refill status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/dispatch", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, data)
	}
	var dispatch engine.DispatchResult
	json.Unmarshal(data, &dispatch)
	if dispatch.Sent != 1 {
		t.Fatalf("dispatched %d: %s", dispatch.Sent, data)
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := sessionHeader(t)

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/agreements/import", map[string]any{
		"account_id": "acc-1", "frequency_days": 7,
	}, auth)
	srv.Engine.Repo.UpdateAgreement(context.Background(), "env-import", "2024-06-11T00:00:00Z", nil, nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/sweep", nil, auth)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms", nil, auth)
	var forms []FormResponse
	json.Unmarshal(data, &forms)
	if len(forms) != 1 {
		t.Fatalf("got %d forms: %s", len(forms), data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+itoa(forms[0].ID)+"/answers", map[string]any{
		"answers": map[string]any{"summary": ""},
	}, auth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "validation_failed" || envelope.Error.Details["field"] != "summary" {
		t.Fatalf("error envelope: %s", data)
	}
}

func TestLeaderboardIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/leaderboard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var entries []LeaderboardResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0].AccountID != "acc-1" {
		t.Fatalf("entries: %s", data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID: "key-1", Name: "scheduler", KeyHash: hashFor("sched-secret"),
	}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/runs/sweep", nil,
		map[string]string{"X-Api-Key": "sched-secret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/runs/sweep", nil,
		map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status %d", res.StatusCode)
	}
}

func TestEsignWebhookRecordsSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := sessionHeader(t)
	ctx := context.Background()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/agreements/import", map[string]any{
		"account_id": "acc-1", "frequency_days": 7,
	}, auth)
	srv.Engine.Repo.UpdateAgreement(ctx, "env-import", "2024-06-11T00:00:00Z", nil, nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/sweep", nil, auth)
	_, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/forms", nil, auth)
	var forms []FormResponse
	json.Unmarshal(data, &forms)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/forms/"+itoa(forms[0].ID)+"/answers", map[string]any{
		"answers": map[string]any{"summary": "Signed and sealed."},
	}, auth)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/dispatch", nil, auth)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/webhooks/esign", map[string]any{
		"event": "envelope-completed",
		"data":  map[string]any{"envelopeId": "sent-1"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("webhook status %d: %s", res.StatusCode, data)
	}
	form, err := srv.Engine.Repo.GetForm(ctx, forms[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if form.SignedAt == nil {
		t.Fatal("signature not recorded")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func hashFor(key string) string {
	return repo.HashAPIKey(key)
}
