package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cachedb/cachedbtest"
	"github.com/ultragitlab/ultragitlab/internal/companionauth"
	"github.com/ultragitlab/ultragitlab/internal/config"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

const testPIN = "123456"

func newTestServer(t *testing.T) (*Server, *cachedb.DB) {
	t.Helper()
	db := cachedbtest.Open(t)
	cachedbtest.SeedInstance(t, db, 1, "https://gitlab.example.test")
	cachedbtest.SeedMergeRequest(t, db, 42, 1)

	settings, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if err := settings.Update(func(s *config.Settings) { s.CompanionServer.PIN = testPIN }); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	return New(db, settings, nil, eventbus.New()), db
}

// authToken pairs a test device and returns its session token.
func authToken(t *testing.T, s *Server) string {
	t.Helper()
	result, err := s.auth.VerifyPIN(context.Background(), "10.0.0.9", testPIN, "test device")
	if err != nil {
		t.Fatalf("verify pin: %v", err)
	}
	return result.Token
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.RemoteAddr = "10.0.0.9:51234"
	if token != "" {
		req.AddCookie(&http.Cookie{Name: companionauth.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestProtectedRouteWithoutCookieReturns401(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/merge-requests", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if body.Code != "UNAUTHORIZED" {
		t.Fatalf(`expected code "UNAUTHORIZED", got %q`, body.Code)
	}
}

func TestVerifyPINMintsSessionCookie(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/auth/verify-pin", "", verifyPINRequest{PIN: testPIN})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp verifyPINResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}

	cookies := rec.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == companionauth.CookieName && c.Value == resp.Token {
			found = true
			if c.MaxAge != int(companionauth.SessionTTL.Seconds()) {
				t.Fatalf("expected 30-day max-age, got %d", c.MaxAge)
			}
		}
	}
	if !found {
		t.Fatal("expected the token in a Set-Cookie")
	}

	// The minted token opens protected routes.
	rec = doRequest(t, s, http.MethodGet, "/api/merge-requests", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}

func TestVerifyPINRateLimit(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		rec := doRequest(t, s, http.MethodPost, "/api/auth/verify-pin", "", verifyPINRequest{PIN: "000000"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	// The 6th attempt gets 429 even with the correct PIN.
	rec := doRequest(t, s, http.MethodPost, "/api/auth/verify-pin", "", verifyPINRequest{PIN: testPIN})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 5 failures, got %d", rec.Code)
	}
}

func TestListMergeRequests(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	rec := doRequest(t, s, http.MethodGet, "/api/merge-requests?instanceId=1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var mrs []mergeRequestDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &mrs); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mrs) != 1 || mrs[0].ID != 42 {
		t.Fatalf("expected the seeded MR, got %+v", mrs)
	}
}

func TestGetMergeRequestNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	rec := doRequest(t, s, http.MethodGet, "/api/merge-requests/999", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != "NOT_FOUND" {
		t.Fatalf(`expected code "NOT_FOUND", got %q`, body.Code)
	}
}

func TestApproveQueuesActionAndUpdatesCache(t *testing.T) {
	s, db := newTestServer(t)
	token := authToken(t, s)
	ctx := context.Background()

	_, err := db.SQL().ExecContext(ctx, `
		UPDATE merge_requests SET approvals_count = 0, approvals_required = 1 WHERE id = 42`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/merge-requests/42/approve", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	actions, err := s.queue.GetForMR(ctx, 42)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(actions) != 1 || actions[0].ActionType != model.ActionApprove || actions[0].Status != model.StatusPending {
		t.Fatalf("expected one pending approve, got %+v", actions)
	}

	// The detail endpoint surfaces the pending action and the optimistic
	// approval.
	rec = doRequest(t, s, http.MethodGet, "/api/merge-requests/42", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail mergeRequestDetailDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("parse detail: %v", err)
	}
	if len(detail.PendingActions) != 1 {
		t.Fatalf("expected 1 pending action in detail, got %+v", detail.PendingActions)
	}
	if !detail.MR.UserHasApproved {
		t.Fatal("detail must reflect the optimistic approval")
	}
}

func TestCreateCommentReturnsLocalComment(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	rec := doRequest(t, s, http.MethodPost, "/api/merge-requests/42/comments", token,
		createCommentRequest{Body: "looks good"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var c commentDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ID >= 0 || !c.IsLocal {
		t.Fatalf("expected a local negative-id comment, got %+v", c)
	}
	if c.SyncStatus == nil || *c.SyncStatus != "pending" {
		t.Fatalf("expected pending sync status, got %v", c.SyncStatus)
	}
}

func TestFileHunksEndpoint(t *testing.T) {
	s, db := newTestServer(t)
	token := authToken(t, s)
	ctx := context.Background()

	diffContent := "@@ -1,2 +1,3 @@\n a\n+b\n c\n"
	_, err := db.SQL().ExecContext(ctx, `
		INSERT INTO diff_files (mr_id, old_path, new_path, change_type, additions, deletions, file_position, diff_content)
		VALUES (42, NULL, 'src/main.go', 'modified', 1, 0, 0, ?)`, diffContent)
	if err != nil {
		t.Fatalf("seed diff file: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/merge-requests/42/files/src/main.go/hunks?start=0&count=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp hunksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.TotalHunks != 1 || len(resp.Hunks) != 1 || resp.HasMore {
		t.Fatalf("unexpected window %+v", resp)
	}
	if len(resp.Hunks[0].Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(resp.Hunks[0].Lines))
	}
}

func TestSettingsEndpointRedactsPIN(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	rec := doRequest(t, s, http.MethodGet, "/api/settings", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), testPIN) {
		t.Fatal("settings response must not leak the PIN")
	}
	if !strings.Contains(rec.Body.String(), "intervalSecs") {
		t.Fatalf("expected sync settings in response, got %s", rec.Body.String())
	}
}

func TestQREndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/auth/qr", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("expected image/svg+xml, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Fatal("expected SVG content")
	}
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unknown /api routes must answer JSON, got %s", rec.Body.String())
	}
}

func TestSPAFallthrough(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/", "/auth", "/merge-requests/42"} {
		rec := doRequest(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<html") {
			t.Fatalf("%s: expected the SPA entry document", path)
		}
	}
}

func TestSyncStatusIncludesQueueCounts(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)
	ctx := context.Background()

	if _, err := s.actions.Approve(ctx, 42); err != nil {
		t.Fatalf("approve: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/sync/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status syncStatusDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if status.PendingActions != 1 {
		t.Fatalf("expected 1 pending action, got %+v", status)
	}
}

func TestResolveEndpointFlipsThread(t *testing.T) {
	s, db := newTestServer(t)
	token := authToken(t, s)
	ctx := context.Background()

	_, err := db.SQL().ExecContext(ctx, `
		INSERT INTO comments (id, mr_id, discussion_id, author_username, body, resolvable, created_at, updated_at, cached_at)
		VALUES (7, 42, 'disc-9', 'bob', 'why?', 1, 0, 0, 0)`)
	if err != nil {
		t.Fatalf("seed comment: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/merge-requests/42/discussions/disc-9/resolve", token,
		resolveRequest{})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	var resolved bool
	row := db.SQL().QueryRowContext(ctx, `SELECT resolved FROM comments WHERE id = 7`)
	if err := row.Scan(&resolved); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resolved {
		t.Fatal("resolve endpoint must optimistically resolve the thread")
	}

	actions, _ := s.queue.GetForMR(ctx, 42)
	if len(actions) != 1 || actions[0].ActionType != model.ActionResolve {
		t.Fatalf("expected a queued resolve, got %+v", actions)
	}
}

func TestRegeneratePINEndpointClearsSessions(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	rec := doRequest(t, s, http.MethodPost, "/api/settings/pin", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp regeneratePINResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(resp.PIN) != 6 {
		t.Fatalf("expected a 6-digit PIN, got %q", resp.PIN)
	}

	// The caller's own session died with the regeneration.
	rec = doRequest(t, s, http.MethodGet, "/api/merge-requests", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old session must be dead after PIN regeneration, got %d", rec.Code)
	}
}
