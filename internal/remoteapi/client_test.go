package remoteapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok"})
}

func TestListAllMergeRequestsFollowsAllPages(t *testing.T) {
	const totalPages = 3
	seen := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		pageStr := r.URL.Query().Get("page")
		if pageStr == "" {
			pageStr = "1"
		}
		page, _ := strconv.Atoi(pageStr)
		w.Header().Set("X-Page", pageStr)
		w.Header().Set("X-Total-Pages", fmt.Sprintf("%d", totalPages))
		if page < totalPages {
			w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
		}
		seen++
		w.Write([]byte(fmt.Sprintf(`[{"id":%d,"iid":1,"project_id":1}]`, page)))
	})

	mrs, err := c.ListAllMergeRequests(t.Context(), MergeRequestsQuery{State: "opened"})
	if err != nil {
		t.Fatalf("ListAllMergeRequests: %v", err)
	}
	if len(mrs) != totalPages {
		t.Fatalf("got %d merge requests, want %d", len(mrs), totalPages)
	}
	if seen != totalPages {
		t.Fatalf("server saw %d requests, want %d", seen, totalPages)
	}
}

func TestClassifyAuthenticationExpiredOn401(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"401 Unauthorized"}`))
	})

	_, err := c.ValidateToken(t.Context())
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperror.Is(err, apperror.AuthenticationExpired) {
		t.Errorf("expected AuthenticationExpired, got %v", err)
	}
}

func TestGetRawFileContentTreats404AsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	content, err := c.GetRawFileContent(t.Context(), 1, "missing.go", "abc123")
	if err != nil {
		t.Fatalf("expected no error for 404 raw file, got %v", err)
	}
	if len(content) != 0 {
		t.Errorf("expected empty content, got %q", content)
	}
}

func TestIsDiscardableCases(t *testing.T) {
	cases := []struct {
		name        string
		statusCode  int
		body        string
		discardable bool
	}{
		{"not_found", 404, `{"message":"404 Not Found"}`, true},
		{"method_not_allowed", 405, `{"message":"405 Method Not Allowed"}`, true},
		{"forbidden_merged", 403, `{"message":"Cannot approve: already merged"}`, true},
		{"forbidden_other", 403, `{"message":"insufficient permission"}`, false},
		{"bad_request_outdated_position", 400, `{"message":"position is outdated"}`, true},
		{"bad_request_other", 400, `{"message":"invalid body"}`, false},
		{"rate_limited", 429, `{"message":"too many requests"}`, false},
		{"server_error", 500, `{"message":"internal error"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.statusCode, "/test", []byte(tc.body))
			_, discardable := IsDiscardable(err)
			if discardable != tc.discardable {
				t.Errorf("IsDiscardable(%d) = %v, want %v", tc.statusCode, discardable, tc.discardable)
			}
		})
	}
}

func TestIsTransientCases(t *testing.T) {
	if !IsTransient(fmt.Errorf("raw transport error")) {
		t.Error("raw non-apperror should be transient")
	}
	if !IsTransient(apperror.NewNetwork("dial timeout")) {
		t.Error("Network kind should be transient")
	}
	if !IsTransient(classify(503, "/x", nil)) {
		t.Error("5xx should be transient")
	}
	if IsTransient(classify(404, "/x", nil)) {
		t.Error("404 should not be transient")
	}
}
