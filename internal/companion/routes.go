package companion

import (
	"net"
	"net/http"

	"github.com/ultragitlab/ultragitlab/internal/companionauth"
)

// routes builds the full handler tree: the unprotected /api/auth surface,
// the cookie-gated /api surface, and the static web client with its SPA
// fallthrough.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Unprotected auth surface.
	mux.HandleFunc("POST /api/auth/verify-pin", s.handleVerifyPIN)
	mux.HandleFunc("GET /api/auth/qr", s.handleQR)

	// Protected API.
	mux.Handle("GET /api/instances", s.requireAuth(s.handleListInstances))
	mux.Handle("GET /api/merge-requests", s.requireAuth(s.handleListMergeRequests))
	mux.Handle("GET /api/merge-requests/{id}", s.requireAuth(s.handleGetMergeRequest))
	mux.Handle("GET /api/merge-requests/{id}/files", s.requireAuth(s.handleListFiles))
	mux.Handle("GET /api/merge-requests/{id}/files/{path...}", s.requireAuth(s.handleFileHunks))
	mux.Handle("GET /api/merge-requests/{id}/comments", s.requireAuth(s.handleListComments))
	mux.Handle("GET /api/merge-requests/{id}/reviewers", s.requireAuth(s.handleReviewers))
	mux.Handle("GET /api/merge-requests/{id}/diff-refs", s.requireAuth(s.handleDiffRefs))
	mux.Handle("GET /api/merge-requests/{id}/file-comments", s.requireAuth(s.handleFileComments))

	mux.Handle("POST /api/merge-requests/{id}/approve", s.requireAuth(s.handleApprove))
	mux.Handle("POST /api/merge-requests/{id}/unapprove", s.requireAuth(s.handleUnapprove))
	mux.Handle("POST /api/merge-requests/{id}/comments", s.requireAuth(s.handleCreateComment))
	mux.Handle("POST /api/merge-requests/{id}/discussions/{discussionId}/reply", s.requireAuth(s.handleReply))
	mux.Handle("POST /api/merge-requests/{id}/discussions/{discussionId}/resolve", s.requireAuth(s.handleResolve))

	mux.Handle("GET /api/sync/status", s.requireAuth(s.handleSyncStatus))
	mux.Handle("POST /api/sync/trigger", s.requireAuth(s.handleSyncTrigger))
	mux.Handle("GET /api/events/recent", s.requireAuth(s.handleRecentEvents))
	mux.Handle("GET /api/settings", s.requireAuth(s.handleGetSettings))
	mux.Handle("POST /api/settings/pin", s.requireAuth(s.handleRegeneratePIN))

	// Any /api route not registered above is a JSON 404, not the SPA page.
	mux.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "no such endpoint"})
	}))

	// Everything else is the static web client; unknown paths fall through
	// to the SPA entry document so client-side routes survive a reload.
	mux.Handle("/", staticHandler())

	return mux
}

// requireAuth rejects any request without a valid session cookie.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(companionauth.CookieName)
		if err != nil || cookie.Value == "" {
			writeUnauthorized(w, "missing session token")
			return
		}
		deviceID, ok := s.auth.Sessions().DeviceForToken(cookie.Value)
		if !ok {
			writeUnauthorized(w, "invalid or expired session token")
			return
		}
		// A device no longer listed in settings (revoked, or cleared by a PIN
		// regeneration in another process) loses its session here.
		listed := false
		for _, d := range s.settings.Settings().CompanionServer.AuthorizedDevices {
			if d.DeviceID == deviceID {
				listed = true
				break
			}
		}
		if !listed {
			s.auth.Sessions().RevokeDevice(deviceID)
			writeUnauthorized(w, "invalid or expired session token")
			return
		}
		s.auth.TouchDevice(deviceID)
		next(w, r)
	})
}

// sourceIP extracts the client IP for rate limiting, stripping the port.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
