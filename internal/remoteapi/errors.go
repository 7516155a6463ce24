package remoteapi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

// extractBodyMessage sniffs {"message": "..."} or {"error": "..."} out of an
// arbitrary upstream JSON error body, using gjson rather than a fixed struct
// since the shape varies per endpoint (sometimes "message" is itself an
// object like {"base": ["msg"]}).
func extractBodyMessage(body []byte) string {
	if !json.Valid(body) {
		return ""
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		if msg.IsArray() || msg.IsObject() {
			return msg.Raw
		}
		return msg.String()
	}
	if errVal := gjson.GetBytes(body, "error"); errVal.Exists() {
		return errVal.String()
	}
	return ""
}

// classify turns a non-2xx HTTP response into the structured error
// taxonomy, consumed directly by the sync processor's discard/retry
// decision.
func classify(statusCode int, endpoint string, body []byte) *apperror.Error {
	bodyMsg := extractBodyMessage(body)
	lowerMsg := strings.ToLower(bodyMsg)

	switch statusCode {
	case 401:
		msg := bodyMsg
		if msg == "" {
			msg = "token expired or revoked"
		}
		return apperror.NewAuthenticationExpired(msg)
	case 403:
		if strings.Contains(lowerMsg, "merged") || strings.Contains(lowerMsg, "closed") {
			return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "MR is merged or closed"), statusCode, endpoint)
		}
		return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "access denied"), statusCode, endpoint)
	case 404:
		return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "resource not found"), statusCode, endpoint)
	case 405:
		return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "method not allowed: MR is not actionable in its current state"), statusCode, endpoint)
	case 400:
		if strings.Contains(lowerMsg, "position") || strings.Contains(lowerMsg, "line") || strings.Contains(lowerMsg, "outdated") {
			return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "comment position is outdated"), statusCode, endpoint)
		}
		return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "bad request"), statusCode, endpoint)
	case 429:
		return apperror.NewGitLabAPIFull(orDefault(bodyMsg, "rate limit exceeded"), statusCode, endpoint)
	default:
		msg := bodyMsg
		if msg == "" {
			msg = "request failed (" + strconv.Itoa(statusCode) + "): " + string(body)
		}
		return apperror.NewGitLabAPIFull(msg, statusCode, endpoint)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// IsDiscardable reports whether err indicates the target MR or comment
// position is permanently stale: the sync processor discards the action
// instead of retrying.
//
//   - 405, or 404, or 403-with-"merged"/"closed" body, or
//     400-with-"position"/"line"/"outdated" body -> discardable
//   - 429, 5xx, or transport errors -> never discardable
func IsDiscardable(err error) (reason string, discardable bool) {
	ae, ok := apperror.As(err)
	if !ok {
		return "", false
	}
	if ae.Kind == apperror.NotFound {
		return "MR was deleted or not accessible", true
	}
	if ae.Kind != apperror.GitLabAPI {
		return "", false
	}
	lower := strings.ToLower(ae.Message)
	switch ae.StatusCode {
	case 404:
		return "MR was deleted or not accessible", true
	case 405:
		return "MR was merged or closed", true
	case 403:
		if strings.Contains(lower, "merged") || strings.Contains(lower, "closed") {
			return "MR was merged or closed", true
		}
		return "", false
	case 400:
		if strings.Contains(lower, "position") || strings.Contains(lower, "line") || strings.Contains(lower, "outdated") {
			return "comment position no longer exists (line was deleted)", true
		}
		return "", false
	default:
		return "", false
	}
}

// IsTransient reports whether err is a retriable transport-level failure
// (timeouts, connect errors, 5xx) as opposed to a classified API error.
func IsTransient(err error) bool {
	ae, ok := apperror.As(err)
	if !ok {
		// No *apperror.Error at all means it never reached classify(): a
		// raw network/transport failure.
		return true
	}
	if ae.Kind == apperror.Network {
		return true
	}
	if ae.Kind == apperror.GitLabAPI && ae.StatusCode >= 500 {
		return true
	}
	return false
}
