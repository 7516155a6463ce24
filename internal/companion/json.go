package companion

import (
	"encoding/json"
	"net/http"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

// errorBody is the wire shape of every companion API error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			applog.Warn("companion: encode response: %v", err)
		}
	}
}

// writeError maps an error to the companion API's stable code vocabulary:
// NOT_FOUND, INVALID_INPUT, UNAUTHORIZED, INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	code := "INTERNAL_ERROR"
	status := http.StatusInternalServerError

	if ae, ok := apperror.As(err); ok {
		switch ae.Kind {
		case apperror.NotFound:
			code, status = "NOT_FOUND", http.StatusNotFound
		case apperror.InvalidInput, apperror.Sync:
			code, status = "INVALID_INPUT", http.StatusBadRequest
		case apperror.Authentication, apperror.AuthenticationExpired:
			code, status = "UNAUTHORIZED", http.StatusUnauthorized
		}
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: message})
}

func writeInvalidInput(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_INPUT", Message: message})
}

// Wire DTOs. The companion API speaks camelCase throughout; these are kept
// separate from internal/model so a model change doesn't silently change
// the web client's contract.

type instanceDTO struct {
	ID                    int64  `json:"id"`
	URL                   string `json:"url"`
	Name                  string `json:"name"`
	HasToken              bool   `json:"hasToken"`
	CreatedAt             int64  `json:"createdAt"`
	AuthenticatedUsername string `json:"authenticatedUsername"`
}

func toInstanceDTO(in *model.Instance) instanceDTO {
	return instanceDTO{
		ID:                    in.ID,
		URL:                   in.URL,
		Name:                  in.Name,
		HasToken:              in.HasToken,
		CreatedAt:             in.CreatedAt,
		AuthenticatedUsername: in.AuthenticatedUsername,
	}
}

type mergeRequestDTO struct {
	ID                int64    `json:"id"`
	InstanceID        int64    `json:"instanceId"`
	IID               int64    `json:"iid"`
	ProjectID         int64    `json:"projectId"`
	ProjectName       string   `json:"projectName"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	AuthorUsername    string   `json:"authorUsername"`
	SourceBranch      string   `json:"sourceBranch"`
	TargetBranch      string   `json:"targetBranch"`
	State             string   `json:"state"`
	WebURL            string   `json:"webUrl"`
	CreatedAt         int64    `json:"createdAt"`
	UpdatedAt         int64    `json:"updatedAt"`
	MergedAt          *int64   `json:"mergedAt,omitempty"`
	ApprovalStatus    *string  `json:"approvalStatus,omitempty"`
	ApprovalsRequired *int64   `json:"approvalsRequired,omitempty"`
	ApprovalsCount    *int64   `json:"approvalsCount,omitempty"`
	Labels            []string `json:"labels"`
	Reviewers         []string `json:"reviewers"`
	PipelineStatus    *string  `json:"pipelineStatus,omitempty"`
	CachedAt          int64    `json:"cachedAt"`
	UserHasApproved   bool     `json:"userHasApproved"`
}

func toMergeRequestDTO(mr *model.MergeRequest) mergeRequestDTO {
	var approvalStatus *string
	if mr.ApprovalStatus != nil {
		s := string(*mr.ApprovalStatus)
		approvalStatus = &s
	}
	labels := mr.Labels
	if labels == nil {
		labels = []string{}
	}
	reviewers := mr.Reviewers
	if reviewers == nil {
		reviewers = []string{}
	}
	return mergeRequestDTO{
		ID:                mr.ID,
		InstanceID:        mr.InstanceID,
		IID:               mr.IID,
		ProjectID:         mr.ProjectID,
		ProjectName:       mr.ProjectName,
		Title:             mr.Title,
		Description:       mr.Description,
		AuthorUsername:    mr.AuthorUsername,
		SourceBranch:      mr.SourceBranch,
		TargetBranch:      mr.TargetBranch,
		State:             string(mr.State),
		WebURL:            mr.WebURL,
		CreatedAt:         mr.CreatedAt,
		UpdatedAt:         mr.UpdatedAt,
		MergedAt:          mr.MergedAt,
		ApprovalStatus:    approvalStatus,
		ApprovalsRequired: mr.ApprovalsRequired,
		ApprovalsCount:    mr.ApprovalsCount,
		Labels:            labels,
		Reviewers:         reviewers,
		PipelineStatus:    mr.PipelineStatus,
		CachedAt:          mr.CachedAt,
		UserHasApproved:   mr.UserHasApproved,
	}
}

type diffSummaryDTO struct {
	BaseSHA   string `json:"baseSha"`
	HeadSHA   string `json:"headSha"`
	StartSHA  string `json:"startSha"`
	FileCount int64  `json:"fileCount"`
	Additions int64  `json:"additions"`
	Deletions int64  `json:"deletions"`
	CachedAt  int64  `json:"cachedAt"`
}

func toDiffSummaryDTO(d *model.Diff) diffSummaryDTO {
	return diffSummaryDTO{
		BaseSHA:   d.BaseSHA,
		HeadSHA:   d.HeadSHA,
		StartSHA:  d.StartSHA,
		FileCount: d.FileCount,
		Additions: d.Additions,
		Deletions: d.Deletions,
		CachedAt:  d.CachedAt,
	}
}

type diffFileDTO struct {
	ID           int64   `json:"id"`
	OldPath      *string `json:"oldPath,omitempty"`
	NewPath      string  `json:"newPath"`
	ChangeType   string  `json:"changeType"`
	Additions    int64   `json:"additions"`
	Deletions    int64   `json:"deletions"`
	FilePosition int64   `json:"filePosition"`
	IsLarge      bool    `json:"isLarge"`
}

type commentDTO struct {
	ID             int64   `json:"id"`
	MRID           int64   `json:"mrId"`
	DiscussionID   *string `json:"discussionId,omitempty"`
	ParentID       *int64  `json:"parentId,omitempty"`
	AuthorUsername string  `json:"authorUsername"`
	Body           string  `json:"body"`
	FilePath       *string `json:"filePath,omitempty"`
	OldLine        *int64  `json:"oldLine,omitempty"`
	NewLine        *int64  `json:"newLine,omitempty"`
	LineType       *string `json:"lineType,omitempty"`
	Resolved       bool    `json:"resolved"`
	Resolvable     bool    `json:"resolvable"`
	System         bool    `json:"system"`
	CreatedAt      int64   `json:"createdAt"`
	UpdatedAt      int64   `json:"updatedAt"`
	IsLocal        bool    `json:"isLocal"`
	SyncStatus     *string `json:"syncStatus,omitempty"`
}

func toCommentDTO(c *model.Comment) commentDTO {
	var lineType *string
	if c.LineType != nil {
		s := string(*c.LineType)
		lineType = &s
	}
	return commentDTO{
		ID:             c.ID,
		MRID:           c.MRID,
		DiscussionID:   c.DiscussionID,
		ParentID:       c.ParentID,
		AuthorUsername: c.AuthorUsername,
		Body:           c.Body,
		FilePath:       c.FilePath,
		OldLine:        c.OldLine,
		NewLine:        c.NewLine,
		LineType:       lineType,
		Resolved:       c.Resolved,
		Resolvable:     c.Resolvable,
		System:         c.System,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		IsLocal:        c.IsLocal,
	}
}

type actionDTO struct {
	ID               int64   `json:"id"`
	MRID             int64   `json:"mrId"`
	ActionType       string  `json:"actionType"`
	Status           string  `json:"status"`
	RetryCount       int64   `json:"retryCount"`
	LastError        *string `json:"lastError,omitempty"`
	LocalReferenceID *int64  `json:"localReferenceId,omitempty"`
	CreatedAt        int64   `json:"createdAt"`
	SyncedAt         *int64  `json:"syncedAt,omitempty"`
}

func toActionDTO(a *model.SyncAction) actionDTO {
	return actionDTO{
		ID:               a.ID,
		MRID:             a.MRID,
		ActionType:       string(a.ActionType),
		Status:           string(a.Status),
		RetryCount:       a.RetryCount,
		LastError:        a.LastError,
		LocalReferenceID: a.LocalReferenceID,
		CreatedAt:        a.CreatedAt,
		SyncedAt:         a.SyncedAt,
	}
}

type hunkLineDTO struct {
	OldLine *int64 `json:"oldLine,omitempty"`
	NewLine *int64 `json:"newLine,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type hunkDTO struct {
	Header string        `json:"header"`
	Lines  []hunkLineDTO `json:"lines"`
}

type syncStatusDTO struct {
	IsSyncing        bool    `json:"isSyncing"`
	LastSyncTime     *int64  `json:"lastSyncTime,omitempty"`
	LastError        *string `json:"lastError,omitempty"`
	LastSyncMRCount  int     `json:"lastSyncMrCount"`
	CacheSizeBytes   int64   `json:"cacheSizeBytes"`
	CacheSizeWarning bool    `json:"cacheSizeWarning"`
	PendingActions   int64   `json:"pendingActions"`
	FailedActions    int64   `json:"failedActions"`
}
