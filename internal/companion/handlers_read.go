package companion

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, apperror.NewInvalidInputField("must be an integer", name)
	}
	return id, nil
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.reader.ListInstances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]instanceDTO, 0, len(instances))
	for _, in := range instances {
		out = append(out, toInstanceDTO(in))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMergeRequests(w http.ResponseWriter, r *http.Request) {
	filter := cacheread.ListFilter{Search: r.URL.Query().Get("search")}

	if raw := r.URL.Query().Get("instanceId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeInvalidInput(w, "instanceId must be an integer")
			return
		}
		filter.InstanceID = &id
	}
	if state := r.URL.Query().Get("state"); state != "" && state != "all" {
		filter.State = model.ParseMergeRequestState(state)
	}

	mrs, err := s.reader.ListMergeRequests(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]mergeRequestDTO, 0, len(mrs))
	for _, mr := range mrs {
		out = append(out, toMergeRequestDTO(mr))
	}
	writeJSON(w, http.StatusOK, out)
}

type mergeRequestDetailDTO struct {
	MR             mergeRequestDTO `json:"mr"`
	DiffSummary    *diffSummaryDTO `json:"diffSummary,omitempty"`
	PendingActions []actionDTO     `json:"pendingActions"`
}

func (s *Server) handleGetMergeRequest(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	mr, err := s.reader.GetMergeRequest(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := mergeRequestDetailDTO{MR: toMergeRequestDTO(mr), PendingActions: []actionDTO{}}

	if diff, err := s.reader.GetDiff(r.Context(), mrID); err == nil {
		summary := toDiffSummaryDTO(diff)
		detail.DiffSummary = &summary
	} else if !apperror.Is(err, apperror.NotFound) {
		writeError(w, err)
		return
	}

	queued, err := s.queue.GetForMR(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range queued {
		if a.IsPending() || a.Status == model.StatusFailed {
			detail.PendingActions = append(detail.PendingActions, toActionDTO(a))
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := s.reader.ListDiffFiles(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]diffFileDTO, 0, len(files))
	for _, f := range files {
		out = append(out, diffFileDTO{
			ID:           f.ID,
			OldPath:      f.OldPath,
			NewPath:      f.NewPath,
			ChangeType:   string(f.ChangeType),
			Additions:    f.Additions,
			Deletions:    f.Deletions,
			FilePosition: f.FilePosition,
			IsLarge:      cacheread.IsLargeFile(f),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type hunksResponse struct {
	Hunks      []hunkDTO `json:"hunks"`
	HasMore    bool      `json:"hasMore"`
	TotalHunks int       `json:"totalHunks"`
}

// handleFileHunks serves GET /api/merge-requests/{id}/files/{path...} where
// the wildcard must end in /hunks: the file path itself may contain
// slashes, so the route is matched on the suffix rather than a fixed
// segment count.
func (s *Server) handleFileHunks(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	rest := r.PathValue("path")
	filePath, ok := strings.CutSuffix(rest, "/hunks")
	if !ok || filePath == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "no such endpoint"})
		return
	}

	files, err := s.reader.ListDiffFiles(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	var target *model.DiffFile
	for _, f := range files {
		if f.NewPath == filePath {
			target = f
			break
		}
	}
	if target == nil || target.DiffContent == nil {
		writeError(w, apperror.NewNotFoundWithID("DiffFile", filePath))
		return
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	window := cacheread.WindowHunks(cacheread.ParseHunks(*target.DiffContent), start, count)
	resp := hunksResponse{
		Hunks:      make([]hunkDTO, 0, len(window.Hunks)),
		HasMore:    window.HasMore,
		TotalHunks: window.TotalHunks,
	}
	for _, h := range window.Hunks {
		dto := hunkDTO{Header: h.Header, Lines: make([]hunkLineDTO, 0, len(h.Lines))}
		for _, l := range h.Lines {
			dto.Lines = append(dto.Lines, hunkLineDTO{
				OldLine: l.OldLine,
				NewLine: l.NewLine,
				Type:    string(l.Type),
				Content: l.Content,
			})
		}
		resp.Hunks = append(resp.Hunks, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// commentSyncStatus annotates a local comment with the state of its queued
// delivery, so the client can show pending/failed/discarded badges.
func (s *Server) commentSyncStatus(r *http.Request, comments []*model.Comment) map[int64]string {
	statuses := make(map[int64]string)
	for _, c := range comments {
		if !c.IsLocal {
			continue
		}
		queued, err := s.queue.GetForMR(r.Context(), c.MRID)
		if err != nil {
			return statuses
		}
		for _, a := range queued {
			if a.LocalReferenceID != nil && *a.LocalReferenceID == c.ID {
				statuses[c.ID] = string(a.Status)
			}
		}
		break // one GetForMR covers every comment on this MR
	}
	return statuses
}

func (s *Server) writeComments(w http.ResponseWriter, r *http.Request, comments []*model.Comment) {
	statuses := s.commentSyncStatus(r, comments)
	out := make([]commentDTO, 0, len(comments))
	for _, c := range comments {
		dto := toCommentDTO(c)
		if st, ok := statuses[c.ID]; ok {
			dto.SyncStatus = &st
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	comments, err := s.reader.ListComments(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeComments(w, r, comments)
}

func (s *Server) handleFileComments(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	filePath := r.URL.Query().Get("filePath")
	if filePath == "" {
		writeInvalidInput(w, "filePath query parameter is required")
		return
	}
	comments, err := s.reader.ListFileComments(r.Context(), mrID, filePath)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeComments(w, r, comments)
}

func (s *Server) handleReviewers(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	mr, err := s.reader.GetMergeRequest(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	reviewers := mr.Reviewers
	if reviewers == nil {
		reviewers = []string{}
	}
	writeJSON(w, http.StatusOK, reviewers)
}

type diffRefsDTO struct {
	BaseSHA  string `json:"baseSha"`
	HeadSHA  string `json:"headSha"`
	StartSHA string `json:"startSha"`
}

func (s *Server) handleDiffRefs(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	refs, err := s.reader.GetDiffRefs(r.Context(), mrID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diffRefsDTO{BaseSHA: refs.BaseSHA, HeadSHA: refs.HeadSHA, StartSHA: refs.StartSHA})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	var dto syncStatusDTO
	if s.engine != nil {
		st := s.engine.Status()
		dto = syncStatusDTO{
			IsSyncing:        st.IsSyncing,
			LastSyncTime:     st.LastSyncTime,
			LastError:        st.LastError,
			LastSyncMRCount:  st.LastSyncMRCount,
			CacheSizeBytes:   st.CacheSizeBytes,
			CacheSizeWarning: st.CacheSizeWarning,
		}
	}
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dto.PendingActions = counts.Pending
	dto.FailedActions = counts.Failed
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.engine != nil {
		s.engine.TriggerSync()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if s.bus == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Recent(count))
}

// handleGetSettings is read-only and redacts the PIN: a paired device can
// inspect the configuration but never recover the secret that admits new
// devices. The settings document is serialized as-is and the PIN deleted
// from the JSON, so newly-added settings fields reach the client without a
// DTO change while the redaction stays in one place.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := json.Marshal(s.settings.Settings())
	if err != nil {
		writeError(w, apperror.NewInternal("marshal settings: "+err.Error()))
		return
	}
	redacted, err := sjson.DeleteBytes(raw, "companionServer.pin")
	if err != nil {
		writeError(w, apperror.NewInternal("redact settings: "+err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(redacted)
}
