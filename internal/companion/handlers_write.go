package companion

import (
	"encoding/json"
	"net/http"

	"github.com/ultragitlab/ultragitlab/internal/companionauth"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.approval(w, r, false)
}

func (s *Server) handleUnapprove(w http.ResponseWriter, r *http.Request) {
	s.approval(w, r, true)
}

// approval applies the optimistic cache update and enqueues the action,
// then nudges the sync engine so the upstream round-trip starts before the
// client's next poll.
func (s *Server) approval(w http.ResponseWriter, r *http.Request, unapprove bool) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if unapprove {
		_, err = s.actions.Unapprove(r.Context(), mrID)
	} else {
		_, err = s.actions.Approve(r.Context(), mrID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createCommentRequest struct {
	Body     string  `json:"body"`
	FilePath *string `json:"filePath"`
	OldLine  *int64  `json:"oldLine"`
	NewLine  *int64  `json:"newLine"`
	LineType *string `json:"lineType"`
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "malformed request body")
		return
	}

	in := model.NewComment{
		MRID:     mrID,
		Body:     req.Body,
		FilePath: req.FilePath,
		OldLine:  req.OldLine,
		NewLine:  req.NewLine,
	}
	if req.LineType != nil {
		lt := model.ParseLineType(*req.LineType)
		in.LineType = &lt
	}

	comment, action, err := s.actions.CreateComment(r.Context(), in, s.authorUsername(r))
	if err != nil {
		writeError(w, err)
		return
	}

	dto := toCommentDTO(comment)
	st := string(action.Status)
	dto.SyncStatus = &st
	writeJSON(w, http.StatusCreated, dto)
}

type replyRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	discussionID := r.PathValue("discussionId")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "malformed request body")
		return
	}

	comment, action, err := s.actions.Reply(r.Context(), mrID, discussionID, req.Body, s.authorUsername(r))
	if err != nil {
		writeError(w, err)
		return
	}

	dto := toCommentDTO(comment)
	st := string(action.Status)
	dto.SyncStatus = &st
	writeJSON(w, http.StatusCreated, dto)
}

type resolveRequest struct {
	Resolved *bool `json:"resolved"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	mrID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	discussionID := r.PathValue("discussionId")

	// An empty body means resolve; {"resolved": false} unresolves.
	resolved := true
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Resolved != nil {
		resolved = *req.Resolved
	}

	if resolved {
		_, err = s.actions.Resolve(r.Context(), mrID, discussionID)
	} else {
		_, err = s.actions.Unresolve(r.Context(), mrID, discussionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type regeneratePINResponse struct {
	PIN string `json:"pin"`
}

// handleRegeneratePIN mints a fresh random 6-digit PIN, clearing every
// session and authorized device — including the caller's own.
func (s *Server) handleRegeneratePIN(w http.ResponseWriter, r *http.Request) {
	pin, err := companionauth.RandomPIN()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.auth.RegeneratePIN(pin); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regeneratePINResponse{PIN: pin})
}

// authorUsername resolves the username local writes are attributed to: the
// authenticated username of the first instance with one, since companion
// writes act on the desktop user's behalf.
func (s *Server) authorUsername(r *http.Request) string {
	instances, err := s.reader.ListInstances(r.Context())
	if err != nil {
		return "me"
	}
	for _, in := range instances {
		if in.AuthenticatedUsername != "" {
			return in.AuthenticatedUsername
		}
	}
	return "me"
}
