package remoteapi

// Wire types mirror the upstream REST API.
// These are intentionally distinct from internal/model: the wire shape is
// the upstream service's contract and must tolerate upstream additions
// (unknown fields are simply ignored by encoding/json), while internal/model
// is this repository's own cached projection.

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type HeadPipeline struct {
	Status string `json:"status"`
}

type MergeRequest struct {
	ID           int64         `json:"id"`
	IID          int64         `json:"iid"`
	ProjectID    int64         `json:"project_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	State        string        `json:"state"`
	WebURL       string        `json:"web_url"`
	SourceBranch string        `json:"source_branch"`
	TargetBranch string        `json:"target_branch"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	MergedAt     *string       `json:"merged_at"`
	Author       User          `json:"author"`
	Labels       []string      `json:"labels"`
	Reviewers    []User        `json:"reviewers"`
	HeadPipeline *HeadPipeline `json:"head_pipeline"`
}

type MergeRequestApprovals struct {
	Approved          bool  `json:"approved"`
	ApprovalsRequired int64 `json:"approvals_required"`
	ApprovalsLeft     int64 `json:"approvals_left"`
	ApprovedBy        []struct {
		User User `json:"user"`
	} `json:"approved_by"`
}

type DiffVersionSummary struct {
	ID             int64  `json:"id"`
	HeadCommitSHA  string `json:"head_commit_sha"`
	BaseCommitSHA  string `json:"base_commit_sha"`
	StartCommitSHA string `json:"start_commit_sha"`
	CreatedAt      string `json:"created_at"`
}

type FileDiff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
	Diff        string `json:"diff"`
}

type DiffVersion struct {
	ID             int64      `json:"id"`
	HeadCommitSHA  string     `json:"head_commit_sha"`
	BaseCommitSHA  string     `json:"base_commit_sha"`
	StartCommitSHA string     `json:"start_commit_sha"`
	Diffs          []FileDiff `json:"diffs"`
}

type NotePosition struct {
	OldPath      *string `json:"old_path"`
	NewPath      *string `json:"new_path"`
	OldLine      *int64  `json:"old_line"`
	NewLine      *int64  `json:"new_line"`
	PositionType string  `json:"position_type"`
}

type Note struct {
	ID         int64  `json:"id"`
	Body       string `json:"body"`
	Author     User   `json:"author"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	System     bool   `json:"system"`
	Resolvable bool   `json:"resolvable"`
	Resolved   *bool  `json:"resolved"`
}

type DiscussionNote struct {
	ID         int64         `json:"id"`
	Body       string        `json:"body"`
	Author     User          `json:"author"`
	CreatedAt  string        `json:"created_at"`
	UpdatedAt  string        `json:"updated_at"`
	System     bool          `json:"system"`
	Resolvable bool          `json:"resolvable"`
	Resolved   *bool         `json:"resolved"`
	Position   *NotePosition `json:"position"`
}

type Discussion struct {
	ID    string           `json:"id"`
	Notes []DiscussionNote `json:"notes"`
}

type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	NameWithNamespace string `json:"name_with_namespace"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

type PipelineJob struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

// MergeRequestsQuery parameterizes the list-MRs endpoint.
// Empty-string fields are omitted from the querystring.
type MergeRequestsQuery struct {
	State            string
	Scope            string
	AuthorUsername   string
	ReviewerUsername string
	UpdatedAfter     string
	Page             int
	PerPage          int
}
